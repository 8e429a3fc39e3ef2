package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/the13nth/perso-swarm/internal/swarm"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Agent directory
	mux.HandleFunc("GET /api/agents", s.listAgents)

	// Swarms
	mux.HandleFunc("GET /api/swarms", s.listSwarms)
	mux.HandleFunc("POST /api/swarms", s.createSwarm)
	mux.HandleFunc("GET /api/swarms/{id}", s.getSwarm)
	mux.HandleFunc("PUT /api/swarms/{id}/status", s.updateSwarmStatus)
	mux.HandleFunc("PATCH /api/swarms/{id}/subtasks/{subId}", s.updateSubTask)
	mux.HandleFunc("GET /api/swarms/{id}/health", s.getSwarmHealth)
	mux.HandleFunc("GET /api/swarms/{id}/messages", s.getSwarmMessages)
	mux.HandleFunc("DELETE /api/swarms/{id}", s.dissolveSwarm)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.directory.ListAgents(r.Context(), userID(r))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []swarm.AgentMetadata{}
	}
	jsonResponse(w, agents)
}

func (s *Server) listSwarms(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.orch.ListSessions(userID(r))
	if err != nil {
		domainError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, map[string]any{
			"session_id":    sess.SessionID,
			"status":        sess.Status,
			"task":          sess.Task.Description,
			"agents":        len(sess.ActiveAgents),
			"progress":      sess.Progress(),
			"created_at":    sess.CreatedAt,
			"last_activity": sess.LastActivity,
		})
	}
	jsonResponse(w, out)
}

func (s *Server) createSwarm(w http.ResponseWriter, r *http.Request) {
	var task swarm.ComplexTask
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	session, err := s.orch.FormSwarm(r.Context(), task, userID(r))
	if err != nil {
		domainError(w, err)
		return
	}
	jsonResponse(w, session)
}

func (s *Server) getSwarm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	uid := userID(r)

	session, err := s.orch.GetSession(id, uid)
	if err != nil {
		domainError(w, err)
		return
	}

	health, err := s.orch.MonitorSwarmHealth(id, uid)
	if err != nil {
		domainError(w, err)
		return
	}
	stats, err := s.orch.CommunicationStats(id, uid)
	if err != nil {
		domainError(w, err)
		return
	}

	jsonResponse(w, map[string]any{
		"session":  session,
		"progress": session.Progress(),
		"health":   health,
		"comms":    stats,
	})
}

func (s *Server) updateSwarmStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Status == "" {
		jsonError(w, "status is required", http.StatusBadRequest)
		return
	}

	session, err := s.orch.UpdateSessionStatus(r.Context(), id, userID(r), swarm.SessionStatus(body.Status))
	if err != nil {
		domainError(w, err)
		return
	}
	jsonResponse(w, session)
}

func (s *Server) updateSubTask(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	subID := r.PathValue("subId")

	var body struct {
		Status string          `json:"status"`
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Status == "" {
		jsonError(w, "status is required", http.StatusBadRequest)
		return
	}

	session, err := s.orch.UpdateSubTask(r.Context(), id, userID(r), subID, swarm.SubTaskStatus(body.Status), body.Result, body.Error)
	if err != nil {
		domainError(w, err)
		return
	}
	jsonResponse(w, map[string]any{
		"session":  session,
		"progress": session.Progress(),
	})
}

func (s *Server) getSwarmHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.orch.MonitorSwarmHealth(r.PathValue("id"), userID(r))
	if err != nil {
		domainError(w, err)
		return
	}
	jsonResponse(w, health)
}

func (s *Server) getSwarmMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	uid := userID(r)

	// Ownership check before exposing the durable log
	if _, err := s.orch.GetSession(id, uid); err != nil {
		domainError(w, err)
		return
	}

	messages, err := s.store.GetSessionMessages(id, 100)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, messages)
}

func (s *Server) dissolveSwarm(w http.ResponseWriter, r *http.Request) {
	session, err := s.orch.DissolveSwarm(r.Context(), r.PathValue("id"), userID(r))
	if err != nil {
		domainError(w, err)
		return
	}
	jsonResponse(w, map[string]any{
		"status":   "dissolved",
		"progress": session.Progress(),
		"results":  session.Results,
	})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)

	agents, _ := s.directory.ListAgents(r.Context(), uid)
	active, _ := s.store.ListSessionsByStatus(swarm.StatusActive)
	sessions, _ := s.store.ListSessions(uid)

	natsClients := 0
	if s.bus != nil {
		natsClients = s.bus.NumClients()
	}

	jsonResponse(w, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"uptime":        formatUptime(time.Since(s.startedAt)),
		"agents":        len(agents),
		"active_swarms": len(active),
		"user_swarms":   len(sessions),
		"nats_clients":  natsClients,
		"timestamp":     time.Now().UTC(),
	})
}

// domainError maps typed swarm errors onto HTTP status codes.
func domainError(w http.ResponseWriter, err error) {
	var (
		validation *swarm.ValidationError
		noAgents   *swarm.NoSuitableAgentsError
		authz      *swarm.AuthorizationError
		notFound   *swarm.NotFoundError
		comm       *swarm.CommunicationError
	)
	switch {
	case errors.As(err, &validation):
		jsonError(w, validation.Error(), http.StatusBadRequest)
	case errors.As(err, &authz):
		jsonError(w, authz.Error(), http.StatusForbidden)
	case errors.As(err, &notFound):
		jsonError(w, notFound.Error(), http.StatusNotFound)
	case errors.As(err, &noAgents):
		jsonError(w, noAgents.Hint(), http.StatusServiceUnavailable)
	case errors.As(err, &comm):
		jsonError(w, comm.Error(), http.StatusBadGateway)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
