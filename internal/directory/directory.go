package directory

import (
	"context"
	"fmt"

	"github.com/the13nth/perso-swarm/internal/config"
	"github.com/the13nth/perso-swarm/internal/store"
	"github.com/the13nth/perso-swarm/internal/swarm"
)

// Directory is the capability directory: yaml-declared agent definitions
// synced into the store and served read-only to the matcher.
type Directory struct {
	store  *store.Store
	agents map[string]config.AgentDefinition
}

func New(s *store.Store, agents map[string]config.AgentDefinition) *Directory {
	return &Directory{
		store:  s,
		agents: agents,
	}
}

// Sync persists the configured agent definitions and removes rows for
// definitions that no longer exist.
func (d *Directory) Sync() error {
	ids := make([]string, 0, len(d.agents))
	for id, def := range d.agents {
		ids = append(ids, id)

		a := &store.Agent{
			ID:          id,
			Name:        def.Name,
			Category:    def.Category,
			Tags:        def.Tags,
			Description: def.Description,
			Users:       def.Users,
		}
		if a.Name == "" {
			a.Name = id
		}

		if err := d.store.SaveAgent(a); err != nil {
			return fmt.Errorf("save agent %s: %w", id, err)
		}
	}

	if err := d.store.DeleteAgentsNotIn(ids); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}
	return nil
}

// ListAgents returns the agents available to a user, as capability metadata
// for the matcher. An agent with no user allowlist is available to everyone.
func (d *Directory) ListAgents(ctx context.Context, userID string) ([]swarm.AgentMetadata, error) {
	agents, err := d.store.ListAgents()
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	var out []swarm.AgentMetadata
	for _, a := range agents {
		if !availableTo(a, userID) {
			continue
		}
		out = append(out, swarm.AgentMetadata{
			AgentID:     a.ID,
			Name:        a.Name,
			Category:    a.Category,
			Tags:        a.Tags,
			Description: a.Description,
		})
	}
	return out, nil
}

func availableTo(a store.Agent, userID string) bool {
	if len(a.Users) == 0 {
		return true
	}
	for _, u := range a.Users {
		if u == userID {
			return true
		}
	}
	return false
}

// Get returns one directory entry, or nil when unknown.
func (d *Directory) Get(agentID string) (*store.Agent, error) {
	return d.store.GetAgent(agentID)
}
