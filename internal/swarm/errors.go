package swarm

import "fmt"

// ValidationError marks malformed task or subtask input. Never retried,
// surfaced to the caller as-is.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// NoSuitableAgentsError means capability matching found zero eligible agents.
type NoSuitableAgentsError struct {
	Requirements []string
}

func (e *NoSuitableAgentsError) Error() string {
	return fmt.Sprintf("no suitable agents found for requirements %v", e.Requirements)
}

// Hint returns a remediation suggestion for the caller.
func (e *NoSuitableAgentsError) Hint() string {
	return "register agents whose category or tags overlap the task requirements, or relax the requirements"
}

// CommunicationError marks a channel or delivery failure. Delivery to other
// recipients is still attempted independently.
type CommunicationError struct {
	Op  string
	Err error
}

func (e *CommunicationError) Error() string {
	return fmt.Sprintf("communication failed during %s: %v", e.Op, e.Err)
}

func (e *CommunicationError) Unwrap() error { return e.Err }

// AuthorizationError marks a session ownership mismatch, rejected before any
// mutation.
type AuthorizationError struct {
	UserID    string
	SessionID string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("user %s is not the owner of session %s", e.UserID, e.SessionID)
}

// NotFoundError marks an unknown session, task or subtask id.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}
