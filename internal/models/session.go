package models

import "time"

// Session lifecycle states.
const (
	StateAuthenticated    = "authenticated"
	StateAwaitingResponse = "awaiting_response"
	StateDispatching      = "dispatching"
	StateDrained          = "drained"
	StateClosed           = "closed"
)

// Session is the per-connector protocol context created at authentication.
type Session struct {
	ID                 string    `json:"id"`
	State              string    `json:"state"`
	LastDispatchedType string    `json:"last_dispatched_type,omitempty"`
	TotalJobs          int       `json:"total_jobs"`
	Remaining          int       `json:"remaining"`
	LastError          string    `json:"last_error,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Progress is a read-only view of how far a session has advanced.
type Progress struct {
	SessionID          string `json:"session_id"`
	State              string `json:"state"`
	TotalJobs          int    `json:"total_jobs"`
	Remaining          int    `json:"remaining"`
	PercentDone        int    `json:"percent_done"`
	LastDispatchedType string `json:"last_dispatched_type,omitempty"`
}

// PercentDone reports floor(100 * completed / total). An empty catalog counts as done.
func PercentDone(total, remaining int) int {
	if total <= 0 {
		return 100
	}
	if remaining < 0 {
		remaining = 0
	}
	if remaining > total {
		remaining = total
	}
	return (total - remaining) * 100 / total
}
