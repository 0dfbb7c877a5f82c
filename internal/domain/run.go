package domain

import "time"

type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether the status is final.
func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed
}

// ValidTransition checks if a run status change is allowed.
// Allowed: running->completed, running->failed. Terminal states never move.
func (s RunStatus) ValidTransition(to RunStatus) bool {
	return s == RunStatusRunning && to.Terminal()
}

// RunStatusFromWire maps a backend status string onto the local lifecycle.
// The backend reports "done" for successful completion; older deployments
// report "completed". Returns false for statuses with no local equivalent.
func RunStatusFromWire(s string) (RunStatus, bool) {
	switch s {
	case "running", "started":
		return RunStatusRunning, true
	case "done", "completed":
		return RunStatusCompleted, true
	case "failed", "error":
		return RunStatusFailed, true
	default:
		return "", false
	}
}

// Event is one message observed on a run's stream, kept in arrival order.
// Events are never mutated or removed once recorded.
type Event struct {
	Node    string         `json:"node"`
	TS      time.Time      `json:"ts"`
	OK      *bool          `json:"ok,omitempty"`
	Args    map[string]any `json:"args,omitempty"`
	Result  any            `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
	Content string         `json:"content,omitempty"`
}

// Run tracks one agent execution from start to terminal status.
type Run struct {
	ID         string    `json:"id"`
	Status     RunStatus `json:"status"`
	Events     []Event   `json:"events"`
	Summary    string    `json:"summary,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
}

// RunSummary is the list representation returned by GET /runs.
type RunSummary struct {
	RunID     string    `json:"run_id"`
	Objective string    `json:"objective"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// RunDetail is the full representation returned by GET /runs/<id>.
type RunDetail struct {
	RunID       string     `json:"run_id"`
	Objective   string     `json:"objective"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	HTML        string     `json:"html,omitempty"`
	Summary     string     `json:"summary,omitempty"`
	Error       string     `json:"error,omitempty"`
	Steps       int        `json:"steps"`
}

// Terminal reports whether the backend considers the run finished.
func (d *RunDetail) Terminal() bool {
	st, ok := RunStatusFromWire(d.Status)
	return ok && st.Terminal()
}
