package domain

import (
	"fmt"
	"time"
)

type ActionPhase string

const (
	ActionPhaseRequest  ActionPhase = "request"
	ActionPhaseResponse ActionPhase = "response"
	ActionPhaseUnknown  ActionPhase = "unknown"
)

// ParseActionPhase normalizes a phase string; anything unrecognized is unknown.
func ParseActionPhase(s string) ActionPhase {
	switch s {
	case "request", "req":
		return ActionPhaseRequest
	case "response", "res", "resp":
		return ActionPhaseResponse
	default:
		return ActionPhaseUnknown
	}
}

// Action is the deduplicated projection of one tool request or response
// observed on a run's stream. The ID embeds a payload fingerprint so that a
// redelivered message with the same normalized payload maps to the same ID.
type Action struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	Tool      string      `json:"tool"`
	Phase     ActionPhase `json:"phase"`
	OK        bool        `json:"ok"`
	Payload   any         `json:"payload,omitempty"`
	StartedAt time.Time   `json:"started_at"`
}

// ActionID builds the composite dedup key for an action.
func ActionID(runID, tool string, phase ActionPhase, payloadHash uint32) string {
	return fmt.Sprintf("%s|%s|%s|%08x", runID, tool, phase, payloadHash)
}

// ActionPatch holds partial updates applied to a recorded action.
// Nil fields are left untouched.
type ActionPatch struct {
	OK        *bool
	Payload   any
	StartedAt *time.Time
}
