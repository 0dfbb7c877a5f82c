package domain

import "time"

type TurnPhase string

const (
	TurnPhaseRunning   TurnPhase = "running"
	TurnPhaseCompleted TurnPhase = "completed"
	TurnPhaseFailed    TurnPhase = "failed"
)

// Terminal reports whether the phase is final.
func (p TurnPhase) Terminal() bool {
	return p == TurnPhaseCompleted || p == TurnPhaseFailed
}

// Turn is one user request and its full agent response lifecycle, persisted
// in the local conversation ledger. A turn may be created under a client
// provisional ID and later carry a server-assigned ID; the ledger keeps an
// alias so either resolves.
type Turn struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"project_id"`
	UserText      string    `json:"user_text"`
	AgentText     string    `json:"agent_text,omitempty"`
	AgentTextHash uint32    `json:"agent_text_hash,omitempty"`
	Actions       []Action  `json:"actions"`
	Phase         TurnPhase `json:"phase"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
