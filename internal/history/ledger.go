// Package history is the durable, project-scoped conversation ledger: one
// turn per user request, each owning the tool actions observed while the
// agent worked on it. Turns survive restarts through the local blob store.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/airactl/internal/domain"
	"github.com/gosuda/airactl/internal/store/localdb"
)

// BlobStore is the slice of localdb the ledger needs.
type BlobStore interface {
	Put(ctx context.Context, name string, value []byte) error
	Get(ctx context.Context, name string) ([]byte, error)
}

// Ledger holds conversation turns keyed by ID with a recency order and an
// alias map from provisional IDs to their server-assigned replacements.
// Every mutating operation resolves its turn ID through the alias map first,
// so callers holding a provisional ID keep working after promotion.
type Ledger struct {
	mu    sync.Mutex
	turns map[string]*domain.Turn
	order []string          // most recent first
	alias map[string]string // provisional ID -> promoted ID
	blobs BlobStore         // nil = in-memory only
}

// ledgerState is the JSON shape persisted as the history blob.
type ledgerState struct {
	Turns map[string]*domain.Turn `json:"turns"`
	Order []string                `json:"order"`
	Alias map[string]string       `json:"alias"`
}

// NewLedger creates an empty ledger. A nil blob store disables persistence.
// Construction never reads storage; call Load to rehydrate.
func NewLedger(blobs BlobStore) *Ledger {
	return &Ledger{
		turns: make(map[string]*domain.Turn),
		order: nil,
		alias: make(map[string]string),
		blobs: blobs,
	}
}

// Load rehydrates the ledger from the history blob. Loading is an explicit
// step so callers control when stored state becomes visible. A missing blob
// leaves the ledger empty.
func (l *Ledger) Load(ctx context.Context) error {
	if l.blobs == nil {
		return nil
	}

	data, err := l.blobs.Get(ctx, localdb.BlobHistory)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("history.Ledger.Load: %w", err)
	}

	var st ledgerState
	if err := json.Unmarshal(data, &st); err != nil {
		return fmt.Errorf("history.Ledger.Load: decode: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.turns = st.Turns
	l.order = st.Order
	l.alias = st.Alias
	if l.turns == nil {
		l.turns = make(map[string]*domain.Turn)
	}
	if l.alias == nil {
		l.alias = make(map[string]string)
	}
	return nil
}

// CreateTurn inserts a new running turn at the head of the recency order.
func (l *Ledger) CreateTurn(id, userText, projectID string) {
	l.mu.Lock()

	if _, exists := l.turns[l.resolve(id)]; exists {
		l.mu.Unlock()
		return
	}

	now := time.Now()
	l.turns[id] = &domain.Turn{
		ID:        id,
		ProjectID: projectID,
		UserText:  userText,
		Phase:     domain.TurnPhaseRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	l.order = append([]string{id}, l.order...)
	l.mu.Unlock()

	l.save()
}

// PromoteTurn renames a turn from its provisional ID to the server-assigned
// one, preserving all accumulated fields and its position in the recency
// order, and records the alias so later calls under either ID resolve to the
// same turn.
func (l *Ledger) PromoteTurn(tempID, realID string) {
	if tempID == realID {
		return
	}

	l.mu.Lock()

	src := l.resolve(tempID)
	turn, ok := l.turns[src]
	if !ok {
		l.mu.Unlock()
		return
	}

	delete(l.turns, src)
	turn.ID = realID
	turn.UpdatedAt = time.Now()
	l.turns[realID] = turn
	l.alias[tempID] = realID

	for i, id := range l.order {
		if id == src {
			l.order[i] = realID
			break
		}
	}
	l.mu.Unlock()

	l.save()
}

// AppendAction adds an action to the turn and keeps the turn's action list
// sorted by start time ascending (stable for ties). No-op if the turn is
// absent.
func (l *Ledger) AppendAction(turnID string, act domain.Action) {
	l.mu.Lock()

	turn, ok := l.turns[l.resolve(turnID)]
	if !ok {
		l.mu.Unlock()
		return
	}

	turn.Actions = append(turn.Actions, act)
	sort.SliceStable(turn.Actions, func(i, j int) bool {
		return turn.Actions[i].StartedAt.Before(turn.Actions[j].StartedAt)
	})
	turn.UpdatedAt = time.Now()
	l.mu.Unlock()

	l.save()
}

// PatchAction merges partial fields into the matching action. No-op if the
// turn or action is absent.
func (l *Ledger) PatchAction(turnID, actionID string, patch domain.ActionPatch) {
	l.mu.Lock()

	turn, ok := l.turns[l.resolve(turnID)]
	if !ok {
		l.mu.Unlock()
		return
	}

	patched := false
	for i := range turn.Actions {
		if turn.Actions[i].ID != actionID {
			continue
		}
		if patch.OK != nil {
			turn.Actions[i].OK = *patch.OK
		}
		if patch.Payload != nil {
			turn.Actions[i].Payload = patch.Payload
		}
		if patch.StartedAt != nil {
			turn.Actions[i].StartedAt = *patch.StartedAt
		}
		patched = true
		break
	}
	if patched {
		turn.UpdatedAt = time.Now()
	}
	l.mu.Unlock()

	if patched {
		l.save()
	}
}

// SetAgentTextOnce records the agent's final answer, guarded by a content
// hash: redelivered identical answers are no-ops.
func (l *Ledger) SetAgentTextOnce(turnID, text string) {
	l.mu.Lock()

	turn, ok := l.turns[l.resolve(turnID)]
	if !ok {
		l.mu.Unlock()
		return
	}

	h := domain.HashText(text)
	if turn.AgentTextHash == h {
		l.mu.Unlock()
		return
	}

	turn.AgentText = text
	turn.AgentTextHash = h
	turn.UpdatedAt = time.Now()
	l.mu.Unlock()

	l.save()
}

// FinalizeTurn transitions the turn to completed or failed. No-op if the
// turn is absent or already terminal.
func (l *Ledger) FinalizeTurn(turnID string, ok bool) {
	l.mu.Lock()

	turn, found := l.turns[l.resolve(turnID)]
	if !found || turn.Phase.Terminal() {
		l.mu.Unlock()
		return
	}

	if ok {
		turn.Phase = domain.TurnPhaseCompleted
	} else {
		turn.Phase = domain.TurnPhaseFailed
	}
	turn.UpdatedAt = time.Now()
	l.mu.Unlock()

	l.save()
}

// Turn returns a copy of the turn under either its current or any promoted-
// away ID.
func (l *Ledger) Turn(id string) (domain.Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	turn, ok := l.turns[l.resolve(id)]
	if !ok {
		return domain.Turn{}, false
	}
	return copyTurn(turn), true
}

// TurnsByProject returns the project's turns in descending recency order.
func (l *Ledger) TurnsByProject(projectID string) []domain.Turn {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []domain.Turn
	for _, id := range l.order {
		turn, ok := l.turns[id]
		if !ok || turn.ProjectID != projectID {
			continue
		}
		out = append(out, copyTurn(turn))
	}
	return out
}

// ClearProjectTurns removes all turns belonging to a project together with
// their order entries and aliases.
func (l *Ledger) ClearProjectTurns(projectID string) {
	l.mu.Lock()

	removed := make(map[string]struct{})
	for id, turn := range l.turns {
		if turn.ProjectID == projectID {
			removed[id] = struct{}{}
			delete(l.turns, id)
		}
	}

	order := l.order[:0]
	for _, id := range l.order {
		if _, gone := removed[id]; !gone {
			order = append(order, id)
		}
	}
	l.order = order

	for from, to := range l.alias {
		if _, gone := removed[to]; gone {
			delete(l.alias, from)
		}
	}
	l.mu.Unlock()

	l.save()
}

// resolve follows the alias map to the turn's current key. Called with
// l.mu held.
func (l *Ledger) resolve(id string) string {
	seen := 0
	for {
		next, ok := l.alias[id]
		if !ok || seen > len(l.alias) {
			return id
		}
		id = next
		seen++
	}
}

// save persists a snapshot of the ledger to the history blob. Persistence
// failures are logged, never propagated: the in-memory ledger stays the
// source of truth for the session.
func (l *Ledger) save() {
	if l.blobs == nil {
		return
	}

	l.mu.Lock()
	st := ledgerState{
		Turns: make(map[string]*domain.Turn, len(l.turns)),
		Order: append([]string(nil), l.order...),
		Alias: make(map[string]string, len(l.alias)),
	}
	for id, turn := range l.turns {
		cp := copyTurn(turn)
		st.Turns[id] = &cp
	}
	for from, to := range l.alias {
		st.Alias[from] = to
	}
	l.mu.Unlock()

	data, err := json.Marshal(st)
	if err != nil {
		log.Error().Err(err).Msg("history: encode snapshot")
		return
	}
	if err := l.blobs.Put(context.Background(), localdb.BlobHistory, data); err != nil {
		log.Error().Err(err).Msg("history: persist snapshot")
	}
}

func copyTurn(turn *domain.Turn) domain.Turn {
	out := *turn
	out.Actions = make([]domain.Action, len(turn.Actions))
	copy(out.Actions, turn.Actions)
	return out
}
