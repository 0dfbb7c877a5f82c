// Package action projects raw stream messages into deduplicated tool-action
// records for display. The transport is at-least-once, so the same message
// may arrive multiple times; the composite action ID guarantees at-most-once
// materialization.
package action

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gosuda/airactl/internal/domain"
)

// Deriver consumes raw run messages and keeps one deduplicated action set
// per run, plus a "done" badge flag per run. The badge is independent of the
// run registry's lifecycle and only drives UI decoration.
type Deriver struct {
	mu      sync.Mutex
	actions map[string][]domain.Action   // run ID -> actions, arrival order
	seen    map[string]map[string]struct{} // run ID -> action ID set
	done    map[string]bool
}

// State is the JSON-serializable snapshot persisted as the messages blob.
type State struct {
	Actions map[string][]domain.Action `json:"actions"`
	Done    map[string]bool            `json:"done"`
}

// NewDeriver creates an empty Deriver.
func NewDeriver() *Deriver {
	return &Deriver{
		actions: make(map[string][]domain.Action),
		seen:    make(map[string]map[string]struct{}),
		done:    make(map[string]bool),
	}
}

// AddFromMessage consumes one raw stream message for the given run. It
// returns the materialized action and true when the message produced a new
// action; duplicates and non-actionable messages return false.
func (d *Deriver) AddFromMessage(runID string, raw map[string]any) (domain.Action, bool) {
	if runID == "" || raw == nil {
		return domain.Action{}, false
	}

	if status, _ := raw["status"].(string); status == "done" {
		d.mu.Lock()
		d.done[runID] = true
		d.mu.Unlock()
		return domain.Action{}, false
	}

	tool, phase := toolAndPhase(raw)
	if tool == "" {
		// Not a tool message; nothing to materialize.
		return domain.Action{}, false
	}

	payload := payloadFor(phase, raw)
	id := domain.ActionID(runID, tool, phase, domain.HashPayload(payload))

	act := domain.Action{
		ID:        id,
		RunID:     runID,
		Tool:      tool,
		Phase:     phase,
		OK:        okFor(phase, raw),
		Payload:   payload,
		StartedAt: time.Now(),
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	ids, ok := d.seen[runID]
	if !ok {
		ids = make(map[string]struct{})
		d.seen[runID] = ids
	}
	if _, dup := ids[id]; dup {
		return domain.Action{}, false
	}
	ids[id] = struct{}{}
	d.actions[runID] = append(d.actions[runID], act)
	return act, true
}

// Actions returns the run's actions newest-first.
func (d *Deriver) Actions(runID string) []domain.Action {
	d.mu.Lock()
	defer d.mu.Unlock()

	src := d.actions[runID]
	out := make([]domain.Action, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Done reports whether the run has signalled terminal completion on the
// stream. This is a display badge only; run lifecycle lives in the registry.
func (d *Deriver) Done(runID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.done[runID]
}

// Clear removes all actions and the done flag for one run.
func (d *Deriver) Clear(runID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.actions, runID)
	delete(d.seen, runID)
	delete(d.done, runID)
}

// ClearAll removes state for every run.
func (d *Deriver) ClearAll() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.actions = make(map[string][]domain.Action)
	d.seen = make(map[string]map[string]struct{})
	d.done = make(map[string]bool)
}

// Snapshot returns a deep copy of the current state for persistence.
func (d *Deriver) Snapshot() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	st := State{
		Actions: make(map[string][]domain.Action, len(d.actions)),
		Done:    make(map[string]bool, len(d.done)),
	}
	for runID, acts := range d.actions {
		cp := make([]domain.Action, len(acts))
		copy(cp, acts)
		st.Actions[runID] = cp
	}
	for runID, v := range d.done {
		st.Done[runID] = v
	}
	return st
}

// Restore replaces the deriver's state with a previously persisted snapshot.
func (d *Deriver) Restore(st State) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.actions = make(map[string][]domain.Action, len(st.Actions))
	d.seen = make(map[string]map[string]struct{}, len(st.Actions))
	d.done = make(map[string]bool, len(st.Done))

	for runID, acts := range st.Actions {
		cp := make([]domain.Action, len(acts))
		copy(cp, acts)
		d.actions[runID] = cp

		ids := make(map[string]struct{}, len(acts))
		for _, a := range acts {
			ids[a.ID] = struct{}{}
		}
		d.seen[runID] = ids
	}
	for runID, v := range st.Done {
		d.done[runID] = v
	}
}

// toolAndPhase derives the tool name and phase from explicit fields when
// present, otherwise from a colon-delimited node tag of shape
// tool:<name>:<phase>.
func toolAndPhase(raw map[string]any) (string, domain.ActionPhase) {
	if tool, _ := raw["tool"].(string); tool != "" {
		phaseStr, _ := raw["phase"].(string)
		return tool, domain.ParseActionPhase(phaseStr)
	}

	node, _ := raw["node"].(string)
	parts := strings.Split(node, ":")
	if len(parts) < 2 || parts[0] != "tool" || parts[1] == "" {
		return "", domain.ActionPhaseUnknown
	}
	if len(parts) >= 3 {
		return parts[1], domain.ParseActionPhase(parts[2])
	}
	return parts[1], domain.ActionPhaseUnknown
}

// payloadFor picks the payload field by phase: args/data for requests,
// data/result for responses, any of them when the phase is unknown.
func payloadFor(phase domain.ActionPhase, raw map[string]any) any {
	switch phase {
	case domain.ActionPhaseRequest:
		return firstNonNil(raw["args"], raw["data"])
	case domain.ActionPhaseResponse:
		return firstNonNil(raw["data"], raw["result"])
	default:
		return firstNonNil(raw["args"], raw["data"], raw["result"])
	}
}

// okFor reads the success flag for response-phase messages, defaulting true
// when absent.
func okFor(phase domain.ActionPhase, raw map[string]any) bool {
	if phase != domain.ActionPhaseResponse {
		return false
	}
	if ok, present := raw["ok"].(bool); present {
		return ok
	}
	return true
}

func firstNonNil(vals ...any) any {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
