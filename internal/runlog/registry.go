// Package runlog tracks the lifecycle of agent runs observed by this client:
// status, the append-only event log, and the final summary.
package runlog

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/airactl/internal/domain"
)

// Registry is the authoritative map of run ID to run state. All operations
// targeting an unknown run are silent no-ops: streams routinely outlive
// interest in a run, and late events must never fault the client.
type Registry struct {
	mu     sync.Mutex
	runs   map[string]*domain.Run
	active string // most recently started run
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]*domain.Run)}
}

// StartRun creates a run in running state with an empty event log and marks
// it active. Starting an already-known ID is a no-op so that a duplicate
// start can never clobber accumulated events.
func (r *Registry) StartRun(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.runs[id]; ok {
		log.Debug().Str("run_id", id).Msg("runlog: start for known run ignored")
		return
	}

	r.runs[id] = &domain.Run{
		ID:        id,
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now(),
	}
	r.active = id
}

// PushEvent appends an event to the run's log. The timestamp defaults to
// arrival time when the payload carried none.
func (r *Registry) PushEvent(id string, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now()
	}
	run.Events = append(run.Events, ev)
}

// FinishRun transitions running -> completed and records the summary.
// Idempotent: terminal and unknown runs are untouched.
func (r *Registry) FinishRun(id, summary string) {
	r.finish(id, domain.RunStatusCompleted, summary)
}

// FailRun transitions running -> failed. The error text becomes the
// user-visible summary.
func (r *Registry) FailRun(id, errText string) {
	r.finish(id, domain.RunStatusFailed, errText)
}

func (r *Registry) finish(id string, to domain.RunStatus, summary string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || !run.Status.ValidTransition(to) {
		return
	}
	run.Status = to
	run.Summary = summary
	run.FinishedAt = time.Now()
}

// UpgradeRunID atomically moves all run state from oldID to newID and removes
// oldID, so a server-assigned ID replaces a client provisional one without
// losing events. No-op when oldID is absent. When newID already exists the
// move is skipped rather than overwriting recorded events.
func (r *Registry) UpgradeRunID(oldID, newID string) {
	if oldID == newID {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[oldID]
	if !ok {
		return
	}
	if _, exists := r.runs[newID]; exists {
		log.Debug().Str("old", oldID).Str("new", newID).Msg("runlog: upgrade target exists, keeping both")
		return
	}

	delete(r.runs, oldID)
	run.ID = newID
	r.runs[newID] = run
	if r.active == oldID {
		r.active = newID
	}
}

// AppendSummaryOnce sets the run summary only when it differs from the
// current value. It never touches the event log, so redelivered identical
// summaries are complete no-ops.
func (r *Registry) AppendSummaryOnce(id, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok || run.Summary == text {
		return
	}
	run.Summary = text
}

// Get returns a copy of the run.
func (r *Registry) Get(id string) (domain.Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return domain.Run{}, false
	}
	return copyRun(run), true
}

// Events returns a copy of the run's event log, in arrival order.
func (r *Registry) Events(id string) []domain.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return nil
	}
	events := make([]domain.Event, len(run.Events))
	copy(events, run.Events)
	return events
}

// Active returns the most recently started run, if it is still known.
func (r *Registry) Active() (domain.Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[r.active]
	if !ok {
		return domain.Run{}, false
	}
	return copyRun(run), true
}

// AnyRunning reports whether any known run is still in running state.
func (r *Registry) AnyRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, run := range r.runs {
		if run.Status == domain.RunStatusRunning {
			return true
		}
	}
	return false
}

func copyRun(run *domain.Run) domain.Run {
	out := *run
	out.Events = make([]domain.Event, len(run.Events))
	copy(out.Events, run.Events)
	return out
}
