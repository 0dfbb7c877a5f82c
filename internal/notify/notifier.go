// Package notify announces run completion through registered sinks. A log
// sink is always available; richer channels (Slack webhook) are registered
// when configured. Delivery failures never fail the run.
package notify

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/airactl/internal/domain"
)

// Sink delivers one notification message to a channel.
type Sink interface {
	Send(ctx context.Context, message string) error
}

// Registry is a named collection of sinks.
type Registry struct {
	sinks map[string]Sink
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{sinks: make(map[string]Sink)}
}

// Register adds a sink under the given name, replacing any previous one.
func (r *Registry) Register(name string, s Sink) {
	r.sinks[name] = s
}

// Get returns the sink for the given name, or false if not registered.
func (r *Registry) Get(name string) (Sink, bool) {
	s, ok := r.sinks[name]
	return s, ok
}

// RunFinished formats and fans out a run-completion notification to every
// registered sink. Per-sink failures are logged and swallowed.
func (r *Registry) RunFinished(ctx context.Context, runID string, status domain.RunStatus, summary string) {
	msg := formatRunFinished(runID, status, summary)
	for name, sink := range r.sinks {
		if err := sink.Send(ctx, msg); err != nil {
			log.Warn().Err(err).Str("sink", name).Str("run_id", runID).Msg("notify: send failed")
		}
	}
}

func formatRunFinished(runID string, status domain.RunStatus, summary string) string {
	switch status {
	case domain.RunStatusFailed:
		return fmt.Sprintf("run %s failed: %s", runID, summary)
	case domain.RunStatusCompleted:
		if summary != "" {
			return fmt.Sprintf("run %s completed: %s", runID, summary)
		}
		return fmt.Sprintf("run %s completed", runID)
	default:
		return fmt.Sprintf("run %s: %s", runID, status)
	}
}

// LogSink writes notifications to the structured log.
type LogSink struct{}

func (LogSink) Send(_ context.Context, message string) error {
	log.Info().Msg(message)
	return nil
}
