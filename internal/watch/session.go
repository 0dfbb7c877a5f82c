package watch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/airactl/internal/action"
	"github.com/gosuda/airactl/internal/domain"
	"github.com/gosuda/airactl/internal/history"
	"github.com/gosuda/airactl/internal/notify"
	"github.com/gosuda/airactl/internal/runlog"
	"github.com/gosuda/airactl/internal/store/localdb"
)

// Session wires one watched run into the client's state: stream messages
// land in the run registry, the action deriver, and the conversation ledger,
// and a terminal message finalizes all three. One session per run at a time;
// starting a new one tears the previous one down.
type Session struct {
	streamURL string
	fetch     StatusFetcher
	registry  *runlog.Registry
	actions   *action.Deriver
	ledger    *history.Ledger
	notifier  *notify.Registry
	blobs     history.BlobStore // messages snapshot target; nil disables
	opts      Options

	mu      sync.Mutex
	watcher *Watcher
	runID   string // current id, promoted in place
	turnID  string // initial (possibly provisional) ledger key
}

// NewSession creates a session over the given state containers. notifier and
// blobs may be nil.
func NewSession(
	streamURL string,
	fetch StatusFetcher,
	registry *runlog.Registry,
	actions *action.Deriver,
	ledger *history.Ledger,
	notifier *notify.Registry,
	blobs history.BlobStore,
	opts Options,
) *Session {
	return &Session{
		streamURL: streamURL,
		fetch:     fetch,
		registry:  registry,
		actions:   actions,
		ledger:    ledger,
		notifier:  notifier,
		blobs:     blobs,
		opts:      opts,
	}
}

// Start begins a new run under a provisional ID and watches it. The returned
// ID is the provisional one; the server's real ID replaces it transparently
// once announced. Blocks until the run reaches a terminal state or ctx is
// cancelled.
func (s *Session) Start(ctx context.Context, projectID, objective string) (string, error) {
	tempID := "tmp-" + uuid.NewString()

	s.registry.StartRun(tempID)
	s.ledger.CreateTurn(tempID, objective, projectID)

	opts := s.opts
	opts.Handshake = map[string]string{"objective": objective, "project_id": projectID}
	return tempID, s.watch(ctx, tempID, tempID, opts)
}

// Attach watches an existing run without creating a ledger turn.
func (s *Session) Attach(ctx context.Context, runID string) error {
	s.registry.StartRun(runID)
	return s.watch(ctx, runID, "", s.opts)
}

// Close tears down the active watcher, if any.
func (s *Session) Close() {
	s.mu.Lock()
	w := s.watcher
	s.mu.Unlock()

	if w != nil {
		w.Close()
	}
}

func (s *Session) watch(ctx context.Context, runID, turnID string, opts Options) error {
	s.mu.Lock()
	if prev := s.watcher; prev != nil {
		prev.Close()
	}
	s.runID = runID
	s.turnID = turnID

	w := New(s.streamURL, runID, s.fetch, Callbacks{
		OnStarted: s.onStarted,
		OnStep:    s.onStep,
		OnFinal:   s.onFinal,
	}, opts)
	s.watcher = w
	s.mu.Unlock()

	return w.Run(ctx)
}

// onStarted promotes the provisional identifiers to the server-assigned run
// ID across every store.
func (s *Session) onStarted(realID string) {
	s.mu.Lock()
	oldID := s.runID
	s.runID = realID
	turnID := s.turnID
	s.mu.Unlock()

	if oldID == realID {
		return
	}

	s.registry.UpgradeRunID(oldID, realID)
	if turnID != "" {
		s.ledger.PromoteTurn(turnID, realID)
	}
	log.Debug().Str("old", oldID).Str("new", realID).Msg("session: run id promoted")
}

// onStep records the message as an event and, when it describes a tool call,
// as a deduplicated action on the current turn.
func (s *Session) onStep(msg map[string]any) {
	s.mu.Lock()
	runID := s.runID
	turnID := s.turnID
	s.mu.Unlock()

	s.registry.PushEvent(runID, eventFromMessage(msg))

	if act, added := s.actions.AddFromMessage(runID, msg); added {
		if turnID != "" {
			s.ledger.AppendAction(turnID, act)
		}
		s.saveMessages()
	}
}

// onFinal settles the run and its turn, then announces the outcome.
func (s *Session) onFinal(msg map[string]any) {
	s.mu.Lock()
	runID := s.runID
	turnID := s.turnID
	s.mu.Unlock()

	errText := errorText(msg)
	summary, _ := msg["summary"].(string)

	// A terminal message can report failure through its status field alone,
	// with no error text attached.
	wireStatus, _ := msg["status"].(string)
	st, known := domain.RunStatusFromWire(wireStatus)
	failed := errText != "" || (known && st == domain.RunStatusFailed)

	var status domain.RunStatus
	if failed {
		status = domain.RunStatusFailed
		failText := errText
		if failText == "" {
			failText = summary
		}
		s.registry.FailRun(runID, failText)
		if turnID != "" {
			if failText != "" {
				s.ledger.SetAgentTextOnce(turnID, failText)
			}
			s.ledger.FinalizeTurn(turnID, false)
		}
	} else {
		status = domain.RunStatusCompleted
		s.registry.FinishRun(runID, summary)
		if turnID != "" {
			if summary != "" {
				s.ledger.SetAgentTextOnce(turnID, summary)
			}
			s.ledger.FinalizeTurn(turnID, true)
		}
	}

	s.actions.AddFromMessage(runID, msg) // records the done badge
	s.saveMessages()

	if s.notifier != nil {
		summaryText := summary
		if errText != "" {
			summaryText = errText
		}
		s.notifier.RunFinished(context.Background(), runID, status, summaryText)
	}
}

// saveMessages persists the action deriver snapshot as the messages blob.
func (s *Session) saveMessages() {
	if s.blobs == nil {
		return
	}
	data, err := json.Marshal(s.actions.Snapshot())
	if err != nil {
		log.Error().Err(err).Msg("session: encode messages snapshot")
		return
	}
	if err := s.blobs.Put(context.Background(), localdb.BlobMessages, data); err != nil {
		log.Error().Err(err).Msg("session: persist messages snapshot")
	}
}

// eventFromMessage normalizes a raw stream message into an event record.
func eventFromMessage(msg map[string]any) domain.Event {
	ev := domain.Event{}
	ev.Node, _ = msg["node"].(string)
	if ev.Node == "" {
		if t, _ := msg["type"].(string); t != "" {
			ev.Node = t
		}
	}
	if raw, ok := msg["ts"].(string); ok {
		if ts, err := time.Parse(time.RFC3339, raw); err == nil {
			ev.TS = ts
		}
	}
	if ok, present := msg["ok"].(bool); present {
		ev.OK = &ok
	}
	if args, ok := msg["args"].(map[string]any); ok {
		ev.Args = args
	}
	ev.Result = msg["result"]
	ev.Error = errorText(msg)
	ev.Content, _ = msg["content"].(string)
	return ev
}

func errorText(msg map[string]any) string {
	switch v := msg["error"].(type) {
	case string:
		return v
	case map[string]any:
		if m, ok := v["message"].(string); ok {
			return m
		}
	}
	return ""
}
