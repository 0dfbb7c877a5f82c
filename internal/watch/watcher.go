// Package watch manages the live connection to one agent run: a WebSocket
// stream with exponential-backoff reconnection, degrading to REST polling
// once reconnection is exhausted.
package watch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gosuda/airactl/internal/domain"
)

// State enumerates the watcher's connection lifecycle.
type State string

const (
	StateIdle         State = "idle"
	StateConnecting   State = "connecting"
	StateOpen         State = "open"
	StateReconnecting State = "reconnecting"
	StatePolling      State = "polling"
	StateDone         State = "done"
	StateClosed       State = "closed"
)

// StatusFetcher resolves a run's current status over REST. Satisfied by
// api.Client.
type StatusFetcher interface {
	GetRun(ctx context.Context, id string) (*domain.RunDetail, error)
}

// Callbacks receive the watcher's interpreted messages. All callbacks fire
// from the watcher's goroutine and are suppressed after teardown.
type Callbacks struct {
	// OnStarted fires when the server assigns the run its real ID.
	OnStarted func(runID string)
	// OnStep fires for every intermediate message.
	OnStep func(msg map[string]any)
	// OnFinal fires at most once, with the terminal message (or a synthesized
	// one when completion was observed through polling).
	OnFinal func(msg map[string]any)
}

// Options tune the reconnect/poll behavior. Zero values take the defaults.
type Options struct {
	// Backoff is the reconnect delay schedule; the last entry repeats.
	Backoff []time.Duration
	// MaxReconnects bounds reconnect attempts before degrading to polling.
	MaxReconnects int
	PollInterval  time.Duration
	PollCeiling   time.Duration
	// Handshake holds extra fields merged into the subscribe message, next
	// to the run ID. Servers ignore fields they do not know.
	Handshake map[string]string
}

func (o *Options) withDefaults() {
	if len(o.Backoff) == 0 {
		o.Backoff = []time.Duration{500 * time.Millisecond, time.Second, 2 * time.Second, 5 * time.Second}
	}
	if o.MaxReconnects == 0 {
		o.MaxReconnects = 5
	}
	if o.PollInterval == 0 {
		o.PollInterval = time.Second
	}
	if o.PollCeiling == 0 {
		o.PollCeiling = 60 * time.Second
	}
}

// Watcher drives the stream for one run. Exactly one Watcher should be live
// per run ID; callers switching runs must Close the old watcher first.
type Watcher struct {
	streamURL string
	fetch     StatusFetcher
	cb        Callbacks
	opts      Options

	mu       sync.Mutex
	runID    string // updated when the server assigns the real ID
	state    State
	attempts int
	conn     *websocket.Conn
	cancel   context.CancelFunc

	closed    atomic.Bool
	finalized atomic.Bool
}

// New creates a watcher for runID. A watcher is single-use: create, Run,
// Close.
func New(streamURL, runID string, fetch StatusFetcher, cb Callbacks, opts Options) *Watcher {
	opts.withDefaults()
	return &Watcher{
		streamURL: streamURL,
		fetch:     fetch,
		cb:        cb,
		opts:      opts,
		runID:     runID,
		state:     StateIdle,
	}
}

// State returns the watcher's current lifecycle state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// RunID returns the run ID the watcher is currently attached to, which may
// have been promoted from the one it was created with.
func (w *Watcher) RunID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.runID
}

// Close tears the watcher down: any open connection is dropped, pending
// timers are abandoned, and every callback from here on is a no-op, even
// ones already in flight on the watcher goroutine.
func (w *Watcher) Close() {
	w.closed.Store(true)

	w.mu.Lock()
	cancel := w.cancel
	conn := w.conn
	w.state = StateClosed
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.CloseNow()
	}
}

// Run connects and processes the stream until the run finishes, the watcher
// gives up, or ctx is cancelled. An empty run ID means there is nothing to
// watch and Run returns immediately. Returns domain.ErrNotFound when polling
// discovers the run no longer exists.
func (w *Watcher) Run(ctx context.Context) error {
	if w.RunID() == "" {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.mu.Lock()
	w.cancel = cancel
	w.mu.Unlock()

	for {
		if w.closed.Load() {
			w.setState(StateClosed)
			return nil
		}

		w.setState(StateConnecting)
		err := w.connectAndServe(ctx)

		if w.finalized.Load() {
			w.setState(StateDone)
			return nil
		}
		if ctx.Err() != nil || w.closed.Load() {
			w.setState(StateClosed)
			return nil
		}

		w.mu.Lock()
		attempts := w.attempts
		w.mu.Unlock()

		if attempts >= w.opts.MaxReconnects {
			log.Debug().Str("run_id", w.RunID()).Int("attempts", attempts).
				Msg("watch: reconnect budget exhausted, degrading to polling")
			return w.poll(ctx)
		}

		w.mu.Lock()
		w.attempts++
		attempts = w.attempts
		w.mu.Unlock()

		delay := w.backoffDelay(attempts)
		log.Debug().Err(err).Str("run_id", w.RunID()).Int("attempt", attempts).
			Dur("delay", delay).Msg("watch: stream lost, reconnecting")
		w.setState(StateReconnecting)

		select {
		case <-ctx.Done():
			w.setState(StateClosed)
			return nil
		case <-time.After(delay):
		}
	}
}

// backoffDelay returns the delay for the given 1-based attempt, repeating
// the schedule's last entry once it runs out.
func (w *Watcher) backoffDelay(attempt int) time.Duration {
	idx := attempt - 1
	if idx >= len(w.opts.Backoff) {
		idx = len(w.opts.Backoff) - 1
	}
	return w.opts.Backoff[idx]
}

// connectAndServe dials the stream, sends the subscribe handshake, and
// pumps messages until the connection drops or the run finalizes.
func (w *Watcher) connectAndServe(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, w.streamURL, nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	w.mu.Lock()
	w.conn = conn
	w.attempts = 0 // a successful open earns a fresh reconnect budget
	w.state = StateOpen
	runID := w.runID
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.conn = nil
		w.mu.Unlock()
	}()

	// Subscribe handshake so the server attaches this connection to the run.
	fields := map[string]string{"run_id": runID}
	for k, v := range w.opts.Handshake {
		fields[k] = v
	}
	handshake, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	writeCtx, writeCancel := context.WithTimeout(ctx, 10*time.Second)
	err = conn.Write(writeCtx, websocket.MessageText, handshake)
	writeCancel()
	if err != nil {
		return err
	}

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		w.handleMessage(data)
		if w.finalized.Load() {
			_ = conn.Close(websocket.StatusNormalClosure, "run finished")
			return nil
		}
	}
}

// handleMessage interprets one raw frame. Malformed payloads are logged and
// dropped; they are never fatal to the connection.
func (w *Watcher) handleMessage(data []byte) {
	var msg map[string]any
	if err := json.Unmarshal(data, &msg); err != nil {
		log.Debug().Err(err).Str("run_id", w.RunID()).Msg("watch: dropping malformed message")
		return
	}

	msgType, _ := msg["type"].(string)
	status, _ := msg["status"].(string)

	switch {
	case msgType == "final" || status == "done":
		w.finalize(msg)

	case status == "started":
		runID, _ := msg["run_id"].(string)
		if runID == "" {
			return
		}
		w.mu.Lock()
		w.runID = runID
		w.mu.Unlock()
		w.emitStarted(runID)

	case msgType == "step" || msg["node"] != nil:
		// A step may carry an error field (a failed tool call). That is
		// step-level detail, not a terminal signal, and must not close
		// the connection.
		w.emitStep(msg)

	case msg["error"] != nil:
		w.finalize(msg)

	default:
		log.Debug().Str("run_id", w.RunID()).Msg("watch: ignoring unrecognized message")
	}
}

// poll repeatedly fetches run status over REST after the stream could not be
// re-established. Stops on terminal status, a vanished run, or the ceiling.
func (w *Watcher) poll(ctx context.Context) error {
	w.setState(StatePolling)

	deadline := time.Now().Add(w.opts.PollCeiling)
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.setState(StateClosed)
			return nil
		case <-ticker.C:
		}

		if w.closed.Load() {
			w.setState(StateClosed)
			return nil
		}
		if time.Now().After(deadline) {
			// Give up silently; the run keeps its last known state.
			log.Debug().Str("run_id", w.RunID()).Msg("watch: poll ceiling reached, giving up")
			w.setState(StateDone)
			return nil
		}

		detail, err := w.fetch.GetRun(ctx, w.RunID())
		switch {
		case errors.Is(err, domain.ErrNotFound):
			w.setState(StateDone)
			return domain.ErrNotFound

		case err != nil:
			// A failed status fetch is terminal for the run.
			w.finalize(map[string]any{"status": "failed", "error": err.Error()})
			w.setState(StateDone)
			return nil

		case detail.Terminal():
			w.finalize(finalMessageFor(detail))
			w.setState(StateDone)
			return nil
		}
	}
}

// finalMessageFor synthesizes a stream-shaped terminal message from a polled
// run detail, so consumers see one message format either way.
func finalMessageFor(detail *domain.RunDetail) map[string]any {
	st, _ := domain.RunStatusFromWire(detail.Status)
	if st == domain.RunStatusFailed {
		errText := detail.Error
		if errText == "" {
			errText = detail.Summary
		}
		return map[string]any{"status": "failed", "error": errText}
	}
	msg := map[string]any{"status": "done"}
	if detail.Summary != "" {
		msg["summary"] = detail.Summary
	}
	return msg
}

// finalize dispatches the final callback at most once.
func (w *Watcher) finalize(msg map[string]any) {
	if !w.finalized.CompareAndSwap(false, true) {
		return
	}
	if w.closed.Load() || w.cb.OnFinal == nil {
		return
	}
	w.cb.OnFinal(msg)
}

func (w *Watcher) emitStep(msg map[string]any) {
	if w.closed.Load() || w.cb.OnStep == nil {
		return
	}
	w.cb.OnStep(msg)
}

func (w *Watcher) emitStarted(runID string) {
	if w.closed.Load() || w.cb.OnStarted == nil {
		return
	}
	w.cb.OnStarted(runID)
}

func (w *Watcher) setState(s State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateClosed && s != StateClosed {
		return
	}
	w.state = s
}
