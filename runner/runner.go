package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/agent-penny/penny/agent"
	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/logging"
	"github.com/agent-penny/penny/session"
)

// Options holds configuration overrides passed to New().
type Options struct {
	// MaxHistoryEvents bounds the session history carried into the next turn.
	// Trimming cuts at a user-message boundary so the model never sees a
	// conversation that starts mid-turn. 0 disables trimming.
	MaxHistoryEvents int

	// EventBufferSize sets channel buffering for streamed events. A slow
	// consumer stalls the turn once the buffer fills.
	EventBufferSize int

	// Logging services.
	Logger logging.Logger
}

// WithMaxHistoryEvents overrides the history bound.
func WithMaxHistoryEvents(n int) func(o *Options) {
	return func(o *Options) { o.MaxHistoryEvents = n }
}

// WithEventBufferSize overrides the streaming channel buffer.
func WithEventBufferSize(n int) func(o *Options) {
	return func(o *Options) { o.EventBufferSize = n }
}

// WithLogger sets the runner logger.
func WithLogger(l logging.Logger) func(o *Options) {
	return func(o *Options) { o.Logger = l }
}

// Runner executes turns against sessions. It adds the two guarantees the
// orchestrator leaves to its caller:
//
//   - Turns of one session are strictly sequential. Concurrent Run calls for
//     the same session queue behind each other; different sessions proceed in
//     parallel.
//   - Session history only advances on success. A failed turn leaves the
//     history exactly as it was, so the next message starts from the last
//     good state.
//
// Public methods are safe for concurrent use.
type Runner struct {
	orch       *agent.Orchestrator
	maxHistory int
	bufSize    int
	logger     logging.Logger

	// one mutex per session id, created on first use
	sessionMu   sync.Mutex
	sessionLock map[string]*sync.Mutex

	activeRuns map[string]context.CancelFunc
	mu         sync.Mutex
}

// New constructs a Runner driving turns through the given orchestrator.
func New(orch *agent.Orchestrator, optFns ...func(o *Options)) *Runner {
	opts := Options{
		MaxHistoryEvents: 40,
		EventBufferSize:  100,
		Logger:           logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	return &Runner{
		orch:        orch,
		maxHistory:  opts.MaxHistoryEvents,
		bufSize:     opts.EventBufferSize,
		logger:      opts.Logger,
		sessionLock: make(map[string]*sync.Mutex),
		activeRuns:  make(map[string]context.CancelFunc),
	}
}

// Run starts one turn asynchronously and streams its events. It returns:
//
//	runID    - stable identifier for Cancel
//	eventsCh - ordered event stream, closed when the turn finishes
//	errorsCh - terminal error channel (size 1, closed after send or none)
//
// The immediate error return covers startup failures such as an ended
// session.
func (r *Runner) Run(ctx context.Context, sess *session.Session, message string) (string, <-chan core.Event, <-chan error, error) {
	if sess.Ended() {
		return "", nil, nil, session.ErrSessionEnded
	}

	runID := core.NewID()
	eventsCh := make(chan core.Event, r.bufSize)
	errorsCh := make(chan error, 1)

	runCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.activeRuns[runID] = cancel
	r.mu.Unlock()

	go func() {
		defer func() {
			close(eventsCh)
			close(errorsCh)
			r.mu.Lock()
			delete(r.activeRuns, runID)
			r.mu.Unlock()
			cancel()
		}()

		if _, err := r.execute(runCtx, sess, message, eventsCh); err != nil {
			errorsCh <- err
		}
	}()

	return runID, eventsCh, errorsCh, nil
}

// RunSync executes one turn and blocks until it finishes. The returned Turn
// carries the full event trace even when err is non-nil.
func (r *Runner) RunSync(ctx context.Context, sess *session.Session, message string) (*agent.Turn, error) {
	if sess.Ended() {
		return nil, session.ErrSessionEnded
	}
	return r.execute(ctx, sess, message, nil)
}

// Cancel cancels an in-flight run by ID. Cancelling an unknown or already
// finished run returns an error naming it.
func (r *Runner) Cancel(runID string) error {
	r.mu.Lock()
	cancel, exists := r.activeRuns[runID]
	r.mu.Unlock()

	if !exists {
		return fmt.Errorf("run %s not found", runID)
	}

	cancel()

	return nil
}

// ActiveRuns returns the number of turns currently in flight.
func (r *Runner) ActiveRuns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.activeRuns)
}

// execute serializes on the session, runs the turn and commits history on
// success.
func (r *Runner) execute(ctx context.Context, sess *session.Session, message string, emit chan<- core.Event) (*agent.Turn, error) {
	mu := r.lockForSession(sess.ID())
	mu.Lock()
	defer mu.Unlock()

	var optFns []func(o *agent.TurnOptions)
	if emit != nil {
		optFns = append(optFns, agent.WithEmit(emit))
	}

	turn, err := r.orch.RunTurn(ctx, sess, message, optFns...)
	if err != nil {
		r.logger.Warn("run.turn.failed", "session_id", sess.ID(), "error", err.Error())
		return turn, err
	}

	if err := sess.AppendHistory(turn.Events...); err != nil {
		return turn, fmt.Errorf("append turn history: %w", err)
	}
	if r.maxHistory > 0 {
		sess.TrimHistory(r.maxHistory)
	}

	return turn, nil
}

// lockForSession returns the mutex serializing turns of one session. Entries
// live for the process lifetime; session ids are bounded by the number of
// conversations a process hosts.
func (r *Runner) lockForSession(id string) *sync.Mutex {
	r.sessionMu.Lock()
	defer r.sessionMu.Unlock()

	mu, ok := r.sessionLock[id]
	if !ok {
		mu = &sync.Mutex{}
		r.sessionLock[id] = mu
	}
	return mu
}
