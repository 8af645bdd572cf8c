package session

import (
	"context"
	"errors"
	"sync"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/model"
	"github.com/agent-penny/penny/model/router"
	"github.com/agent-penny/penny/tool"
)

// ErrSessionEnded is returned by operations on a session after End.
var ErrSessionEnded = errors.New("session has ended")

// Session binds one authenticated identity to its visible tools, resolved
// model and memory namespace for the lifetime of one conversation. The
// bindings are computed once at Begin and never change: a scope grant or
// registry change mid-conversation has no effect on running sessions.
//
// A Session is safe for concurrent reads. Turns must not overlap; the runner
// serializes them per session.
type Session struct {
	id           string
	identity     core.Identity
	scopes       core.ScopeSet
	visibleTools []tool.Tool
	definitions  []model.ToolDefinition
	resolution   *router.Resolution
	store        core.MemoryStore
	onEnd        func(id string)

	mu      sync.Mutex
	history []core.Event
	memory  core.MemoryNamespace
	loaded  bool
	ended   bool
}

var _ core.MemoryAccessor = (*Session)(nil)

// ID returns the unique session id.
func (s *Session) ID() string { return s.id }

// Identity returns the authenticated identity bound at Begin.
func (s *Session) Identity() core.Identity { return s.identity }

// Scopes returns the scope set granted at Begin. Treat as read-only.
func (s *Session) Scopes() core.ScopeSet { return s.scopes }

// VisibleTools returns the tools visible to this session, in registration
// order, as computed once at Begin.
func (s *Session) VisibleTools() []tool.Tool {
	out := make([]tool.Tool, len(s.visibleTools))
	copy(out, s.visibleTools)
	return out
}

// ToolDefinitions returns the model-facing declarations for the visible
// tools, in the same stable order every turn.
func (s *Session) ToolDefinitions() []model.ToolDefinition {
	out := make([]model.ToolDefinition, len(s.definitions))
	copy(out, s.definitions)
	return out
}

// Model returns the backend resolved at Begin.
func (s *Session) Model() model.Model { return s.resolution.Model }

// Info returns the capability descriptor of the resolved model.
func (s *Session) Info() model.Info { return s.resolution.Info }

// ThinkingEnabled reports whether extended thinking survived resolution.
func (s *Session) ThinkingEnabled() bool { return s.resolution.ThinkingEnabled }

// Memory returns the session's namespace, loading it from the store on first
// access and serving the cached copy afterwards. The cache stays coherent
// because all writes go through SaveFact below.
func (s *Session) Memory(ctx context.Context) (core.MemoryNamespace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return nil, ErrSessionEnded
	}
	if !s.loaded {
		ns, err := s.store.Load(ctx, s.identity)
		if err != nil {
			return nil, err
		}
		s.memory = ns
		s.loaded = true
	}
	return s.memory.Clone(), nil
}

// SaveFact writes through to the store and updates the cached namespace. The
// fact is durable before SaveFact returns.
func (s *Session) SaveFact(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return ErrSessionEnded
	}
	if err := s.store.Save(ctx, s.identity, key, value); err != nil {
		return err
	}

	if s.loaded {
		// Refresh the cached record from the store so UpdatedAt matches disk.
		ns, err := s.store.Load(ctx, s.identity)
		if err == nil {
			s.memory = ns
		}
	}
	return nil
}

// History returns a copy of the events accumulated so far.
func (s *Session) History() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.Event, len(s.history))
	copy(out, s.history)
	return out
}

// AppendHistory adds completed turn events to the conversation history.
func (s *Session) AppendHistory(events ...core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return ErrSessionEnded
	}
	s.history = append(s.history, events...)
	return nil
}

// TrimHistory drops the oldest events beyond maxEvents. The cut lands on a
// user-message boundary so a tool call is never separated from its result.
func (s *Session) TrimHistory(maxEvents int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if maxEvents <= 0 || len(s.history) <= maxEvents {
		return
	}

	start := len(s.history) - maxEvents
	for start < len(s.history) {
		ev := s.history[start]
		if ev.Author == "user" && ev.Content != nil && len(ev.GetFunctionResponses()) == 0 {
			break
		}
		start++
	}
	s.history = s.history[start:]
}

// End releases the session's resources: the cached namespace and history are
// dropped and the session deregisters from its manager. Idempotent; safe to
// defer on every exit path. Operations after End fail with ErrSessionEnded.
func (s *Session) End() {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.memory = nil
	s.history = nil
	onEnd := s.onEnd
	s.mu.Unlock()

	if onEnd != nil {
		onEnd(s.id)
	}
}

// Ended reports whether End has been called.
func (s *Session) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}
