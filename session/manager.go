package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/logging"
	"github.com/agent-penny/penny/model"
	"github.com/agent-penny/penny/model/router"
	"github.com/agent-penny/penny/tool"
)

// Manager creates and tracks sessions. It owns the wiring a session needs:
// the sealed tool registry, the memory store and the default model config.
type Manager struct {
	registry     *tool.Registry
	store        core.MemoryStore
	defaultModel router.Config
	logger       logging.Logger

	mu     sync.Mutex
	active map[string]*Session
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	Logger logging.Logger
}

// WithManagerLogger sets the logger for session lifecycle events.
func WithManagerLogger(l logging.Logger) func(o *ManagerOptions) {
	return func(o *ManagerOptions) { o.Logger = l }
}

// NewManager wires a Manager. The registry is sealed here: once sessions can
// begin, the tool set is fixed for the process lifetime.
func NewManager(registry *tool.Registry, store core.MemoryStore, defaultModel router.Config, optFns ...func(o *ManagerOptions)) *Manager {
	opts := ManagerOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry.Seal()

	return &Manager{
		registry:     registry,
		store:        store,
		defaultModel: defaultModel,
		logger:       opts.Logger,
		active:       make(map[string]*Session),
	}
}

// BeginOptions configure one session.
type BeginOptions struct {
	Model   *router.Config
	Backend model.Model
}

// WithModelConfig overrides the manager's default model for this session.
func WithModelConfig(cfg router.Config) func(o *BeginOptions) {
	return func(o *BeginOptions) { o.Model = &cfg }
}

// WithBackend binds a pre-built model backend to the session, skipping
// selector resolution and credential checks. Intended for embedding custom
// backends and for tests running against model.NewMockModel.
func WithBackend(backend model.Model) func(o *BeginOptions) {
	return func(o *BeginOptions) { o.Backend = backend }
}

// Begin starts a session for an authenticated identity. The visible tool set
// is computed once from the granted scopes and the model is resolved once;
// both stay fixed until End. Model misconfiguration surfaces here, before any
// conversation starts.
func (m *Manager) Begin(ctx context.Context, identity core.Identity, scopes core.ScopeSet, optFns ...func(o *BeginOptions)) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if identity == "" {
		return nil, fmt.Errorf("identity must not be empty")
	}

	opts := BeginOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	var resolution *router.Resolution
	if opts.Backend != nil {
		resolution = &router.Resolution{Model: opts.Backend, Info: opts.Backend.Info()}
	} else {
		modelCfg := m.defaultModel
		if opts.Model != nil {
			modelCfg = *opts.Model
		}

		var err error
		resolution, err = router.Resolve(modelCfg, router.WithLogger(m.logger))
		if err != nil {
			return nil, err
		}
	}

	if scopes == nil {
		scopes = core.ScopeSet{}
	}

	s := &Session{
		id:           core.NewID(),
		identity:     identity,
		scopes:       scopes.Clone(),
		visibleTools: m.registry.Visible(scopes),
		definitions:  m.registry.Definitions(scopes),
		resolution:   resolution,
		store:        m.store,
		onEnd:        m.release,
	}

	m.mu.Lock()
	m.active[s.id] = s
	m.mu.Unlock()

	m.logger.Info("session.begin",
		"session_id", s.id,
		"identity", string(identity),
		"scopes", scopes.List(),
		"tools", len(s.visibleTools),
		"model", resolution.Info.Provider+":"+resolution.Info.Name,
		"thinking", resolution.ThinkingEnabled,
	)
	return s, nil
}

// Active returns the number of sessions that have begun and not ended.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown ends every active session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.active))
	for _, s := range m.active {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.End()
	}
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()

	m.logger.Info("session.end", "session_id", id)
}
