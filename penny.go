// Package penny provides a high-level façade over the session, agent and
// runner layers for building a personal conversational assistant. Most
// applications interact with this package by:
//  1. Creating a Penny via New(), supplying the tools and model configuration
//  2. Beginning a session for an identity with its granted scopes
//  3. Sending messages with Chat (synchronous) or ChatStream (event stream)
//
// The façade wires the pieces together while keeping each layer usable on
// its own. All defaults are safe for local development and testing; durable
// memory and a structured logger are supplied for real deployments.
package penny

import (
	"context"

	"github.com/agent-penny/penny/agent"
	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/logging"
	"github.com/agent-penny/penny/memory"
	"github.com/agent-penny/penny/model/router"
	"github.com/agent-penny/penny/runner"
	"github.com/agent-penny/penny/session"
	"github.com/agent-penny/penny/tool"
)

// Version is the release version of penny.
const Version = "0.1.0"

// Options configure a Penny instance.
type Options struct {
	// Name authors the assistant's events. Defaults to "penny".
	Name string

	// Instruction is the base system prompt. Saved memory facts are appended
	// automatically each turn. Defaults to a plain assistant prompt.
	Instruction agent.Instruction

	// Model is the default model configuration for sessions that do not
	// override it at Begin.
	Model router.Config

	// Tools are registered in order before the registry is sealed.
	Tools []tool.Tool

	// MemoryStore persists per-user facts across sessions. Defaults to an
	// in-memory store; use memory.NewFileStore for durability.
	MemoryStore core.MemoryStore

	// MaxHistoryEvents bounds the in-memory conversation history per
	// session. 0 keeps the runner's default.
	MaxHistoryEvents int

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// Penny aggregates the tool registry, session manager and turn runner.
type Penny struct {
	opts     Options
	registry *tool.Registry
	manager  *session.Manager
	runner   *runner.Runner
}

// New creates a Penny instance with optional overrides. Tool registration
// failures (duplicate names) surface here, before any session starts.
func New(optFns ...func(o *Options)) (*Penny, error) {
	opts := Options{
		Name:        "penny",
		MemoryStore: memory.NewInMemoryStore(),
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	registry := tool.NewRegistry(tool.WithRegistryLogger(opts.Logger))
	for _, t := range opts.Tools {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}

	manager := session.NewManager(registry, opts.MemoryStore, opts.Model,
		session.WithManagerLogger(opts.Logger))

	orch := agent.New(registry, func(o *agent.Options) {
		o.Name = opts.Name
		o.Instruction = opts.Instruction
		o.Logger = opts.Logger
	})

	runnerOpts := []func(o *runner.Options){runner.WithLogger(opts.Logger)}
	if opts.MaxHistoryEvents > 0 {
		runnerOpts = append(runnerOpts, runner.WithMaxHistoryEvents(opts.MaxHistoryEvents))
	}

	return &Penny{
		opts:     opts,
		registry: registry,
		manager:  manager,
		runner:   runner.New(orch, runnerOpts...),
	}, nil
}

// Registry returns the sealed tool registry.
func (p *Penny) Registry() *tool.Registry { return p.registry }

// Manager returns the session manager for Begin and Shutdown.
func (p *Penny) Manager() *session.Manager { return p.manager }

// Runner returns the turn runner for streaming and cancellation control.
func (p *Penny) Runner() *runner.Runner { return p.runner }

// Begin starts a session for the given identity and scopes.
func (p *Penny) Begin(
	ctx context.Context,
	identity core.Identity,
	scopes core.ScopeSet,
	optFns ...func(o *session.BeginOptions),
) (*session.Session, error) {
	return p.manager.Begin(ctx, identity, scopes, optFns...)
}

// Chat runs one turn to completion and returns the assistant's final text.
func (p *Penny) Chat(ctx context.Context, sess *session.Session, message string) (string, error) {
	turn, err := p.runner.RunSync(ctx, sess, message)
	if err != nil {
		return "", err
	}
	return turn.FinalText, nil
}

// ChatStream starts an asynchronous turn returning the run id plus event and
// error channels. The events channel closes when the turn finishes; a
// terminal failure arrives on the error channel.
func (p *Penny) ChatStream(
	ctx context.Context,
	sess *session.Session,
	message string,
) (string, <-chan core.Event, <-chan error, error) {
	return p.runner.Run(ctx, sess, message)
}

// Shutdown ends every active session.
func (p *Penny) Shutdown() { p.manager.Shutdown() }
