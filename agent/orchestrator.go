package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/internal/util"
	"github.com/agent-penny/penny/logging"
	"github.com/agent-penny/penny/memory"
	"github.com/agent-penny/penny/model"
	"github.com/agent-penny/penny/session"
	"github.com/agent-penny/penny/tool"
)

// Turn states. A turn starts in AWAITING_INPUT, alternates between MODEL_CALL
// and TOOL_DISPATCH and terminates in DONE or FAILED.
const (
	StateAwaitingInput = "AWAITING_INPUT"
	StateModelCall     = "MODEL_CALL"
	StateToolDispatch  = "TOOL_DISPATCH"
	StateDone          = "DONE"
	StateFailed        = "FAILED"
)

// OrchestratorError codes.
const (
	// CodeTurnBudgetExceeded marks a turn that hit its model-call budget.
	CodeTurnBudgetExceeded = "TURN_BUDGET_EXCEEDED"
	// CodeBackendError marks a model backend failure.
	CodeBackendError = "BACKEND_ERROR"
)

// OrchestratorError is a terminal turn failure. It ends the current turn
// only; the session stays usable for the next message.
type OrchestratorError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrchestratorError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("turn failed [%s]: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("turn failed [%s]: %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause.
func (e *OrchestratorError) Unwrap() error { return e.Err }

// Turn is the completed record of one user message being processed: every
// event produced (user message, assistant messages, tool results), the final
// assistant text and the terminal state.
type Turn struct {
	ID         string
	State      string
	Events     []core.Event
	FinalText  string
	ModelCalls int
	ToolCalls  int
}

// Options configure an Orchestrator.
type Options struct {
	// Name authors assistant and tool events. Defaults to "penny".
	Name string
	// Instruction is the base system prompt. Saved memory facts are appended
	// to it automatically each turn. The text may carry Go template
	// placeholders, rendered per turn: {{.assistant}}, {{.identity}} and
	// {{.current_date}}.
	Instruction Instruction
	Logger      logging.Logger
}

// Orchestrator drives the model/tool loop for one turn at a time. It holds no
// per-conversation state: everything a turn needs arrives with the session,
// so one Orchestrator serves any number of concurrent sessions.
//
// Turns of a single session must not overlap; the runner serializes them.
type Orchestrator struct {
	name        string
	instruction Instruction
	registry    *tool.Registry
	logger      logging.Logger
}

// New creates an Orchestrator dispatching tools through the given registry.
func New(registry *tool.Registry, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Name:   "penny",
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Instruction == (Instruction{}) {
		opts.Instruction = NewInstructionFromText(fmt.Sprintf("You are %s, a helpful AI assistant.", opts.Name))
	}

	return &Orchestrator{
		name:        opts.Name,
		instruction: opts.Instruction,
		registry:    registry,
		logger:      opts.Logger,
	}
}

// TurnOptions configure one RunTurn call.
type TurnOptions struct {
	// Emit receives every event of the turn as it is produced. Optional.
	Emit chan<- core.Event
}

// WithEmit streams turn events to ch while the turn runs.
func WithEmit(ch chan<- core.Event) func(o *TurnOptions) {
	return func(o *TurnOptions) { o.Emit = ch }
}

// RunTurn processes one user message to completion: model call, any tool
// round trips, final answer. The returned Turn carries the full event trace
// even when err is non-nil.
//
// Failure semantics: a backend error or an exhausted model-call budget fails
// this turn with an *OrchestratorError and leaves the session intact. Tool
// failures never fail a turn; they are returned to the model as data.
func (o *Orchestrator) RunTurn(ctx context.Context, sess *session.Session, message string, optFns ...func(o *TurnOptions)) (*Turn, error) {
	opts := TurnOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	turn := &Turn{ID: core.NewID(), State: StateAwaitingInput}

	userContent := core.NewUserContent(message)
	turnCtx := core.NewTurnContext(
		ctx,
		turn.ID,
		sess.Identity(),
		sess.Scopes(),
		userContent,
		sess.History(),
		sess.Info().MaxToolTurns,
		opts.Emit,
		sess,
		o.logger,
	)

	o.logger.Debug("turn.start",
		"turn_id", turn.ID,
		"identity", string(sess.Identity()),
		"budget", sess.Info().MaxToolTurns,
	)
	start := time.Now()

	userEv := core.NewUserMessageEvent(turn.ID, message)
	o.record(turn, turnCtx, userEv)

	instructions, err := o.composeInstructions(turnCtx)
	if err != nil {
		return o.fail(turn, turnCtx, start, &OrchestratorError{
			Code:    CodeBackendError,
			Message: "instruction resolution failed",
			Err:     err,
		})
	}

	contents := make([]core.Content, 0, len(turnCtx.History)+8)
	for _, ev := range turnCtx.History {
		if ev.Content != nil {
			contents = append(contents, *ev.Content)
		}
	}
	contents = append(contents, userContent)

	for {
		turn.State = StateModelCall
		if err := turnCtx.Limiter.Increment(); err != nil {
			return o.fail(turn, turnCtx, start, &OrchestratorError{
				Code:    CodeTurnBudgetExceeded,
				Message: fmt.Sprintf("turn stopped after %d model calls", turnCtx.Limiter.Count()-1),
				Err:     err,
			})
		}
		turn.ModelCalls++

		resp, backendErr := o.generate(turnCtx, sess, model.Request{
			Instructions: instructions,
			Contents:     contents,
			Tools:        sess.ToolDefinitions(),
		})
		if backendErr != nil {
			return o.fail(turn, turnCtx, start, &OrchestratorError{
				Code:    CodeBackendError,
				Message: "model backend failed",
				Err:     backendErr,
			})
		}

		assistantEv := core.NewEvent(turn.ID, o.name)
		content := withCallIDs(resp.Content)
		assistantEv.Content = &content
		o.record(turn, turnCtx, assistantEv)
		contents = append(contents, content)

		calls := assistantEv.GetFunctionCalls()
		if len(calls) == 0 {
			turn.State = StateDone
			turn.FinalText = content.Text()
			o.logger.Info("turn.complete",
				"turn_id", turn.ID,
				"model_calls", turn.ModelCalls,
				"tool_calls", turn.ToolCalls,
				"duration_ms", time.Since(start).Milliseconds(),
			)
			return turn, nil
		}

		turn.State = StateToolDispatch
		for _, fc := range calls {
			if err := turnCtx.Err(); err != nil {
				return o.fail(turn, turnCtx, start, &OrchestratorError{
					Code:    CodeBackendError,
					Message: "turn cancelled during tool dispatch",
					Err:     err,
				})
			}

			toolCtx := core.NewToolContext(turnCtx, fc.ID)

			execStart := time.Now()
			result, toolErr := o.registry.Invoke(toolCtx, fc.Name, fc.Arguments)
			o.logger.Info("turn.tool.executed",
				"turn_id", turn.ID,
				"tool", fc.Name,
				"duration_ms", time.Since(execStart).Milliseconds(),
				"error", toolErr != nil,
			)

			respEv := core.NewFunctionResponseEvent(o.name, fc.ID, fc.Name, result, toolErr)
			respEv.TurnID = turn.ID
			o.record(turn, turnCtx, respEv)
			turn.ToolCalls++

			contents = append(contents, *respEv.Content)
		}
	}
}

// generate runs one model call and waits for the final response. Partial
// streaming fragments are ignored; the last non-partial response wins.
func (o *Orchestrator) generate(turnCtx *core.TurnContext, sess *session.Session, req model.Request) (*model.Response, error) {
	respCh, errCh := sess.Model().Generate(turnCtx.Context, req)

	var final *model.Response
	var backendErr error

	for respCh != nil || errCh != nil {
		select {
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if resp.Partial {
				continue
			}
			r := resp
			final = &r
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				backendErr = err
			}
		case <-turnCtx.Done():
			return nil, turnCtx.Err()
		}
	}

	if backendErr != nil {
		return nil, backendErr
	}
	if final == nil {
		return nil, fmt.Errorf("model stream ended without a final response")
	}
	return final, nil
}

// composeInstructions resolves the base instruction, renders its template
// placeholders and appends the saved memory facts. A store read failure
// degrades to a memory-less prompt rather than failing the turn.
func (o *Orchestrator) composeInstructions(turnCtx *core.TurnContext) (string, error) {
	base, err := o.instruction.Resolve(turnCtx)
	if err != nil {
		return "", err
	}

	base, err = util.RenderTemplate(base, map[string]any{
		"assistant":    o.name,
		"identity":     string(turnCtx.Identity),
		"current_date": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		return "", fmt.Errorf("render instruction template: %w", err)
	}

	ns, err := turnCtx.RecallMemory()
	if err != nil {
		o.logger.Warn("turn.memory.unavailable", "turn_id", turnCtx.TurnID, "error", err.Error())
		return base, nil
	}
	if len(ns) == 0 {
		return base, nil
	}

	return base + "\n\nYou know the following from previous conversations:\n" + memory.FormatFacts(ns), nil
}

// record appends ev to the turn trace and forwards it to the live stream.
func (o *Orchestrator) record(turn *Turn, turnCtx *core.TurnContext, ev core.Event) {
	turn.Events = append(turn.Events, ev)
	if err := turnCtx.EmitEvent(ev); err != nil {
		o.logger.Warn("turn.emit.dropped", "turn_id", turn.ID, "event_id", ev.ID, "error", err.Error())
	}
}

// fail marks the turn FAILED, emits an error event and returns the turn with
// the terminal error.
func (o *Orchestrator) fail(turn *Turn, turnCtx *core.TurnContext, start time.Time, orchErr *OrchestratorError) (*Turn, error) {
	turn.State = StateFailed

	ev := core.NewEvent(turn.ID, o.name)
	code := orchErr.Code
	msg := orchErr.Error()
	ev.ErrorCode = &code
	ev.ErrorMessage = &msg
	o.record(turn, turnCtx, ev)

	o.logger.Error("turn.failed",
		"turn_id", turn.ID,
		"code", orchErr.Code,
		"model_calls", turn.ModelCalls,
		"tool_calls", turn.ToolCalls,
		"duration_ms", time.Since(start).Milliseconds(),
		"error", orchErr.Error(),
	)
	return turn, orchErr
}

// withCallIDs returns content with every function call carrying a non-empty
// ID, assigning fresh ones where the backend omitted them. Call events and
// their response events must pair by ID even for backends that do not supply
// one.
func withCallIDs(content core.Content) core.Content {
	needsID := false
	for _, p := range content.Parts {
		if fc, ok := p.(core.FunctionCallPart); ok && fc.FunctionCall.ID == "" {
			needsID = true
			break
		}
	}
	if !needsID {
		return content
	}

	parts := make([]core.Part, len(content.Parts))
	for i, p := range content.Parts {
		if fc, ok := p.(core.FunctionCallPart); ok && fc.FunctionCall.ID == "" {
			fc.FunctionCall.ID = core.NewID()
			parts[i] = fc
			continue
		}
		parts[i] = p
	}
	content.Parts = parts
	return content
}
