package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/memory"
	"github.com/agent-penny/penny/model"
	"github.com/agent-penny/penny/model/router"
	"github.com/agent-penny/penny/session"
	"github.com/agent-penny/penny/tool"
)

// -------------------- Test Fixtures --------------------

type scriptStep struct {
	resp *model.Response
	err  error
	hang bool
}

// scriptedModel replays a fixed sequence of model outputs, one step per
// Generate call, and records every request it received.
type scriptedModel struct {
	mu       sync.Mutex
	steps    []scriptStep
	requests []model.Request
	info     model.Info
}

func newScriptedModel(maxToolTurns int) *scriptedModel {
	return &scriptedModel{
		info: model.Info{
			Name:          "scripted",
			Provider:      "mock",
			SupportsTools: true,
			MaxToolTurns:  maxToolTurns,
		},
	}
}

func (m *scriptedModel) Info() model.Info { return m.info }

func (m *scriptedModel) replyText(text string) {
	m.steps = append(m.steps, scriptStep{resp: &model.Response{
		Content:      core.Content{Role: "assistant", Parts: []core.Part{core.TextPart{Text: text}}},
		FinishReason: "stop",
	}})
}

func (m *scriptedModel) replyCalls(calls ...core.FunctionCall) {
	parts := make([]core.Part, 0, len(calls))
	for _, fc := range calls {
		parts = append(parts, core.FunctionCallPart{FunctionCall: fc})
	}
	m.steps = append(m.steps, scriptStep{resp: &model.Response{
		Content:      core.Content{Role: "assistant", Parts: parts},
		FinishReason: "tool_calls",
	}})
}

func (m *scriptedModel) failWith(err error) {
	m.steps = append(m.steps, scriptStep{err: err})
}

func (m *scriptedModel) hangUntilCancelled() {
	m.steps = append(m.steps, scriptStep{hang: true})
}

func (m *scriptedModel) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	var step scriptStep
	if len(m.steps) > 0 {
		step = m.steps[0]
		m.steps = m.steps[1:]
	} else {
		step = scriptStep{err: fmt.Errorf("script exhausted after %d calls", len(m.requests))}
	}
	m.mu.Unlock()

	respCh := make(chan model.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		defer close(respCh)
		defer close(errCh)
		if step.hang {
			<-ctx.Done()
			errCh <- ctx.Err()
			return
		}
		if step.err != nil {
			errCh <- step.err
			return
		}
		respCh <- *step.resp
	}()
	return respCh, errCh
}

func (m *scriptedModel) request(i int) model.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests[i]
}

func (m *scriptedModel) requestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type turnFixture struct {
	registry *tool.Registry
	store    *memory.InMemoryStore
	manager  *session.Manager
	session  *session.Session
	model    *scriptedModel
	orch     *Orchestrator
}

func newTurnFixture(t *testing.T, budget int, scopes core.ScopeSet, tools ...tool.Tool) *turnFixture {
	t.Helper()

	reg := tool.NewRegistry()
	for _, tl := range tools {
		reg.MustRegister(tl)
	}
	store := memory.NewInMemoryStore()
	mgr := session.NewManager(reg, store, router.Config{})

	scripted := newScriptedModel(budget)
	sess, err := mgr.Begin(context.Background(), "alice", scopes, session.WithBackend(scripted))
	if err != nil {
		t.Fatalf("begin session: %v", err)
	}
	t.Cleanup(sess.End)

	return &turnFixture{
		registry: reg,
		store:    store,
		manager:  mgr,
		session:  sess,
		model:    scripted,
		orch:     New(reg),
	}
}

func echoTool() tool.Tool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"text": map[string]any{"type": "string"},
		},
		"required": []string{"text"},
	}
	return tool.NewFunctionTool("echo", "Echo the given text.", params, func(_ *core.ToolContext, args map[string]any) (any, error) {
		return args["text"], nil
	})
}

// -------------------- Completion Tests --------------------

func TestOrchestrator_SimpleTurnCompletes(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone))
	f.model.replyText("Hi there!")

	turn, err := f.orch.RunTurn(context.Background(), f.session, "hello")
	assert.NoError(t, err)
	assert.Equal(t, StateDone, turn.State)
	assert.Equal(t, "Hi there!", turn.FinalText)
	assert.Equal(t, 1, turn.ModelCalls)
	assert.Equal(t, 0, turn.ToolCalls)

	assert.Len(t, turn.Events, 2)
	assert.Equal(t, "user", turn.Events[0].Author)
	assert.Equal(t, "penny", turn.Events[1].Author)
	for _, ev := range turn.Events {
		assert.Equal(t, turn.ID, ev.TurnID)
	}

	req := f.model.request(0)
	assert.Contains(t, req.Instructions, "You are penny")
	assert.Equal(t, "hello", req.Contents[len(req.Contents)-1].Text())
}

func TestOrchestrator_HistoryPrecedesUserMessage(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone))

	prev := core.NewUserMessageEvent("turn-0", "my name is Ada")
	reply := core.NewMessageEvent("penny", "Nice to meet you, Ada!")
	assert.NoError(t, f.session.AppendHistory(prev, reply))

	f.model.replyText("Your name is Ada.")
	turn, err := f.orch.RunTurn(context.Background(), f.session, "what is my name?")
	assert.NoError(t, err)
	assert.Equal(t, StateDone, turn.State)

	req := f.model.request(0)
	assert.Len(t, req.Contents, 3)
	assert.Equal(t, "my name is Ada", req.Contents[0].Text())
	assert.Equal(t, "Nice to meet you, Ada!", req.Contents[1].Text())
	assert.Equal(t, "what is my name?", req.Contents[2].Text())
}

// -------------------- Tool Dispatch Tests --------------------

func TestOrchestrator_ToolRoundTrip(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone), echoTool())
	f.model.replyCalls(core.FunctionCall{ID: "call-1", Name: "echo", Arguments: `{"text":"ping"}`})
	f.model.replyText("The tool said: ping")

	turn, err := f.orch.RunTurn(context.Background(), f.session, "run the echo tool")
	assert.NoError(t, err)
	assert.Equal(t, StateDone, turn.State)
	assert.Equal(t, "The tool said: ping", turn.FinalText)
	assert.Equal(t, 2, turn.ModelCalls)
	assert.Equal(t, 1, turn.ToolCalls)

	// user, assistant call, tool response, assistant final
	assert.Len(t, turn.Events, 4)
	responses := turn.Events[2].GetFunctionResponses()
	assert.Len(t, responses, 1)
	assert.Equal(t, "call-1", responses[0].ID)
	assert.Equal(t, "echo", responses[0].Name)
	assert.Equal(t, "ping", responses[0].Response)
	assert.Empty(t, responses[0].Error)

	// the second request must carry the tool result back to the model
	second := f.model.request(1)
	last := second.Contents[len(second.Contents)-1]
	assert.Equal(t, "tool", last.Role)
}

func TestOrchestrator_MultipleCallsDispatchedInOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	record := func(name string) tool.Tool {
		return tool.NewFunctionTool(name, "Record "+name, params, func(_ *core.ToolContext, _ map[string]any) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		})
	}

	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone),
		record("alpha"), record("beta"), record("gamma"))
	f.model.replyCalls(
		core.FunctionCall{ID: "c1", Name: "gamma"},
		core.FunctionCall{ID: "c2", Name: "alpha"},
		core.FunctionCall{ID: "c3", Name: "beta"},
	)
	f.model.replyText("all done")

	turn, err := f.orch.RunTurn(context.Background(), f.session, "run them all")
	assert.NoError(t, err)
	assert.Equal(t, StateDone, turn.State)
	assert.Equal(t, 3, turn.ToolCalls)

	// dispatch follows the model's ordering, not registration order
	assert.Equal(t, []string{"gamma", "alpha", "beta"}, order)

	// response events appended in the same order as the calls
	var respIDs []string
	for _, ev := range turn.Events {
		for _, fr := range ev.GetFunctionResponses() {
			respIDs = append(respIDs, fr.ID)
		}
	}
	assert.Equal(t, []string{"c1", "c2", "c3"}, respIDs)
}

func TestOrchestrator_AssignsCallIDsWhenMissing(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone), echoTool())
	f.model.replyCalls(core.FunctionCall{Name: "echo", Arguments: `{"text":"hi"}`})
	f.model.replyText("ok")

	turn, err := f.orch.RunTurn(context.Background(), f.session, "echo something")
	assert.NoError(t, err)

	calls := turn.Events[1].GetFunctionCalls()
	responses := turn.Events[2].GetFunctionResponses()
	assert.Len(t, calls, 1)
	assert.Len(t, responses, 1)
	assert.NotEmpty(t, calls[0].ID)
	assert.Equal(t, calls[0].ID, responses[0].ID)
}

// -------------------- Tool Failure Tests --------------------

func TestOrchestrator_ToolErrorReturnsToModelAsData(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	failing := tool.NewFunctionTool("flaky", "Always fails.", params, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		return nil, errors.New("upstream timeout")
	})

	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone), failing)
	f.model.replyCalls(core.FunctionCall{ID: "c1", Name: "flaky"})
	f.model.replyText("The tool failed, sorry.")

	turn, err := f.orch.RunTurn(context.Background(), f.session, "try the flaky tool")
	assert.NoError(t, err)
	assert.Equal(t, StateDone, turn.State)

	responses := turn.Events[2].GetFunctionResponses()
	assert.Len(t, responses, 1)
	assert.Contains(t, responses[0].Error, "upstream timeout")
	assert.Equal(t, 2, f.model.requestCount())
}

func TestOrchestrator_ForbiddenToolNeverRunsHandler(t *testing.T) {
	invoked := false
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	gated := tool.NewFunctionTool("calendar_list", "List calendars.", params, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		invoked = true
		return "calendars", nil
	}, tool.WithRequiredScopes(core.ScopeCalendarReadonly))

	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone), gated)
	f.model.replyCalls(core.FunctionCall{ID: "c1", Name: "calendar_list"})
	f.model.replyText("I cannot access your calendar.")

	turn, err := f.orch.RunTurn(context.Background(), f.session, "list my calendars")
	assert.NoError(t, err)
	assert.Equal(t, StateDone, turn.State)
	assert.False(t, invoked)

	responses := turn.Events[2].GetFunctionResponses()
	assert.Len(t, responses, 1)
	assert.Contains(t, responses[0].Error, "FORBIDDEN")
}

func TestOrchestrator_UnknownToolReportedAsData(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone))
	f.model.replyCalls(core.FunctionCall{ID: "c1", Name: "time_machine"})
	f.model.replyText("No such tool exists.")

	turn, err := f.orch.RunTurn(context.Background(), f.session, "go back in time")
	assert.NoError(t, err)
	assert.Equal(t, StateDone, turn.State)

	responses := turn.Events[2].GetFunctionResponses()
	assert.Contains(t, responses[0].Error, "NOT_FOUND")
}

func TestOrchestrator_PanickingToolDoesNotKillTurn(t *testing.T) {
	params := map[string]any{"type": "object", "properties": map[string]any{}}
	bomb := tool.NewFunctionTool("bomb", "Panics.", params, func(_ *core.ToolContext, _ map[string]any) (any, error) {
		panic("kaboom")
	})

	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone), bomb)
	f.model.replyCalls(core.FunctionCall{ID: "c1", Name: "bomb"})
	f.model.replyText("That tool crashed.")

	turn, err := f.orch.RunTurn(context.Background(), f.session, "boom")
	assert.NoError(t, err)
	assert.Equal(t, StateDone, turn.State)

	responses := turn.Events[2].GetFunctionResponses()
	assert.Contains(t, responses[0].Error, "kaboom")
}

// -------------------- Failure Mode Tests --------------------

func TestOrchestrator_BudgetExceededFailsTurn(t *testing.T) {
	f := newTurnFixture(t, 2, core.NewScopeSet(core.ScopeStandalone), echoTool())
	// every model call asks for another tool round, so the loop can only end
	// at the budget
	for i := 0; i < 4; i++ {
		f.model.replyCalls(core.FunctionCall{ID: fmt.Sprintf("c%d", i), Name: "echo", Arguments: `{"text":"again"}`})
	}

	turn, err := f.orch.RunTurn(context.Background(), f.session, "loop forever")
	assert.Error(t, err)

	var orchErr *OrchestratorError
	assert.ErrorAs(t, err, &orchErr)
	assert.Equal(t, CodeTurnBudgetExceeded, orchErr.Code)
	assert.Equal(t, StateFailed, turn.State)
	assert.Equal(t, 2, turn.ModelCalls)
	assert.Equal(t, 2, f.model.requestCount())

	last := turn.Events[len(turn.Events)-1]
	assert.NotNil(t, last.ErrorCode)
	assert.Equal(t, CodeTurnBudgetExceeded, *last.ErrorCode)
}

func TestOrchestrator_BackendFailureFailsTurnOnly(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone))
	backendErr := errors.New("rate limited")
	f.model.failWith(backendErr)

	turn, err := f.orch.RunTurn(context.Background(), f.session, "hello?")
	assert.Error(t, err)

	var orchErr *OrchestratorError
	assert.ErrorAs(t, err, &orchErr)
	assert.Equal(t, CodeBackendError, orchErr.Code)
	assert.ErrorIs(t, err, backendErr)
	assert.Equal(t, StateFailed, turn.State)

	// the session survives a failed turn
	assert.False(t, f.session.Ended())
	f.model.replyText("Back online.")
	again, err := f.orch.RunTurn(context.Background(), f.session, "hello again")
	assert.NoError(t, err)
	assert.Equal(t, StateDone, again.State)
	assert.Equal(t, "Back online.", again.FinalText)
}

func TestOrchestrator_CancellationStopsTurn(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone))
	f.model.hangUntilCancelled()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)

	turn, err := f.orch.RunTurn(ctx, f.session, "this will be cancelled")
	assert.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateFailed, turn.State)
	assert.False(t, f.session.Ended())
}

// -------------------- Instruction Tests --------------------

func TestOrchestrator_MemoryFactsInjectedIntoInstructions(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone))
	assert.NoError(t, f.store.Save(context.Background(), "alice", "cat_name", "Miso"))
	f.model.replyText("Your cat is called Miso.")

	_, err := f.orch.RunTurn(context.Background(), f.session, "what is my cat called?")
	assert.NoError(t, err)

	req := f.model.request(0)
	assert.Contains(t, req.Instructions, "You know the following from previous conversations:")
	assert.Contains(t, req.Instructions, "- cat_name: Miso")
}

func TestOrchestrator_NoMemoryBlockWithoutFacts(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone))
	f.model.replyText("Hello!")

	_, err := f.orch.RunTurn(context.Background(), f.session, "hi")
	assert.NoError(t, err)

	req := f.model.request(0)
	assert.NotContains(t, req.Instructions, "previous conversations")
}

func TestOrchestrator_CustomNameAndInstruction(t *testing.T) {
	reg := tool.NewRegistry()
	store := memory.NewInMemoryStore()
	mgr := session.NewManager(reg, store, router.Config{})
	scripted := newScriptedModel(8)
	sess, err := mgr.Begin(context.Background(), "alice", core.NewScopeSet(core.ScopeStandalone), session.WithBackend(scripted))
	assert.NoError(t, err)
	defer sess.End()

	orch := New(reg, func(o *Options) {
		o.Name = "jarvis"
		o.Instruction = NewInstructionFromText("You are a terse butler.")
	})
	scripted.replyText("Indeed.")

	turn, err := orch.RunTurn(context.Background(), sess, "are you there?")
	assert.NoError(t, err)
	assert.Equal(t, "jarvis", turn.Events[1].Author)
	assert.True(t, strings.HasPrefix(scripted.request(0).Instructions, "You are a terse butler."))
}

func TestOrchestrator_InstructionTemplatePlaceholders(t *testing.T) {
	reg := tool.NewRegistry()
	store := memory.NewInMemoryStore()
	mgr := session.NewManager(reg, store, router.Config{})
	scripted := newScriptedModel(8)
	sess, err := mgr.Begin(context.Background(), "alice", core.NewScopeSet(core.ScopeStandalone), session.WithBackend(scripted))
	assert.NoError(t, err)
	defer sess.End()

	orch := New(reg, func(o *Options) {
		o.Name = "jarvis"
		o.Instruction = NewInstructionFromText("You are {{.assistant}} assisting {{.identity}}. Today is {{.current_date}}.")
	})
	scripted.replyText("At your service.")

	_, err = orch.RunTurn(context.Background(), sess, "hello")
	assert.NoError(t, err)

	got := scripted.request(0).Instructions
	assert.Contains(t, got, "You are jarvis assisting alice.")
	assert.Contains(t, got, time.Now().Format("2006"))
	assert.NotContains(t, got, "{{")
}

// -------------------- Event Streaming Tests --------------------

func TestOrchestrator_EmitStreamsEventsLive(t *testing.T) {
	f := newTurnFixture(t, 8, core.NewScopeSet(core.ScopeStandalone), echoTool())
	f.model.replyCalls(core.FunctionCall{ID: "c1", Name: "echo", Arguments: `{"text":"x"}`})
	f.model.replyText("done")

	emitted := make(chan core.Event, 16)
	turn, err := f.orch.RunTurn(context.Background(), f.session, "stream me", WithEmit(emitted))
	assert.NoError(t, err)
	close(emitted)

	var streamed []core.Event
	for ev := range emitted {
		streamed = append(streamed, ev)
	}
	assert.Len(t, streamed, len(turn.Events))
	assert.Equal(t, "user", streamed[0].Author)
	for i, ev := range streamed {
		assert.Equal(t, turn.Events[i].ID, ev.ID)
	}
}
