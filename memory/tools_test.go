package memory

import (
	"context"
	"testing"

	"github.com/agent-penny/penny/core"
	"github.com/agent-penny/penny/logging"
)

// storeAccessor binds a store to one identity, mirroring what a session does.
type storeAccessor struct {
	store    core.MemoryStore
	identity core.Identity
}

func (a *storeAccessor) Memory(ctx context.Context) (core.MemoryNamespace, error) {
	return a.store.Load(ctx, a.identity)
}

func (a *storeAccessor) SaveFact(ctx context.Context, key, value string) error {
	return a.store.Save(ctx, a.identity, key, value)
}

func toolContextFor(store core.MemoryStore, identity core.Identity) *core.ToolContext {
	turnCtx := core.NewTurnContext(
		context.Background(),
		"turn-1",
		identity,
		core.NewScopeSet(core.ScopeStandalone),
		core.NewUserContent("hi"),
		nil,
		8,
		nil,
		&storeAccessor{store: store, identity: identity},
		logging.NoOpLogger{},
	)
	return core.NewToolContext(turnCtx, "fc-1")
}

func TestFormatFacts(t *testing.T) {
	ns := core.MemoryNamespace{
		"home_town":      {Key: "home_town", Value: "Utrecht"},
		"favorite_color": {Key: "favorite_color", Value: "teal"},
	}

	got := FormatFacts(ns)
	want := "- favorite_color: teal\n- home_town: Utrecht"
	if got != want {
		t.Fatalf("unexpected rendering:\n%s", got)
	}

	if FormatFacts(core.MemoryNamespace{}) != "" {
		t.Fatalf("empty namespace must render empty")
	}
}

func TestLoadMemoryTool_EmptyNamespace(t *testing.T) {
	tc := toolContextFor(NewInMemoryStore(), "alice")

	result, err := NewLoadMemoryTool().Call(tc, map[string]any{})
	if err != nil {
		t.Fatalf("load_memory failed: %v", err)
	}
	if result != "" {
		t.Fatalf("expected empty result, got %q", result)
	}
}

func TestSaveThenLoadMemoryTools(t *testing.T) {
	store := NewInMemoryStore()
	tc := toolContextFor(store, "alice")

	saveTool := NewSaveMemoryTool()
	if _, err := saveTool.Call(tc, map[string]any{"key": "cat_name", "value": "Miso"}); err != nil {
		t.Fatalf("save_memory failed: %v", err)
	}

	result, err := NewLoadMemoryTool().Call(tc, map[string]any{})
	if err != nil {
		t.Fatalf("load_memory failed: %v", err)
	}
	if result != "- cat_name: Miso" {
		t.Fatalf("unexpected load_memory result: %q", result)
	}

	// the fact must be visible only to its owner
	other := toolContextFor(store, "bob")
	otherResult, _ := NewLoadMemoryTool().Call(other, map[string]any{})
	if otherResult != "" {
		t.Fatalf("bob must not see alice's facts, got %q", otherResult)
	}
}

func TestSaveMemoryTool_MissingArgsRejected(t *testing.T) {
	tc := toolContextFor(NewInMemoryStore(), "alice")

	if _, err := NewSaveMemoryTool().Call(tc, map[string]any{"key": "only_key"}); err == nil {
		t.Fatalf("expected validation error for missing value")
	}
}
