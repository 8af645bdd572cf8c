package core

import (
	"context"
	"testing"
)

func TestToolContext_Accessors(t *testing.T) {
	turnCtx := newTestTurnContext(context.Background(), nil, &fakeAccessor{})
	tc := NewToolContext(turnCtx, "fc-1")

	if tc.TurnID() != "turn-1" {
		t.Fatalf("unexpected turn id: %s", tc.TurnID())
	}
	if tc.Identity() != Identity("alice") {
		t.Fatalf("unexpected identity: %s", tc.Identity())
	}
	if !tc.Scopes().Has(ScopeStandalone) {
		t.Fatal("expected standalone scope on tool context")
	}
	if tc.FunctionCallID() != "fc-1" {
		t.Fatalf("unexpected function call id: %s", tc.FunctionCallID())
	}
	if tc.Context() != turnCtx.Context {
		t.Fatal("tool context must expose the turn's context")
	}
}

func TestToolContext_MemoryDelegation(t *testing.T) {
	acc := &fakeAccessor{}
	turnCtx := newTestTurnContext(context.Background(), nil, acc)
	tc := NewToolContext(turnCtx, "fc-2")

	if err := tc.SaveFact("color", "green"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	ns, err := tc.RecallMemory()
	if err != nil {
		t.Fatalf("recall failed: %v", err)
	}
	if ns["color"].Value != "green" {
		t.Fatalf("expected fact visible through tool context, got %+v", ns)
	}
	if len(acc.saved) != 1 || acc.saved[0] != "color" {
		t.Fatalf("expected one save through accessor, got %v", acc.saved)
	}
}

func TestToolContext_Validation(t *testing.T) {
	turnCtx := newTestTurnContext(context.Background(), nil, &fakeAccessor{})

	valid := NewToolContext(turnCtx, "fc-3")
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid context: %v", err)
	}
	if !valid.IsValid() {
		t.Fatal("IsValid should agree with Validate")
	}

	missingCall := NewToolContext(turnCtx, "")
	if err := missingCall.Validate(); err == nil {
		t.Fatal("expected error for empty function call id")
	}

	anonymous := newTestTurnContext(context.Background(), nil, &fakeAccessor{})
	anonymous.Identity = ""
	if NewToolContext(anonymous, "fc-4").IsValid() {
		t.Fatal("expected invalid context for empty identity")
	}
}
