package core

import (
	"context"
	"testing"
	"time"
)

type testLogger struct{}

func (l testLogger) Debug(string, ...interface{}) {}
func (l testLogger) Info(string, ...interface{})  {}
func (l testLogger) Warn(string, ...interface{})  {}
func (l testLogger) Error(string, ...interface{}) {}

// fakeAccessor is a session-bound memory double backed by a plain map.
type fakeAccessor struct {
	ns       MemoryNamespace
	saved    []string
	loadErr  error
	saveErr  error
	loadHits int
}

func (f *fakeAccessor) Memory(_ context.Context) (MemoryNamespace, error) {
	f.loadHits++
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	if f.ns == nil {
		f.ns = MemoryNamespace{}
	}
	return f.ns, nil
}

func (f *fakeAccessor) SaveFact(_ context.Context, key, value string) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.ns == nil {
		f.ns = MemoryNamespace{}
	}
	f.ns[key] = MemoryRecord{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	f.saved = append(f.saved, key)
	return nil
}

func newTestTurnContext(ctx context.Context, emit chan<- Event, acc MemoryAccessor) *TurnContext {
	return NewTurnContext(
		ctx,
		"turn-1",
		Identity("alice"),
		NewScopeSet(ScopeStandalone),
		NewUserContent("hi"),
		nil,
		8,
		emit,
		acc,
		testLogger{},
	)
}

func TestTurnLimiter_BudgetEnforcement(t *testing.T) {
	tl := NewTurnLimiter(3)
	for i := 0; i < 3; i++ {
		if err := tl.Increment(); err != nil {
			t.Fatalf("call %d unexpectedly over budget: %v", i+1, err)
		}
	}
	if err := tl.Increment(); err == nil {
		t.Fatal("expected budget error on call 4")
	}
	if tl.Count() != 4 {
		t.Fatalf("expected count 4, got %d", tl.Count())
	}
}

func TestTurnLimiter_ZeroMeansUnlimited(t *testing.T) {
	tl := NewTurnLimiter(0)
	for i := 0; i < 100; i++ {
		if err := tl.Increment(); err != nil {
			t.Fatalf("unlimited limiter errored at call %d: %v", i+1, err)
		}
	}
	if tl.Remaining() != -1 {
		t.Fatalf("expected -1 remaining for unlimited, got %d", tl.Remaining())
	}
}

func TestMemoryNamespace_KeysSortedAndClone(t *testing.T) {
	ns := MemoryNamespace{
		"b": {Key: "b", Value: "2"},
		"a": {Key: "a", Value: "1"},
		"c": {Key: "c", Value: "3"},
	}

	keys := ns.Keys()
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("expected sorted keys, got %v", keys)
	}

	recs := ns.Records()
	if recs[0].Value != "1" || recs[2].Value != "3" {
		t.Fatalf("records not ordered by key: %+v", recs)
	}

	c := ns.Clone()
	c["d"] = MemoryRecord{Key: "d"}
	if _, ok := ns["d"]; ok {
		t.Error("clone mutation leaked into original")
	}
}
