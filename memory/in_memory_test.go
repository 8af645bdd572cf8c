package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

func TestInMemoryStore_LoadMissingIsEmpty(t *testing.T) {
	store := NewInMemoryStore()

	ns, err := store.Load(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ns) != 0 {
		t.Fatalf("expected empty namespace, got %#v", ns)
	}
}

func TestInMemoryStore_SaveRoundTrip(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	if err := store.Save(ctx, "alice", "k1", "v1"); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if err := store.Save(ctx, "alice", "k2", "v2"); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	ns, _ := store.Load(ctx, "alice")
	if len(ns) != 2 || ns["k1"].Value != "v1" || ns["k2"].Value != "v2" {
		t.Fatalf("unexpected namespace contents: %#v", ns)
	}

	// mutation safety (returned namespace is a copy)
	delete(ns, "k1")
	again, _ := store.Load(ctx, "alice")
	if len(again) != 2 {
		t.Fatalf("expected copy isolation, got %#v", again)
	}
}

func TestInMemoryStore_NamespaceIsolation(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	_ = store.Save(ctx, "alice", "secret", "alice's")
	_ = store.Save(ctx, "bob", "secret", "bob's")

	aliceNS, _ := store.Load(ctx, "alice")
	bobNS, _ := store.Load(ctx, "bob")
	if aliceNS["secret"].Value != "alice's" || bobNS["secret"].Value != "bob's" {
		t.Fatalf("namespaces leaked: alice=%#v bob=%#v", aliceNS, bobNS)
	}
}

func TestInMemoryStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", i%5)
			if err := store.Save(ctx, "alice", key, fmt.Sprintf("v%d", i)); err != nil {
				t.Errorf("save error: %v", err)
			}
			if _, err := store.Load(ctx, "alice"); err != nil {
				t.Errorf("load error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	ns, _ := store.Load(ctx, "alice")
	if len(ns) != 5 {
		t.Fatalf("expected 5 keys after concurrent saves, got %d", len(ns))
	}
}
