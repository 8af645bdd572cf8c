package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/agent-penny/penny/core"
)

// InMemoryStore is a process-local MemoryStore for tests, examples and
// ephemeral runs. Facts live only as long as the process.
//
// Concurrency: a single RWMutex guards the map of namespaces. Updates are
// plain map operations, so the critical sections are short and a global lock
// is fine here; FileStore carries real per-identity locks because its writes
// do IO.
type InMemoryStore struct {
	mu   sync.RWMutex
	data map[core.Identity]core.MemoryNamespace
}

var _ core.MemoryStore = (*InMemoryStore)(nil)

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		data: make(map[core.Identity]core.MemoryNamespace),
	}
}

// Load returns a copy of the identity's namespace. Unknown identities get an
// empty namespace, never an error.
func (m *InMemoryStore) Load(ctx context.Context, identity core.Identity) (core.MemoryNamespace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ns, ok := m.data[identity]
	if !ok {
		return make(core.MemoryNamespace), nil
	}
	return ns.Clone(), nil
}

// Save upserts one fact in the identity's namespace. Last write wins.
func (m *InMemoryStore) Save(ctx context.Context, identity core.Identity, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key == "" {
		return errors.New("memory store: key must not be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ns, ok := m.data[identity]
	if !ok {
		ns = make(core.MemoryNamespace)
		m.data[identity] = ns
	}
	ns[key] = core.MemoryRecord{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	return nil
}
