package core

import (
	"context"
	"sort"
	"time"
)

// MemoryRecord is one persisted fact about a user. Records are keyed; saving
// an existing key replaces the value (last write wins) and bumps UpdatedAt.
type MemoryRecord struct {
	Key       string    `json:"key" toml:"key"`
	Value     string    `json:"value" toml:"value"`
	UpdatedAt time.Time `json:"updated_at" toml:"updated_at"`
}

// MemoryNamespace is the full record set persisted for one identity, keyed by
// record key. Namespaces of distinct identities are disjoint by construction;
// no operation exposes one identity's records to another.
type MemoryNamespace map[string]MemoryRecord

// Keys returns the record keys in sorted order for stable rendering.
func (ns MemoryNamespace) Keys() []string {
	keys := make([]string, 0, len(ns))
	for k := range ns {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Records returns the records sorted by key.
func (ns MemoryNamespace) Records() []MemoryRecord {
	out := make([]MemoryRecord, 0, len(ns))
	for _, k := range ns.Keys() {
		out = append(out, ns[k])
	}
	return out
}

// Clone returns an independent copy of the namespace.
func (ns MemoryNamespace) Clone() MemoryNamespace {
	c := make(MemoryNamespace, len(ns))
	for k, v := range ns {
		c[k] = v
	}
	return c
}

// MemoryStore persists per-identity memory namespaces across sessions. It is
// the only resource shared between sessions; implementations must be safe for
// concurrent use and must serialize writers per identity, never globally.
//
// Contract:
//   - Load returns an empty namespace (not an error) when nothing has been
//     persisted for the identity.
//   - Save performs a read-modify-write of the identity's full namespace; a
//     failed save leaves the previously persisted state intact.
type MemoryStore interface {
	Load(ctx context.Context, identity Identity) (MemoryNamespace, error)
	Save(ctx context.Context, identity Identity, key, value string) error
}

// MemoryAccessor is the session-bound view of one identity's namespace handed
// to turn execution. Implementations pin the identity at session start so
// deeper layers never choose whose memory they touch.
type MemoryAccessor interface {
	// Memory returns the namespace, loading it on first access.
	Memory(ctx context.Context) (MemoryNamespace, error)
	// SaveFact writes one record through to the store.
	SaveFact(ctx context.Context, key, value string) error
}
