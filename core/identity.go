package core

import "sort"

// Identity names the user a session acts on behalf of. It is an opaque,
// caller-supplied string (an OS username in standalone mode, an account id
// behind an OAuth transport) and is passed explicitly on every call that
// touches per-user state. Implementations never infer it from ambient state.
type Identity string

// String returns the raw identity string.
func (id Identity) String() string { return string(id) }

// Well-known scopes granted by the authentication collaborator. The local
// single-user mode grants exactly ScopeStandalone; OAuth-backed transports
// grant the tails of the consented Google scopes.
const (
	ScopeStandalone       = "standalone"
	ScopeCalendarReadonly = "calendar.readonly"
	ScopeMailReadonly     = "gmail.readonly"
)

// ScopeSet is the set of permission scopes granted to a session. It is fixed
// at session start; membership checks drive tool visibility and the dispatch
// re-check.
type ScopeSet map[string]bool

// NewScopeSet builds a ScopeSet from the given scope names.
func NewScopeSet(scopes ...string) ScopeSet {
	s := make(ScopeSet, len(scopes))
	for _, sc := range scopes {
		s[sc] = true
	}
	return s
}

// Has reports whether the set contains the given scope.
func (s ScopeSet) Has(scope string) bool { return s[scope] }

// Satisfies reports whether every scope in required is present in s. An empty
// or nil required set is satisfied by any set.
func (s ScopeSet) Satisfies(required ScopeSet) bool {
	for sc := range required {
		if !s[sc] {
			return false
		}
	}
	return true
}

// List returns the scopes in sorted order for stable logging and prompts.
func (s ScopeSet) List() []string {
	out := make([]string, 0, len(s))
	for sc := range s {
		out = append(out, sc)
	}
	sort.Strings(out)
	return out
}

// Clone returns an independent copy of the set.
func (s ScopeSet) Clone() ScopeSet {
	c := make(ScopeSet, len(s))
	for sc := range s {
		c[sc] = true
	}
	return c
}
