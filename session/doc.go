// Package session binds an authenticated identity to its conversation-scoped
// resources: the tools its scopes allow, the model resolved from config and a
// cached view of its memory namespace.
//
// The Manager is the only way to create a Session. Bindings are computed at
// Begin and immutable afterwards; End releases them on every exit path. The
// memory store is the one resource shared across sessions, and every access
// to it carries the session's own identity.
package session
