// Package memory provides the durable fact store behind the assistant's
// long-term memory.
//
// Each identity owns one TOML file under the data directory, named after the
// sanitized identity. The full namespace is rewritten on every save through a
// temp-file-then-rename sequence, so a crash mid-write leaves the previous
// file intact. Writers for the same identity are serialized against each
// other; different identities never contend.
//
// The store contract lives in the core package: depend on core.MemoryStore in
// your code and select an implementation at wiring time. FileStore is the
// production store. InMemoryStore keeps the same contract in a process-local
// map for tests and examples. The load_memory and save_memory tools expose
// the store to the model through the session's memory accessor.
package memory
