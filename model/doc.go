// Package model defines the provider‑agnostic abstractions and concrete
// helpers for interacting with language / reasoning models inside penny.
//
// Core goals:
//   - Unify streaming + non‑streaming generation behind a single interface
//   - Normalize tool / function call representation (ToolDefinition, ToolCall)
//   - Carry static capability metadata (Info) the orchestrator relies on
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (OpenAI, Anthropic, Google) implement the Model interface from
// this package so higher layers (session, orchestrator) remain decoupled from
// vendor SDKs. The router subpackage turns a "provider:model-name" selector
// into a ready backend.
package model
