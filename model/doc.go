// Package model defines the provider-agnostic generation backend used by
// worker agents.
//
// Core goals:
//   - One blocking Generate call behind a bounded context, no streaming
//   - Request/response shapes minimal and transport independent
//   - Facilitate lightweight mocking for tests (MockBackend)
//
// Providers (e.g. Anthropic, OpenAI) implement the Backend interface from
// this package so agents remain decoupled from vendor SDKs. Backend
// failures surface as errors to the caller; agents answer them with the
// deterministic template fallback rather than letting them escape.
package model
