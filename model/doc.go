// Package model defines the provider-agnostic completion capability consumed
// by ResearchMesh agents.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool call representation on core.Message parts
//   - Retry transient provider errors with bounded exponential backoff
//   - Facilitate lightweight mocking for tests (MockModel)
//
// Providers (e.g. OpenAI, Anthropic) implement the Model interface from this
// package so agents remain decoupled from vendor SDKs.
package model
