// Package logging provides a minimal logging interface and adapters for ResearchMesh.
//
// The Logger interface defines the structured logging methods (Debug, Info,
// Warn, Error) that agents, tools and the orchestrator use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZerologAdapter wrapping github.com/rs/zerolog
//   - StructuredLogger with component / task context and domain helpers
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewZerologAdapter(zerolog.New(os.Stderr).With().Timestamp().Logger())
//	mesh := researchmesh.New(m, func(o *researchmesh.Options) { o.Logger = logger })
//
// Arguments after the message are alternating key/value pairs.
package logging
