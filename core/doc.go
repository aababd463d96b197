// Package core provides the foundational domain types and contracts used by
// ResearchMesh:
//
//   - Messages (immutable units of communication with typed content parts)
//   - Agent configuration, runtime state and the Agent contract
//   - Tasks and their lifecycle
//   - Evidence items, relationships and chains plus the sink used to emit them
//   - The error taxonomy shared by agents and the orchestrator
//   - The persistence contract (save / load by id)
//
// Implementations (agents, memory, tools, orchestration, storage) live in
// their own packages and depend on core, never the other way around.
package core
