// Package orchestrator registers agents and runs collaborations between
// them.
//
// Strategies:
//   - Sequential: agents run in caller order and each output is handed to
//     the next agent. The first failure stops the chain.
//   - Parallel: every agent receives the task and runs concurrently. A
//     failing agent never cancels its siblings.
//   - Hierarchical: the first agent decomposes the task, the remaining
//     agents run their sub-tasks concurrently and the first agent
//     synthesizes the final answer. Coordinator failures are fatal.
//
// Every collaboration tracks a core.Task, can be cancelled by task id and
// collects the evidence emitted by its agents into one chain, which is
// finalized and handed to the configured core.Store.
package orchestrator
