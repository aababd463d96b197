// Package agent implements the reasoning agents of researchmesh.
//
// ReasoningAgent runs a bounded observe-think-act loop: each iteration asks
// the model for the next step, parses the intent (final answer or one tool
// call), executes the tool through the shared registry and feeds the result
// back as an observation. The loop ends with a final answer, a truncated
// partial answer after max_iterations, or an annotated failure reply.
//
// ResearchAgent is the research variant. It shares the loop and adds
// ConductResearch, which collects evidence from successful tool calls.
//
// Use New to build the variant named by an AgentConfig.
package agent
