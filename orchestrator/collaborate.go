package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/evidence"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/telemetry"
)

// Strategy selects how agents collaborate on a task.
type Strategy string

const (
	// Sequential runs agents in order, feeding each output to the next agent.
	Sequential Strategy = "sequential"
	// Parallel runs all agents concurrently on the same input.
	Parallel Strategy = "parallel"
	// Hierarchical lets the first agent decompose the task, runs the
	// sub-tasks on the remaining agents and has the first agent synthesize.
	Hierarchical Strategy = "hierarchical"
)

// ParseStrategy validates s.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case Sequential, Parallel, Hierarchical:
		return st, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
}

// Outcome summarizes a collaboration.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomePartial Outcome = "partial"
	OutcomeFailure Outcome = "failure"
)

// Phases recorded on steps and failures.
const (
	PhaseSequential    = "sequential"
	PhaseParallel      = "parallel"
	PhaseDecomposition = "decomposition"
	PhaseSubtask       = "subtask"
	PhaseSynthesis     = "synthesis"
)

// Step records one agent reply of a collaboration.
type Step struct {
	AgentID   string         `json:"agent_id"`
	AgentName string         `json:"agent_name"`
	Phase     string         `json:"phase"`
	Input     core.Message   `json:"input"`
	Output    core.Message   `json:"output"`
	Kind      core.ErrorKind `json:"error_kind,omitempty"`
	Error     string         `json:"error,omitempty"`
	Duration  time.Duration  `json:"duration"`
	err       error
}

// Succeeded reports whether the reply finished without error.
func (s Step) Succeeded() bool { return s.err == nil && s.Error == "" }

// Failure records a per-agent failure.
type Failure struct {
	AgentID string         `json:"agent_id"`
	Phase   string         `json:"phase"`
	Kind    core.ErrorKind `json:"kind"`
	Error   string         `json:"error"`
	// Output is the annotated reply of the failed agent, including partial
	// answers of truncated runs.
	Output core.Message `json:"output"`
}

// CollaborationResult is returned for every executed collaboration.
type CollaborationResult struct {
	TaskID   string   `json:"task_id"`
	ChainID  string   `json:"chain_id"`
	Strategy Strategy `json:"strategy"`
	Outcome  Outcome  `json:"outcome"`
	// Output is the final result: the last sequential agent, the
	// hierarchical synthesis. It is zero for parallel runs.
	Output core.Message `json:"output"`
	// Outputs maps agent ids to successful replies.
	Outputs map[string]core.Message `json:"outputs"`
	// Failures lists failed agents in caller order.
	Failures []Failure `json:"failures,omitempty"`
	// Steps lists executed replies in caller order.
	Steps []Step `json:"steps"`
	// Fatal is set when hierarchical coordination failed.
	Fatal    *core.CollaborationError `json:"-"`
	Evidence core.EvidenceChain       `json:"evidence"`
	Analysis evidence.Analysis        `json:"analysis"`
	Duration time.Duration            `json:"duration"`
}

// FatalError returns the fatal error message, if any.
func (r *CollaborationResult) FatalError() string {
	if r.Fatal == nil {
		return ""
	}
	return r.Fatal.Error()
}

func (r *CollaborationResult) record(step Step) {
	r.Steps = append(r.Steps, step)
	if step.Succeeded() {
		r.Outputs[step.AgentID] = step.Output
		return
	}
	r.Failures = append(r.Failures, Failure{
		AgentID: step.AgentID,
		Phase:   step.Phase,
		Kind:    step.Kind,
		Error:   step.Error,
		Output:  step.Output,
	})
}

// Run is a started collaboration.
type Run struct {
	TaskID  string
	ChainID string

	done chan struct{}
	res  *CollaborationResult
}

// Done is closed when the collaboration has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Wait blocks until the collaboration has finished and returns its result.
func (r *Run) Wait() *CollaborationResult {
	<-r.done
	return r.res
}

// Collaborate runs task on the agents with the given strategy and waits
// for the result.
//
// All agent ids are validated before any agent runs: an unknown id yields
// *core.AgentNotFoundError. After validation every outcome, including agent
// failures, cancellation and fatal hierarchical failures, is reported in
// the result and the error is nil.
func (o *Orchestrator) Collaborate(ctx context.Context, agentIDs []string, task core.Task, strategy Strategy) (*CollaborationResult, error) {
	run, err := o.Start(ctx, agentIDs, task, strategy)
	if err != nil {
		return nil, err
	}
	return run.Wait(), nil
}

// Start validates the request, registers the task as running and runs the
// collaboration in the background. Once Start returns, the task is visible
// to Task and can be cancelled with Cancel. A task id that is still running
// is rejected with ErrTaskRunning.
func (o *Orchestrator) Start(ctx context.Context, agentIDs []string, task core.Task, strategy Strategy) (*Run, error) {
	switch strategy {
	case Sequential, Parallel, Hierarchical:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}
	if len(agentIDs) == 0 {
		return nil, ErrNoAgents
	}
	agents, err := o.resolve(agentIDs)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(task.Description) == "" {
		return nil, core.NewConfigurationError("task.description", "must not be empty")
	}

	now := time.Now().UTC()
	if task.ID == "" {
		task.ID = core.NewID()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.AssignedAgentIDs = append([]string(nil), agentIDs...)
	task.Status = core.TaskRunning
	task.Result, task.Error = "", ""
	task.UpdatedAt = now

	tracked := task.Clone()
	runCtx, done, err := o.startTask(ctx, &tracked)
	if err != nil {
		return nil, err
	}

	chain := o.analyzer.CreateChain(task.ID)
	task.ChainID = chain.ID
	o.updateTask(task.ID, func(t *core.Task) { t.ChainID = chain.ID })

	run := &Run{TaskID: task.ID, ChainID: chain.ID, done: make(chan struct{})}
	go func() {
		defer close(run.done)
		defer done()
		run.res = o.execute(runCtx, agents, task, strategy)
	}()
	return run, nil
}

func (o *Orchestrator) execute(ctx context.Context, agents []core.Agent, task core.Task, strategy Strategy) *CollaborationResult {
	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.collaborate", trace.WithAttributes(
		attribute.String("task.id", task.ID),
		attribute.String("collaboration.strategy", string(strategy)),
		attribute.Int("collaboration.agents", len(agents)),
	))
	ctx = core.ContextWithEvidenceSink(ctx, o.analyzer.Sink(task.ChainID))

	o.logger.Info("orchestrator.collaborate.start", "task", task.ID, "strategy", string(strategy), "agents", len(agents))

	res := &CollaborationResult{
		TaskID:   task.ID,
		ChainID:  task.ChainID,
		Strategy: strategy,
		Outputs:  make(map[string]core.Message, len(agents)),
	}
	start := time.Now()

	switch strategy {
	case Sequential:
		o.runSequential(ctx, agents, task, res)
	case Parallel:
		o.runParallel(ctx, agents, task, res)
	case Hierarchical:
		o.runHierarchical(ctx, agents, task, res)
	}

	res.Duration = time.Since(start)
	res.Outcome = outcomeOf(res)
	o.collectEvidence(res)

	cancelled := errors.Is(context.Cause(ctx), core.ErrTaskCancelled)
	final := o.updateTask(task.ID, func(t *core.Task) {
		switch {
		case cancelled:
			t.Status = core.TaskCancelled
		case res.Outcome == OutcomeFailure:
			t.Status = core.TaskFailed
		default:
			t.Status = core.TaskCompleted
		}
		t.Result = resultText(res)
		t.Error = errorText(res)
	})
	o.persist(ctx, final, res.Evidence)

	logging.RecordStrategyExecution(o.logger, string(strategy), len(agents), len(res.Failures), res.Duration, string(res.Outcome))
	span.SetAttributes(
		attribute.String("collaboration.outcome", string(res.Outcome)),
		attribute.Int("collaboration.failures", len(res.Failures)),
	)
	var spanErr error
	if res.Fatal != nil {
		spanErr = res.Fatal
	}
	telemetry.EndSpan(span, spanErr)
	return res
}

// reply runs one agent step under the step timeout.
func (o *Orchestrator) reply(ctx context.Context, a core.Agent, phase string, input core.Message) Step {
	stepCtx, cancel := o.stepContext(ctx)
	defer cancel()

	start := time.Now()
	out, err := a.Reply(stepCtx, input)
	step := Step{
		AgentID:   a.ID(),
		AgentName: a.Config().Name,
		Phase:     phase,
		Input:     input,
		Output:    out,
		Duration:  time.Since(start),
		err:       err,
	}
	if err != nil {
		step.Kind = core.KindOf(err)
		step.Error = err.Error()
		o.logger.Warn("orchestrator.agent.failed", "agent", a.ID(), "phase", phase, "kind", string(step.Kind), "error", step.Error)
	}
	return step
}

func (o *Orchestrator) runSequential(ctx context.Context, agents []core.Agent, task core.Task, res *CollaborationResult) {
	input := taskMessage(task)
	for _, a := range agents {
		step := o.reply(ctx, a, PhaseSequential, input)
		res.record(step)
		if !step.Succeeded() {
			return
		}
		res.Output = step.Output
		input = handoffMessage(task, step)
	}
}

func (o *Orchestrator) runParallel(ctx context.Context, agents []core.Agent, task core.Task, res *CollaborationResult) {
	inputs := make([]core.Message, len(agents))
	for i := range agents {
		inputs[i] = taskMessage(task)
	}
	for _, step := range o.fanOut(ctx, agents, inputs, PhaseParallel) {
		res.record(step)
	}
}

// fanOut replies concurrently and returns the steps in agent order. A
// failing agent never cancels its siblings.
func (o *Orchestrator) fanOut(ctx context.Context, agents []core.Agent, inputs []core.Message, phase string) []Step {
	steps := make([]Step, len(agents))

	var g errgroup.Group
	if o.opts.MaxConcurrency > 0 {
		g.SetLimit(o.opts.MaxConcurrency)
	}
	for i, a := range agents {
		g.Go(func() error {
			steps[i] = o.reply(ctx, a, phase, inputs[i])
			return nil
		})
	}
	_ = g.Wait()
	return steps
}

func (o *Orchestrator) runHierarchical(ctx context.Context, agents []core.Agent, task core.Task, res *CollaborationResult) {
	coordinator, workers := agents[0], agents[1:]

	plan := o.reply(ctx, coordinator, PhaseDecomposition, decompositionMessage(task, workers))
	res.Steps = append(res.Steps, plan)
	if !plan.Succeeded() {
		res.Fatal = &core.CollaborationError{TaskID: task.ID, Phase: PhaseDecomposition, Err: plan.err}
		res.Failures = append(res.Failures, Failure{AgentID: plan.AgentID, Phase: plan.Phase, Kind: plan.Kind, Error: plan.Error, Output: plan.Output})
		return
	}

	assignments := ParseAssignments(plan.Output.Text(), coordinator.ID(), workers)
	o.logger.Info("orchestrator.hierarchical.plan", "task", task.ID, "assignments", len(assignments))

	assigned := make([]core.Agent, len(assignments))
	inputs := make([]core.Message, len(assignments))
	for i, as := range assignments {
		assigned[i] = as.Agent
		inputs[i] = subtaskMessage(task, as)
	}
	results := o.fanOut(ctx, assigned, inputs, PhaseSubtask)
	for _, step := range results {
		res.record(step)
	}

	synthesis := o.reply(ctx, coordinator, PhaseSynthesis, synthesisMessage(task, plan.Output, results))
	res.Steps = append(res.Steps, synthesis)
	if !synthesis.Succeeded() {
		res.Fatal = &core.CollaborationError{TaskID: task.ID, Phase: PhaseSynthesis, Err: synthesis.err}
		res.Failures = append(res.Failures, Failure{AgentID: synthesis.AgentID, Phase: synthesis.Phase, Kind: synthesis.Kind, Error: synthesis.Error, Output: synthesis.Output})
		return
	}
	res.Outputs[coordinator.ID()] = synthesis.Output
	res.Output = synthesis.Output
}

func outcomeOf(res *CollaborationResult) Outcome {
	switch {
	case res.Fatal != nil:
		return OutcomeFailure
	case len(res.Failures) == 0:
		return OutcomeSuccess
	case len(res.Outputs) == 0:
		return OutcomeFailure
	default:
		return OutcomePartial
	}
}

// collectEvidence ingests the successful outputs as agent claims, marks the
// evidence of contributing agents as used and finalizes the chain.
func (o *Orchestrator) collectEvidence(res *CollaborationResult) {
	contributors := make([]string, 0, len(res.Outputs))
	for _, step := range res.Steps {
		out, ok := res.Outputs[step.AgentID]
		if !ok || out.ID != step.Output.ID {
			continue
		}
		contributors = append(contributors, step.AgentID)
		if item, ok := evidence.FromMessage(step.AgentID, out); ok {
			if _, err := o.analyzer.Ingest(res.ChainID, item); err != nil {
				o.logger.Warn("evidence.ingest.dropped", "chain", res.ChainID, "agent", step.AgentID, "error", err)
			}
		}
	}
	if _, err := o.analyzer.MarkUsedByAgents(res.ChainID, contributors...); err != nil {
		o.logger.Warn("evidence.mark_used.failed", "chain", res.ChainID, "error", err)
	}

	chain, err := o.analyzer.Finalize(res.ChainID)
	if err != nil {
		o.logger.Error("evidence.finalize.failed", "chain", res.ChainID, "error", err)
		return
	}
	res.Evidence = chain
	if analysis, err := o.analyzer.Analyze(res.ChainID); err == nil {
		res.Analysis = analysis
	}
}

// persist hands the finalized records to the store. Store failures are
// logged and never change the collaboration result.
func (o *Orchestrator) persist(ctx context.Context, task core.Task, chain core.EvidenceChain) {
	if o.store == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := o.store.SaveTask(ctx, task); err != nil {
		o.logger.Error("store.task.save_failed", "task", task.ID, "error", err)
	}
	if chain.ID == "" {
		return
	}
	if err := o.store.SaveChain(ctx, chain); err != nil {
		o.logger.Error("store.chain.save_failed", "chain", chain.ID, "error", err)
		return
	}
	o.analyzer.Forget(chain.ID)
}

func resultText(res *CollaborationResult) string {
	if !res.Output.IsZero() {
		return res.Output.Text()
	}
	var parts []string
	for _, step := range res.Steps {
		if out, ok := res.Outputs[step.AgentID]; ok && out.ID == step.Output.ID {
			parts = append(parts, fmt.Sprintf("[%s] %s", step.AgentName, out.Text()))
		}
	}
	return strings.Join(parts, "\n\n")
}

func errorText(res *CollaborationResult) string {
	if res.Fatal != nil {
		return res.Fatal.Error()
	}
	msgs := make([]string, 0, len(res.Failures))
	for _, f := range res.Failures {
		msgs = append(msgs, fmt.Sprintf("%s (%s): %s", f.AgentID, f.Kind, f.Error))
	}
	return strings.Join(msgs, "; ")
}
