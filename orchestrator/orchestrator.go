package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/hupe1980/researchmesh/agent"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/evidence"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/telemetry"
	"github.com/hupe1980/researchmesh/tool"
)

var (
	// ErrDuplicateAgent is returned when registering an agent id twice.
	ErrDuplicateAgent = errors.New("agent already registered")
	// ErrNoAgents is returned by Collaborate without participants.
	ErrNoAgents = errors.New("collaboration requires at least one agent")
	// ErrDuplicateParticipant is returned when an agent id is listed twice.
	ErrDuplicateParticipant = errors.New("agent listed more than once")
	// ErrUnknownStrategy is returned for strategies other than sequential,
	// parallel and hierarchical.
	ErrUnknownStrategy = errors.New("unknown collaboration strategy")
	// ErrTaskNotRunning is returned when cancelling a finished task.
	ErrTaskNotRunning = errors.New("task is not running")
	// ErrTaskRunning is returned when starting a task id that is still running.
	ErrTaskRunning = errors.New("task is already running")
	// ErrNoModel is returned by CreateAgent when no model is configured.
	ErrNoModel = errors.New("no model configured")
)

// Options configures an Orchestrator.
type Options struct {
	// Logger receives orchestration events. Defaults to logging.NoOpLogger.
	Logger logging.Logger
	// Model backs agents built by CreateAgent.
	Model model.Model
	// Analyzer collects evidence per task. A fresh analyzer is created when nil.
	Analyzer *evidence.Analyzer
	// Store receives finalized tasks and evidence chains. Nil disables persistence.
	Store core.Store
	// StepTimeout bounds each agent reply. Zero disables the bound.
	StepTimeout time.Duration
	// MaxConcurrency limits concurrently running agents per collaboration.
	// Zero or less means no limit.
	MaxConcurrency int
	// AgentOptions are applied to agents built by CreateAgent.
	AgentOptions []func(o *agent.Options)
}

// Orchestrator owns the agent registry and runs collaborations.
//
// The tool registry is injected and shared with every agent. Each
// collaboration gets its own task id, cancellation scope and evidence chain.
type Orchestrator struct {
	tools    *tool.Registry
	analyzer *evidence.Analyzer
	store    core.Store
	logger   logging.Logger
	opts     Options

	agentsMu sync.RWMutex
	agents   map[string]core.Agent
	order    []string

	tasksMu sync.RWMutex
	tasks   map[string]*core.Task
	runs    map[string]context.CancelCauseFunc
}

// New creates an Orchestrator sharing tools with all agents.
func New(tools *tool.Registry, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if tools == nil {
		tools = tool.NewRegistry(nil)
	}
	if opts.Analyzer == nil {
		opts.Analyzer = evidence.NewAnalyzer(func(o *evidence.Options) { o.Logger = opts.Logger })
	}
	return &Orchestrator{
		tools:    tools,
		analyzer: opts.Analyzer,
		store:    opts.Store,
		logger:   opts.Logger,
		opts:     opts,
		agents:   make(map[string]core.Agent),
		tasks:    make(map[string]*core.Task),
		runs:     make(map[string]context.CancelCauseFunc),
	}
}

// Tools returns the shared tool registry.
func (o *Orchestrator) Tools() *tool.Registry { return o.tools }

// Analyzer returns the evidence analyzer.
func (o *Orchestrator) Analyzer() *evidence.Analyzer { return o.analyzer }

// Register adds an externally built agent.
func (o *Orchestrator) Register(a core.Agent) error {
	o.agentsMu.Lock()
	defer o.agentsMu.Unlock()

	if _, ok := o.agents[a.ID()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, a.ID())
	}
	o.agents[a.ID()] = a
	o.order = append(o.order, a.ID())

	o.logger.Info("orchestrator.agent.registered", "agent", a.ID(), "name", a.Config().Name, "variant", string(a.Config().Variant))
	return nil
}

// CreateAgent builds an agent from cfg with the configured model and the
// shared tool registry, registers it and returns its id. Invalid
// configurations fail with *core.ConfigurationError.
func (o *Orchestrator) CreateAgent(cfg core.AgentConfig) (string, error) {
	if o.opts.Model == nil {
		return "", ErrNoModel
	}
	a, err := agent.New(cfg, o.opts.Model, o.tools, o.agentOptions()...)
	if err != nil {
		return "", err
	}
	if err := o.Register(a); err != nil {
		return "", err
	}
	return a.ID(), nil
}

func (o *Orchestrator) agentOptions() []func(*agent.Options) {
	fns := []func(*agent.Options){func(ao *agent.Options) { ao.Logger = o.logger }}
	return append(fns, o.opts.AgentOptions...)
}

// Agent returns the agent registered under id.
func (o *Orchestrator) Agent(id string) (core.Agent, error) {
	o.agentsMu.RLock()
	defer o.agentsMu.RUnlock()

	a, ok := o.agents[id]
	if !ok {
		return nil, &core.AgentNotFoundError{IDs: []string{id}}
	}
	return a, nil
}

// Agents returns the registered agents in registration order.
func (o *Orchestrator) Agents() []core.Agent {
	o.agentsMu.RLock()
	defer o.agentsMu.RUnlock()

	out := make([]core.Agent, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.agents[id])
	}
	return out
}

// resolve looks up all ids before anything runs.
func (o *Orchestrator) resolve(ids []string) ([]core.Agent, error) {
	o.agentsMu.RLock()
	defer o.agentsMu.RUnlock()

	var (
		out     = make([]core.Agent, 0, len(ids))
		missing []string
		seen    = make(map[string]bool, len(ids))
	)
	for _, id := range ids {
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateParticipant, id)
		}
		seen[id] = true
		a, ok := o.agents[id]
		if !ok {
			missing = append(missing, id)
			continue
		}
		out = append(out, a)
	}
	if len(missing) > 0 {
		return nil, &core.AgentNotFoundError{IDs: missing}
	}
	return out, nil
}

// CallAgent sends msg to a single agent, bypassing collaboration
// strategies. The reply is returned even when err is non-nil.
func (o *Orchestrator) CallAgent(ctx context.Context, agentID string, msg core.Message) (core.Message, error) {
	a, err := o.Agent(agentID)
	if err != nil {
		return core.Message{}, err
	}

	ctx, span := telemetry.Tracer().Start(ctx, "orchestrator.call_agent", trace.WithAttributes(
		attribute.String("agent.id", agentID),
	))
	ctx, cancel := o.stepContext(ctx)
	defer cancel()

	reply, err := a.Reply(ctx, msg)
	telemetry.EndSpan(span, err)
	return reply, err
}

func (o *Orchestrator) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if o.opts.StepTimeout > 0 {
		return context.WithTimeout(ctx, o.opts.StepTimeout)
	}
	return context.WithCancel(ctx)
}

// Cancel signals cancellation to every in-flight agent of the task. Agents
// stop at their next iteration boundary.
func (o *Orchestrator) Cancel(taskID string) error {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()

	cancel, ok := o.runs[taskID]
	if !ok {
		if _, known := o.tasks[taskID]; known {
			return fmt.Errorf("%w: %s", ErrTaskNotRunning, taskID)
		}
		return fmt.Errorf("task %s: %w", taskID, core.ErrNotFound)
	}
	cancel(core.ErrTaskCancelled)

	o.logger.Info("orchestrator.task.cancel", "task", taskID)
	return nil
}

// Task returns a snapshot of the task, falling back to the store for tasks
// of earlier processes.
func (o *Orchestrator) Task(ctx context.Context, id string) (core.Task, error) {
	o.tasksMu.RLock()
	t, ok := o.tasks[id]
	var snapshot core.Task
	if ok {
		snapshot = t.Clone()
	}
	o.tasksMu.RUnlock()

	if ok {
		return snapshot, nil
	}
	if o.store != nil {
		return o.store.LoadTask(ctx, id)
	}
	return core.Task{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
}

// Tasks returns snapshots of the tasks of this process, oldest first.
func (o *Orchestrator) Tasks() []core.Task {
	o.tasksMu.RLock()
	out := make([]core.Task, 0, len(o.tasks))
	for _, t := range o.tasks {
		out = append(out, t.Clone())
	}
	o.tasksMu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// EvidenceChain returns the chain from the analyzer or, once it was
// persisted and forgotten, from the store.
func (o *Orchestrator) EvidenceChain(ctx context.Context, chainID string) (core.EvidenceChain, error) {
	chain, err := o.analyzer.Chain(chainID)
	if err == nil {
		return chain, nil
	}
	if errors.Is(err, evidence.ErrChainNotFound) && o.store != nil {
		return o.store.LoadChain(ctx, chainID)
	}
	return core.EvidenceChain{}, err
}

// startTask records task as running and returns its cancellable context.
// The run stays registered until done is called, also after Cancel, so a
// task id never has two runs at once.
func (o *Orchestrator) startTask(ctx context.Context, task *core.Task) (context.Context, func(), error) {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()

	if _, running := o.runs[task.ID]; running {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskRunning, task.ID)
	}
	ctx, cancel := context.WithCancelCause(ctx)
	o.tasks[task.ID] = task
	o.runs[task.ID] = cancel

	return ctx, func() {
		o.tasksMu.Lock()
		delete(o.runs, task.ID)
		o.tasksMu.Unlock()
		cancel(nil)
	}, nil
}

// updateTask mutates the stored task under the lock.
func (o *Orchestrator) updateTask(id string, fn func(t *core.Task)) core.Task {
	o.tasksMu.Lock()
	defer o.tasksMu.Unlock()

	t := o.tasks[id]
	fn(t)
	t.UpdatedAt = time.Now().UTC()
	return t.Clone()
}
