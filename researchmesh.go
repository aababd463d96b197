// Package researchmesh provides a high-level façade over the orchestrator,
// the shared tool registry and the persistence layer, enabling rapid
// construction of multi-agent research systems. Most applications interact
// with this package by:
//  1. Creating a ResearchMesh via New() (optionally overriding the default in-memory store)
//  2. Registering tools and creating agents from configurations
//  3. Calling agents directly or running collaborations across several agents
//
// The façade delegates orchestration to orchestrator.Orchestrator while keeping
// setup and usage ergonomics concise. All defaults are safe for local
// development and testing; production deployments typically supply the
// PostgreSQL store and a structured logger.
package researchmesh

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/hupe1980/researchmesh/agent"
	"github.com/hupe1980/researchmesh/api"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/orchestrator"
	"github.com/hupe1980/researchmesh/store"
	"github.com/hupe1980/researchmesh/tool"
)

// Options configures the ResearchMesh instance.
type Options struct {
	// Model backs every agent created through CreateAgent.
	Model model.Model

	// Tools are registered in the shared registry at construction.
	Tools []tool.Tool

	// Store persists finalized tasks and evidence chains (defaults to an
	// in-memory store if not provided).
	Store core.Store

	// StepTimeout bounds a single agent reply. Zero disables the bound.
	StepTimeout time.Duration

	// MaxConcurrency limits the number of agents running at once within a
	// parallel or hierarchical collaboration. Zero means no limit.
	MaxConcurrency int

	// AgentOptions are applied to every agent created by the mesh.
	AgentOptions []func(o *agent.Options)

	// Logger (defaults to NoOp logger if nil)
	Logger logging.Logger
}

// ResearchMesh is the high-level façade aggregating the orchestrator and services.
type ResearchMesh struct {
	opts  Options
	tools *tool.Registry
	orch  *orchestrator.Orchestrator
}

// New creates a new ResearchMesh instance. Any unset service is initialized
// with an in-memory implementation.
func New(optFns ...func(o *Options)) (*ResearchMesh, error) {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Store == nil {
		st, err := store.NewMemoryStore(func(o *store.MemoryOptions) { o.Logger = opts.Logger })
		if err != nil {
			return nil, err
		}
		opts.Store = st
	}

	tools := tool.NewRegistry(nil, func(o *tool.RegistryOptions) { o.Logger = opts.Logger })
	for _, t := range opts.Tools {
		if err := tools.Register(t); err != nil {
			return nil, fmt.Errorf("register tool %s: %w", t.Name(), err)
		}
	}

	orch := orchestrator.New(tools, func(o *orchestrator.Options) {
		o.Logger = opts.Logger
		o.Model = opts.Model
		o.Store = opts.Store
		o.StepTimeout = opts.StepTimeout
		o.MaxConcurrency = opts.MaxConcurrency
		o.AgentOptions = opts.AgentOptions
	})

	return &ResearchMesh{opts: opts, tools: tools, orch: orch}, nil
}

// Orchestrator exposes the underlying orchestrator for advanced usage.
func (m *ResearchMesh) Orchestrator() *orchestrator.Orchestrator { return m.orch }

// Tools returns the shared tool registry.
func (m *ResearchMesh) Tools() *tool.Registry { return m.tools }

// RegisterTool adds a tool to the shared registry. Agents created afterwards
// may reference it by name.
func (m *ResearchMesh) RegisterTool(t tool.Tool) error { return m.tools.Register(t) }

// CreateAgent builds and registers an agent, returning its id.
func (m *ResearchMesh) CreateAgent(cfg core.AgentConfig) (string, error) {
	return m.orch.CreateAgent(cfg)
}

// CallAgent sends a user message to one agent and waits for its reply.
func (m *ResearchMesh) CallAgent(ctx context.Context, agentID, content string) (core.Message, error) {
	return m.orch.CallAgent(ctx, agentID, core.NewTextMessage("user", core.RoleUser, content))
}

// Collaborate runs description across agentIDs with the given strategy.
func (m *ResearchMesh) Collaborate(ctx context.Context, agentIDs []string, description string, strategy orchestrator.Strategy) (*orchestrator.CollaborationResult, error) {
	return m.orch.Collaborate(ctx, agentIDs, core.NewTask(description), strategy)
}

// Start begins a collaboration in the background. The returned run's TaskID
// can be passed to Task and Cancel right away.
func (m *ResearchMesh) Start(ctx context.Context, agentIDs []string, description string, strategy orchestrator.Strategy) (*orchestrator.Run, error) {
	return m.orch.Start(ctx, agentIDs, core.NewTask(description), strategy)
}

// Research runs a research agent on topic and returns its report. The agent
// must have been created with the research variant.
func (m *ResearchMesh) Research(ctx context.Context, agentID, topic string) (agent.ResearchReport, error) {
	a, err := m.orch.Agent(agentID)
	if err != nil {
		return agent.ResearchReport{}, err
	}
	ra, ok := a.(*agent.ResearchAgent)
	if !ok {
		return agent.ResearchReport{}, core.NewConfigurationError("variant", "agent %s is not a research agent", agentID)
	}
	return ra.ConductResearch(ctx, topic)
}

// Cancel requests cancellation of a running collaboration.
func (m *ResearchMesh) Cancel(taskID string) error { return m.orch.Cancel(taskID) }

// Task returns a task by id.
func (m *ResearchMesh) Task(ctx context.Context, taskID string) (core.Task, error) {
	return m.orch.Task(ctx, taskID)
}

// EvidenceChain returns the evidence chain with the given id.
func (m *ResearchMesh) EvidenceChain(ctx context.Context, chainID string) (core.EvidenceChain, error) {
	return m.orch.EvidenceChain(ctx, chainID)
}

// Handler returns the HTTP API serving this mesh.
func (m *ResearchMesh) Handler(optFns ...func(o *api.Options)) http.Handler {
	return api.NewRouter(m.orch, optFns...)
}
