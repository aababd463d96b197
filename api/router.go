// Package api exposes the orchestrator over HTTP.
//
// Routes:
//
//	GET  /health
//	POST /api/v1/agents                      create an agent from a config
//	GET  /api/v1/agents                      list agents
//	GET  /api/v1/agents/{agentID}            agent config and state
//	POST /api/v1/agents/{agentID}/messages   single agent call
//	POST /api/v1/collaborations              run a collaboration (sync or async)
//	GET  /api/v1/tasks                       list tasks
//	GET  /api/v1/tasks/{taskID}              task status and result
//	POST /api/v1/tasks/{taskID}/cancel       cancel a running task
//	GET  /api/v1/evidence-chains/{chainID}   evidence chain
package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/orchestrator"
)

// Backend is the orchestration surface served by the router.
// *orchestrator.Orchestrator implements it.
type Backend interface {
	CreateAgent(cfg core.AgentConfig) (string, error)
	Agent(id string) (core.Agent, error)
	Agents() []core.Agent
	CallAgent(ctx context.Context, agentID string, msg core.Message) (core.Message, error)
	Collaborate(ctx context.Context, agentIDs []string, task core.Task, strategy orchestrator.Strategy) (*orchestrator.CollaborationResult, error)
	Start(ctx context.Context, agentIDs []string, task core.Task, strategy orchestrator.Strategy) (*orchestrator.Run, error)
	Task(ctx context.Context, id string) (core.Task, error)
	Tasks() []core.Task
	Cancel(taskID string) error
	EvidenceChain(ctx context.Context, chainID string) (core.EvidenceChain, error)
}

var _ Backend = (*orchestrator.Orchestrator)(nil)

// Options configure the router.
type Options struct {
	// Logger receives request and handler logs. Defaults to zerolog.Nop().
	Logger zerolog.Logger
	// AllowedOrigins for CORS. Defaults to all origins.
	AllowedOrigins []string
	// MaxBodyBytes limits request bodies.
	MaxBodyBytes int64
	// Version is reported by /health.
	Version string
}

// NewRouter creates the HTTP router with all API routes.
func NewRouter(backend Backend, optFns ...func(o *Options)) http.Handler {
	opts := Options{
		Logger:         zerolog.Nop(),
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   1 << 20,
		Version:        "dev",
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	h := &handlers{backend: backend, logger: opts.Logger, maxBody: opts.MaxBodyBytes, version: opts.Version}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(opts.Logger))
	r.Use(tracing)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get("/health", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/agents", func(r chi.Router) {
			r.Get("/", h.listAgents)
			r.Post("/", h.createAgent)
			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", h.getAgent)
				r.Post("/messages", h.callAgent)
			})
		})
		r.Post("/collaborations", h.collaborate)
		r.Route("/tasks", func(r chi.Router) {
			r.Get("/", h.listTasks)
			r.Get("/{taskID}", h.getTask)
			r.Post("/{taskID}/cancel", h.cancelTask)
		})
		r.Get("/evidence-chains/{chainID}", h.getEvidenceChain)
	})

	return r
}
