// ResearchMesh server: multi-agent research orchestration over HTTP.
//
// It provides:
//   - Agent registry loaded from YAML definitions and the REST API
//   - Sequential, parallel and hierarchical collaborations
//   - Evidence chains persisted to PostgreSQL or an in-memory store
//   - OpenTelemetry tracing (optional)
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hupe1980/researchmesh/agent"
	"github.com/hupe1980/researchmesh/api"
	"github.com/hupe1980/researchmesh/config"
	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
	"github.com/hupe1980/researchmesh/model"
	"github.com/hupe1980/researchmesh/model/anthropic"
	"github.com/hupe1980/researchmesh/model/openai"
	"github.com/hupe1980/researchmesh/orchestrator"
	"github.com/hupe1980/researchmesh/store"
	"github.com/hupe1980/researchmesh/store/postgres"
	"github.com/hupe1980/researchmesh/telemetry"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.Log)
	logger := logging.NewZerologAdapter(log.Logger)

	log.Info().Str("version", cfg.Version).Msg("ResearchMesh starting...")

	ctx := context.Background()
	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize telemetry")
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	llm, err := newModel(cfg.Model)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize model")
	}

	st, closeStore, err := newStore(ctx, cfg.Database, logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer closeStore()

	orch := orchestrator.New(nil, func(o *orchestrator.Options) {
		o.Logger = logger
		o.Model = llm
		o.Store = st
		o.StepTimeout = cfg.Runtime.StepTimeout
		o.MaxConcurrency = cfg.Runtime.MaxConcurrency
		o.AgentOptions = []func(*agent.Options){func(ao *agent.Options) {
			ao.ToolTimeout = cfg.Runtime.ToolTimeout
			ao.MemoryCapacity = cfg.Runtime.MemoryCapacity
			ao.RetryPolicy.MaxRetries = cfg.Model.MaxRetries
		}}
	})

	if err := loadAgents(orch, cfg.AgentsDir); err != nil {
		log.Fatal().Err(err).Msg("Failed to load agent definitions")
	}

	httpServer := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.Port),
		Handler: api.NewRouter(orch, func(o *api.Options) {
			o.Logger = log.Logger
			o.Version = cfg.Version
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.Runtime.StepTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Shutdown failed")
		}
	}()

	log.Info().
		Int("port", cfg.Port).
		Str("provider", cfg.Model.Provider).
		Int("agents", len(orch.Agents())).
		Msg("ResearchMesh is ready")

	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("Server failed")
	}
}

func setupLogging(cfg config.LogConfig) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func newModel(cfg config.ModelConfig) (model.Model, error) {
	switch cfg.Provider {
	case "openai":
		var opts []option.RequestOption
		if cfg.APIKey != "" {
			opts = append(opts, option.WithAPIKey(cfg.APIKey))
		}
		client := openaisdk.NewClient(opts...)
		return openai.NewModelFromClient(&client, func(o *openai.Options) {
			if cfg.Name != "" {
				o.Model = cfg.Name
			}
		}), nil
	case "anthropic":
		return anthropic.NewModel(func(o *anthropic.Options) {
			o.APIKey = cfg.APIKey
			if cfg.Name != "" {
				o.Model = anthropicsdk.Model(cfg.Name)
			}
		}), nil
	case "mock":
		return model.NewMockModel("mock", "mock"), nil
	default:
		return nil, core.NewConfigurationError("model.provider", "unsupported provider %q", cfg.Provider)
	}
}

func newStore(ctx context.Context, cfg config.DatabaseConfig, logger logging.Logger) (core.Store, func(), error) {
	if cfg.URL == "" {
		st, err := store.NewMemoryStore(func(o *store.MemoryOptions) { o.Logger = logger })
		return st, func() {}, err
	}
	st, err := postgres.New(ctx, cfg.URL, func(o *postgres.Options) {
		o.Logger = logger
		o.MaxConns = int32(cfg.MaxConnections)
	})
	if err != nil {
		return nil, nil, err
	}
	return st, st.Close, nil
}

func loadAgents(orch *orchestrator.Orchestrator, dir string) error {
	defs, err := config.LoadAgents(dir)
	if err != nil {
		return err
	}
	for _, def := range defs {
		id, err := orch.CreateAgent(def)
		if err != nil {
			return fmt.Errorf("agent %s: %w", def.Name, err)
		}
		log.Info().Str("agent", id).Str("name", def.Name).Str("variant", string(def.Variant)).Msg("Agent loaded")
	}
	return nil
}
