// Package config loads process configuration from the environment and agent
// definitions from YAML files.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the ResearchMesh server.
type Config struct {
	Port      int
	Version   string
	Log       LogConfig
	Model     ModelConfig
	Runtime   RuntimeConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	AgentsDir string
}

// LogConfig selects level and output format.
type LogConfig struct {
	Level  string
	Format string // console or json
}

// ModelConfig selects the completion provider.
type ModelConfig struct {
	Provider   string // openai, anthropic or mock
	Name       string
	APIKey     string
	MaxRetries int
}

// RuntimeConfig bounds agent and orchestration execution.
type RuntimeConfig struct {
	StepTimeout    time.Duration
	ToolTimeout    time.Duration
	MaxConcurrency int
	MemoryCapacity int
}

// DatabaseConfig configures the PostgreSQL store. An empty URL selects the
// in-memory store.
type DatabaseConfig struct {
	URL            string
	MaxConnections int
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	Insecure       bool
	ServiceName    string
	ServiceVersion string
	SampleRatio    float64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	version := envStr("RESEARCHMESH_VERSION", "0.1.0")
	return &Config{
		Port:    envInt("PORT", 8080),
		Version: version,
		Log: LogConfig{
			Level:  envStr("RESEARCHMESH_LOG_LEVEL", "info"),
			Format: envStr("RESEARCHMESH_LOG_FORMAT", "console"),
		},
		Model: ModelConfig{
			Provider:   envStr("RESEARCHMESH_MODEL_PROVIDER", "openai"),
			Name:       envStr("RESEARCHMESH_MODEL", ""),
			APIKey:     envStr("RESEARCHMESH_MODEL_API_KEY", ""),
			MaxRetries: envInt("RESEARCHMESH_MODEL_MAX_RETRIES", 2),
		},
		Runtime: RuntimeConfig{
			StepTimeout:    envDuration("RESEARCHMESH_STEP_TIMEOUT", 2*time.Minute),
			ToolTimeout:    envDuration("RESEARCHMESH_TOOL_TIMEOUT", 30*time.Second),
			MaxConcurrency: envInt("RESEARCHMESH_MAX_CONCURRENCY", 8),
			MemoryCapacity: envInt("RESEARCHMESH_MEMORY_CAPACITY", 50),
		},
		Database: DatabaseConfig{
			URL:            envStr("DATABASE_URL", ""),
			MaxConnections: envInt("DATABASE_MAX_CONNECTIONS", 10),
		},
		Telemetry: TelemetryConfig{
			Enabled:        envBool("OTEL_ENABLED", false),
			OTLPEndpoint:   envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:       envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName:    envStr("OTEL_SERVICE_NAME", "researchmesh"),
			ServiceVersion: version,
			SampleRatio:    envFloat("OTEL_SAMPLE_RATIO", 1.0),
		},
		AgentsDir: envStr("RESEARCHMESH_AGENTS_DIR", "agents"),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
