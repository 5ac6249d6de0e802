package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults. The database password
// deliberately has none.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8765,
			RateLimitRPM: 0,
		},
		Database: DatabaseConfig{
			Host: "localhost",
			Port: 5432,
			Name: "claude_memory",
			User: "claude_memory",
		},
		Summary: SummaryConfig{
			OllamaURL: "http://localhost:11434",
			Model:     "llama3.2:3b",
			UseAI:     true,
		},
		Embedding: EmbeddingConfig{
			OllamaURL: "http://localhost:11434",
			Model:     "all-minilm:l6-v2",
			UseReal:   true,
		},
		Pipeline: PipelineConfig{
			Workers:  4,
			QueueCap: 64,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "memclaw",
			Protocol:    "http",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; env-only operation is the common deployment.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	// Only the literal false/0 disables a default-on flag; anything else
	// leaves the flag on so a typo cannot silently turn features off.
	envBool := func(key string, dst *bool) {
		switch os.Getenv(key) {
		case "true", "1":
			*dst = true
		case "false", "0":
			*dst = false
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	// Database: DATABASE_URL wins; otherwise the split POSTGRES_* vars.
	envStr("DATABASE_URL", &c.Database.URL)
	envStr("POSTGRES_HOST", &c.Database.Host)
	envInt("POSTGRES_PORT", &c.Database.Port)
	envStr("POSTGRES_DB", &c.Database.Name)
	envStr("POSTGRES_USER", &c.Database.User)
	envStr("POSTGRES_PASSWORD", &c.Database.Password)

	// Summarization
	envStr("OLLAMA_URL", &c.Summary.OllamaURL)
	envStr("SUMMARY_MODEL", &c.Summary.Model)
	envBool("USE_AI_SUMMARIES", &c.Summary.UseAI)
	envStr("ANTHROPIC_API_KEY", &c.Summary.AnthropicAPIKey)

	// Embeddings share the Ollama endpoint unless set separately.
	envStr("OLLAMA_URL", &c.Embedding.OllamaURL)
	envStr("EMBEDDING_MODEL", &c.Embedding.Model)
	envBool("USE_REAL_EMBEDDINGS", &c.Embedding.UseReal)

	// Server
	envInt("PROCESSOR_PORT", &c.Server.Port)
	envStr("PROCESSOR_URL", &c.Server.ProcessorURL)

	// Pipeline
	envInt("PIPELINE_WORKERS", &c.Pipeline.Workers)
	envStr("CLAUDE_WORKSPACE_ROOT", &c.Pipeline.WorkspaceRoot)

	// Observability
	envStr("LOG_LEVEL", &c.Log.Level)
	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &c.Telemetry.Endpoint)
	if c.Telemetry.Endpoint != "" {
		c.Telemetry.Enabled = true
	}
}
