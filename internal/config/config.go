// Package config holds the engine configuration: a JSON5 file overlaid by
// environment variables. Secrets come from env only and are never written
// back to the file.
package config

import (
	"fmt"
	"net/url"
	"os"
)

// Config is the root configuration of the capture engine.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Summary   SummaryConfig   `json:"summary"`
	Embedding EmbeddingConfig `json:"embedding"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Watcher   WatcherConfig   `json:"watcher,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Log       LogConfig       `json:"log,omitempty"`
}

// ServerConfig configures the HTTP ingress.
type ServerConfig struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	RateLimitRPM int    `json:"rate_limit_rpm,omitempty"`
	// ProcessorURL is where the capture CLI posts to; defaults to the
	// local server address.
	ProcessorURL string `json:"processor_url,omitempty"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// CaptureURL is the endpoint the capture CLI posts transcripts to.
func (s ServerConfig) CaptureURL() string {
	if s.ProcessorURL != "" {
		return s.ProcessorURL
	}
	host := s.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, s.Port)
}

// DatabaseConfig configures Postgres. The password is env-only (`json:"-"`)
// and has no default: a missing POSTGRES_PASSWORD without a DATABASE_URL is
// a startup error, never a silent fallback.
type DatabaseConfig struct {
	// URL is the full DSN; env DATABASE_URL. Takes precedence over the
	// split fields. Env-only since it embeds the password.
	URL      string `json:"-"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Name     string `json:"name"`
	User     string `json:"user"`
	Password string `json:"-"`
}

// DSN assembles the connection string, or errors when no credentials were
// provided.
func (d DatabaseConfig) DSN() (string, error) {
	if d.URL != "" {
		return d.URL, nil
	}
	if d.Password == "" {
		return "", fmt.Errorf("database password not set: provide DATABASE_URL or POSTGRES_PASSWORD")
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(d.User), url.QueryEscape(d.Password),
		d.Host, d.Port, d.Name), nil
}

// SummaryConfig configures the session-aware summarizer.
type SummaryConfig struct {
	OllamaURL string `json:"ollama_url"`
	Model     string `json:"model"`
	UseAI     bool   `json:"use_ai"`
	// AnthropicAPIKey powers the enhance command; env-only.
	AnthropicAPIKey string `json:"-"`
}

// EmbeddingConfig configures vector generation.
type EmbeddingConfig struct {
	OllamaURL string `json:"ollama_url"`
	Model     string `json:"model"`
	UseReal   bool   `json:"use_real"`
	// BackfillSchedule is a cron expression for the embedding backfill
	// loop; empty uses the default.
	BackfillSchedule string `json:"backfill_schedule,omitempty"`
}

// PipelineConfig tunes the capture worker pool.
type PipelineConfig struct {
	Workers  int `json:"workers,omitempty"`
	QueueCap int `json:"queue_cap,omitempty"`
	// WorkspaceRoot resolves relative project paths; env
	// CLAUDE_WORKSPACE_ROOT.
	WorkspaceRoot string `json:"workspace_root,omitempty"`
}

// WatcherConfig configures agent-transcript auto-capture.
type WatcherConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	// Dirs are transcript directories to watch for agent-*.jsonl files.
	Dirs []string `json:"dirs,omitempty"`
}

// TelemetryConfig configures the OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// LogConfig configures slog output.
type LogConfig struct {
	Level string `json:"level,omitempty"` // debug, info, warn, error
}

// DefaultConfigPath returns ~/.claude/memclaw.json.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "memclaw.json"
	}
	return home + "/.claude/memclaw.json"
}
