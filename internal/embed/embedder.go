// Package embed produces fixed-dimension vectors for summary text via an
// Ollama embedding model, degrading to a deterministic synthetic vector so
// rows always store a shape-valid embedding.
package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

const (
	defaultBaseURL = "http://localhost:11434"
	defaultModel   = "all-minilm:l6-v2"

	// Embedding calls are cheap; a slow embedder must not hold a pipeline
	// the way a slow summarizer may.
	requestTimeout = 15 * time.Second
)

// Embedder generates vectors of store.EmbeddingDimensions width.
type Embedder struct {
	baseURL string
	model   string
	useReal bool
	client  *http.Client
}

// Config for New.
type Config struct {
	OllamaURL string
	Model     string
	UseReal   bool
}

// New builds an embedder. With UseReal disabled every call returns the
// synthetic vector without touching the network.
func New(cfg Config) *Embedder {
	baseURL := cfg.OllamaURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Embedder{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		useReal: cfg.UseReal,
		client:  &http.Client{Timeout: requestTimeout},
	}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Embed returns a vector for text and whether the synthetic fallback was
// used. The returned slice always has exactly store.EmbeddingDimensions
// components.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, bool) {
	if !e.useReal {
		return Synthetic(text), true
	}
	vec, err := e.embed(ctx, text)
	if err != nil {
		slog.Warn("embed.degraded", "model", e.model, "error", err)
		return Synthetic(text), true
	}
	return vec, false
}

func (e *Embedder) embed(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("embed: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embed: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embed: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("embed: decode response: %w", err)
	}
	if out.Error != "" {
		return nil, fmt.Errorf("embed: %s", out.Error)
	}
	if len(out.Embeddings) == 0 {
		return nil, fmt.Errorf("embed: empty response")
	}
	vec := out.Embeddings[0]
	if len(vec) != store.EmbeddingDimensions {
		return nil, fmt.Errorf("embed: expected %d dimensions, got %d", store.EmbeddingDimensions, len(vec))
	}
	return vec, nil
}

// Synthetic returns the deterministic degraded-mode vector. It ignores the
// input text so re-embedding the same row stays stable, and keeps cosine
// distance computable downstream.
func Synthetic(_ string) []float32 {
	vec := make([]float32, store.EmbeddingDimensions)
	for i := range vec {
		vec[i] = float32(math.Sin(float64(i) * 0.1))
	}
	return vec
}
