// Package server is the HTTP ingress: capture intake, the embedding
// sidecar endpoint, dashboard APIs, the tool-invoke surface and the
// WebSocket event feed.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/memclaw/internal/bus"
	"github.com/nextlevelbuilder/memclaw/internal/pipeline"
	"github.com/nextlevelbuilder/memclaw/internal/retrieval"
	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// Embedder serves POST /embed and the retrieval query path.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Server wires the pipeline, stores and retrieval service behind one mux.
type Server struct {
	pipe      *pipeline.Coordinator
	stores    *store.Stores
	retrieval *retrieval.Service
	embedder  Embedder
	events    bus.EventPublisher
	log       *slog.Logger

	limiter *rate.Limiter
	feed    *Feed

	httpServer *http.Server
}

// Options carries tunables from config.
type Options struct {
	Addr string
	// RateLimitRPM caps capture intake. 0 disables limiting.
	RateLimitRPM int
}

func New(pipe *pipeline.Coordinator, stores *store.Stores, rsvc *retrieval.Service, embedder Embedder, events bus.EventPublisher, log *slog.Logger, opts Options) *Server {
	s := &Server{
		pipe:      pipe,
		stores:    stores,
		retrieval: rsvc,
		embedder:  embedder,
		events:    events,
		log:       log,
	}
	if opts.RateLimitRPM > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(opts.RateLimitRPM)/60.0), opts.RateLimitRPM/6+1)
	}
	s.feed = NewFeed(events, log)

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /capture", s.handleCapture)
	mux.HandleFunc("POST /embed", s.handleEmbed)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.feed.HandleWS)
	mux.HandleFunc("POST /v1/tools/invoke", s.handleToolInvoke)

	mux.HandleFunc("GET /api/stats", s.handleStats)
	mux.HandleFunc("GET /api/recent", s.handleRecent)
	mux.HandleFunc("GET /api/quality", s.handleQuality)
	mux.HandleFunc("GET /api/projects", s.handleProjects)
	mux.HandleFunc("GET /api/bugs", s.handleBugs)
	mux.HandleFunc("GET /api/files", s.handleFiles)
	mux.HandleFunc("GET /api/decisions", s.handleDecisions)
	mux.HandleFunc("GET /api/agents/stats", s.handleAgentStats)
	mux.HandleFunc("GET /api/agents/performance", s.handleAgentPerformance)
	mux.HandleFunc("GET /api/agents/tools", s.handleAgentTools)
	mux.HandleFunc("GET /api/agents/recent", s.handleAgentRecent)
}

// Start begins serving and blocks until the listener fails or Shutdown runs.
func (s *Server) Start() error {
	s.feed.Start()
	s.log.Info("server.listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the listener, then drains the pipeline so queued captures
// finish before the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.feed.Stop()
	s.pipe.Close()
	return err
}

// captureRequest is the stable ingestion body. The hooks post the
// conversation inline under conversation_data; transcript_path alone is
// also accepted and read server-side.
type captureRequest struct {
	ProjectPath      string `json:"project_path"`
	Trigger          string `json:"trigger"`
	SessionID        string `json:"session_id,omitempty"`
	TranscriptPath   string `json:"transcript_path,omitempty"`
	ConversationData *struct {
		Messages []store.Message `json:"messages"`
	} `json:"conversation_data,omitempty"`
}

func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow() {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "rate limited, retry later",
		})
		return
	}

	var req captureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}
	if req.ProjectPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "project_path is required"})
		return
	}
	var inline []store.Message
	if req.ConversationData != nil {
		inline = req.ConversationData.Messages
	}
	if len(inline) == 0 && req.TranscriptPath == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "one of conversation_data or transcript_path is required",
		})
		return
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = "manual"
	}

	_, err := s.pipe.Submit(pipeline.Request{
		SessionID:      req.SessionID,
		TranscriptPath: req.TranscriptPath,
		ProjectPath:    req.ProjectPath,
		Trigger:        trigger,
		Messages:       inline,
	})
	if errors.Is(err, pipeline.ErrBusy) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{
			"error": "capture queue full, retry later",
		})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":       "accepted",
		"project_path": req.ProjectPath,
		"trigger":      trigger,
	})
}

func (s *Server) handleEmbed(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	vec, degraded := s.embedder.Embed(r.Context(), req.Text)
	status := "ok"
	if degraded {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"embedding":  vec,
		"dimensions": len(vec),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "ok",
		"queue_depth": s.pipe.QueueDepth(),
		"time":        time.Now().UTC().Format(time.RFC3339),
	})
}

// toolInvokeRequest is the envelope of the operation dispatch endpoint.
type toolInvokeRequest struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args,omitempty"`
}

func (s *Server) handleToolInvoke(w http.ResponseWriter, r *http.Request) {
	var req toolInvokeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Tool == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tool name required"})
		return
	}

	result, err := s.retrieval.Invoke(r.Context(), req.Tool, req.Args)
	switch {
	case errors.Is(err, retrieval.ErrUnknownOperation):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, retrieval.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	case err != nil:
		s.log.Error("tools.invoke_failed", "tool", req.Tool, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "store failure"})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{"tool": req.Tool, "result": result})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("http.write_json_failed", "error", err)
	}
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	var n int
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return def
	}
	return n
}
