// Package retrieval exposes the read-side operations as a single named
// dispatch surface, shared by the HTTP tool-invoke endpoint and the CLI.
package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

var (
	// ErrUnknownOperation names an operation outside the registry.
	ErrUnknownOperation = errors.New("retrieval: unknown operation")
	// ErrBadRequest marks malformed or out-of-range parameters.
	ErrBadRequest = errors.New("retrieval: bad request")
)

// Embedder turns a query string into a vector for semantic search. The
// degraded flag means the vector is synthetic; semantic ranking then falls
// back to lexical search.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Service dispatches named retrieval operations over the stores.
type Service struct {
	stores   *store.Stores
	embedder Embedder
	log      *slog.Logger
}

func NewService(stores *store.Stores, embedder Embedder, log *slog.Logger) *Service {
	return &Service{stores: stores, embedder: embedder, log: log}
}

// Params is the union of arguments across operations; each operation reads
// the fields it cares about and ignores the rest.
type Params struct {
	Query        string `json:"query,omitempty"`
	ProjectPath  string `json:"project_path,omitempty"`
	SnapshotID   int64  `json:"snapshot_id,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	ContextChars int    `json:"context_chars,omitempty"`
	MinScore     int    `json:"min_score,omitempty"`
	MinMentions  int    `json:"min_mentions,omitempty"`
	Keyword      string `json:"keyword,omitempty"`
	Category     string `json:"category,omitempty"`
	FileType     string `json:"file_type,omitempty"`
	AgentType    string `json:"agent_type,omitempty"`
}

// Operations returns the registry's operation names, sorted by use case
// grouping rather than alphabetically.
func Operations() []string {
	return []string{
		"search_memory",
		"search_raw_messages",
		"search_exact_phrase",
		"get_snapshot",
		"get_timeline",
		"get_quality_report",
		"get_project_stats",
		"search_decisions",
		"analyze_bugs",
		"get_file_activity",
		"search_agent_work",
		"get_agent_analytics",
		"compare_agent_configs",
	}
}

// Invoke runs one named operation. Unknown names return
// ErrUnknownOperation; parameter problems return ErrBadRequest; anything
// else is a store failure passed through.
func (s *Service) Invoke(ctx context.Context, op string, raw json.RawMessage) (interface{}, error) {
	var p Params
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
		}
	}

	s.log.Debug("retrieval.invoke", "operation", op, "project_path", p.ProjectPath)

	switch op {
	case "search_memory":
		return s.searchMemory(ctx, p)
	case "search_raw_messages":
		if p.Query == "" {
			return nil, fmt.Errorf("%w: query is required", ErrBadRequest)
		}
		return s.stores.Snapshots.SearchRawMessages(ctx, p.Query, p.ProjectPath, p.Limit, p.ContextChars)
	case "search_exact_phrase":
		if p.Query == "" {
			return nil, fmt.Errorf("%w: query is required", ErrBadRequest)
		}
		return s.stores.Snapshots.SearchExactPhrase(ctx, p.Query, p.ProjectPath, p.Limit)
	case "get_snapshot":
		if p.SnapshotID <= 0 {
			return nil, fmt.Errorf("%w: snapshot_id is required", ErrBadRequest)
		}
		return s.stores.Snapshots.Get(ctx, p.SnapshotID)
	case "get_timeline":
		return s.stores.Snapshots.Timeline(ctx, p.ProjectPath, p.Limit)
	case "get_quality_report":
		return s.stores.Snapshots.Quality(ctx, p.MinScore, p.Limit)
	case "get_project_stats":
		return s.stores.Snapshots.ProjectStats(ctx, p.ProjectPath)
	case "search_decisions":
		return s.stores.Snapshots.Decisions(ctx, p.Keyword, p.Limit)
	case "analyze_bugs":
		return s.stores.Snapshots.Bugs(ctx, p.Category, p.Limit)
	case "get_file_activity":
		return s.stores.Snapshots.FileActivity(ctx, p.FileType, p.MinMentions, p.Limit)
	case "search_agent_work":
		return s.searchAgentWork(ctx, p)
	case "get_agent_analytics":
		return s.agentAnalytics(ctx, p)
	case "compare_agent_configs":
		return s.stores.Agents.CompareConfigs(ctx, p.AgentType)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperation, op)
	}
}

// SearchResult carries the hits plus which ranking produced them.
type SearchResult struct {
	Mode string            `json:"mode"` // semantic or lexical
	Hits []store.SearchHit `json:"hits"`
}

// searchMemory prefers semantic ranking and falls back to lexical when the
// query embedding is synthetic. A synthetic query vector would rank by
// noise, which is worse than substring matching.
func (s *Service) searchMemory(ctx context.Context, p Params) (interface{}, error) {
	if p.Query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrBadRequest)
	}
	vec, degraded := s.embedder.Embed(ctx, p.Query)
	if !degraded {
		hits, err := s.stores.Snapshots.SemanticSearch(ctx, vec, p.ProjectPath, p.Limit)
		if err == nil {
			return &SearchResult{Mode: "semantic", Hits: hits}, nil
		}
		s.log.Warn("retrieval.semantic_failed", "error", err)
	}
	hits, err := s.stores.Snapshots.LexicalSearch(ctx, p.Query, p.ProjectPath, p.Limit)
	if err != nil {
		return nil, err
	}
	return &SearchResult{Mode: "lexical", Hits: hits}, nil
}

// WorkSearchResult mirrors SearchResult for agent work.
type WorkSearchResult struct {
	Mode string                `json:"mode"`
	Hits []store.AgentWorkHead `json:"hits"`
}

func (s *Service) searchAgentWork(ctx context.Context, p Params) (interface{}, error) {
	if p.Query == "" {
		return nil, fmt.Errorf("%w: query is required", ErrBadRequest)
	}
	vec, degraded := s.embedder.Embed(ctx, p.Query)
	if !degraded {
		hits, err := s.stores.Agents.SemanticSearchWork(ctx, vec, p.Limit)
		if err == nil {
			return &WorkSearchResult{Mode: "semantic", Hits: hits}, nil
		}
		s.log.Warn("retrieval.semantic_failed", "error", err)
	}
	hits, err := s.stores.Agents.LexicalSearchWork(ctx, p.Query, p.Limit)
	if err != nil {
		return nil, err
	}
	return &WorkSearchResult{Mode: "lexical", Hits: hits}, nil
}

// AgentAnalytics bundles the per-definition and per-tool rollups.
type AgentAnalytics struct {
	Performance []store.AgentPerformanceRow `json:"performance"`
	ToolUsage   []store.ToolUsageRow        `json:"tool_usage"`
}

func (s *Service) agentAnalytics(ctx context.Context, p Params) (interface{}, error) {
	perf, err := s.stores.Agents.Performance(ctx, p.AgentType)
	if err != nil {
		return nil, err
	}
	tools, err := s.stores.Agents.ToolUsage(ctx, p.AgentType)
	if err != nil {
		return nil, err
	}
	return &AgentAnalytics{Performance: perf, ToolUsage: tools}, nil
}
