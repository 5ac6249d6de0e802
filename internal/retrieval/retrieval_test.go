package retrieval

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// fakeSnapshots records calls and returns canned rows. Only the methods a
// test exercises matter; the rest return empty results.
type fakeSnapshots struct {
	store.SnapshotStore

	lastOp       string
	semanticErr  error
	semanticHits []store.SearchHit
	lexicalHits  []store.SearchHit
}

func (f *fakeSnapshots) SemanticSearch(_ context.Context, query []float32, _ string, _ int) ([]store.SearchHit, error) {
	f.lastOp = "semantic"
	if f.semanticErr != nil {
		return nil, f.semanticErr
	}
	return f.semanticHits, nil
}

func (f *fakeSnapshots) LexicalSearch(_ context.Context, query, _ string, _ int) ([]store.SearchHit, error) {
	f.lastOp = "lexical"
	return f.lexicalHits, nil
}

func (f *fakeSnapshots) Get(_ context.Context, id int64) (*store.Snapshot, error) {
	f.lastOp = "get"
	if id == 404 {
		return nil, store.ErrNotFound
	}
	return &store.Snapshot{ID: id}, nil
}

func (f *fakeSnapshots) Timeline(context.Context, string, int) ([]store.TimelineRow, error) {
	f.lastOp = "timeline"
	return nil, nil
}

func (f *fakeSnapshots) SearchRawMessages(context.Context, string, string, int, int) ([]store.RawMessageHit, error) {
	f.lastOp = "raw"
	return nil, nil
}

func (f *fakeSnapshots) SearchExactPhrase(context.Context, string, string, int) ([]store.RawMessageHit, error) {
	return nil, nil
}

func (f *fakeSnapshots) Quality(context.Context, int, int) (*store.QualityReport, error) {
	return &store.QualityReport{}, nil
}

func (f *fakeSnapshots) ProjectStats(context.Context, string) ([]store.ProjectStatsRow, error) {
	return nil, nil
}

func (f *fakeSnapshots) Decisions(context.Context, string, int) ([]store.DecisionRow, error) {
	return nil, nil
}

func (f *fakeSnapshots) Bugs(context.Context, string, int) ([]store.BugRow, error) {
	return nil, nil
}

func (f *fakeSnapshots) FileActivity(context.Context, string, int, int) ([]store.FileActivityRow, error) {
	return nil, nil
}

type fakeAgents struct {
	store.AgentStore

	lastOp string
}

func (f *fakeAgents) Performance(context.Context, string) ([]store.AgentPerformanceRow, error) {
	f.lastOp = "performance"
	return []store.AgentPerformanceRow{{AgentType: "Explore", Version: 2}}, nil
}

func (f *fakeAgents) ToolUsage(context.Context, string) ([]store.ToolUsageRow, error) {
	return []store.ToolUsageRow{{AgentType: "Explore", Tool: "Read", Calls: 12}}, nil
}

func (f *fakeAgents) SemanticSearchWork(context.Context, []float32, int) ([]store.AgentWorkHead, error) {
	return nil, nil
}

func (f *fakeAgents) LexicalSearchWork(context.Context, string, int) ([]store.AgentWorkHead, error) {
	return nil, nil
}

func (f *fakeAgents) CompareConfigs(context.Context, string) ([]store.ConfigComparisonRow, error) {
	return nil, nil
}

type fixedEmbedder struct{ degraded bool }

func (f fixedEmbedder) Embed(context.Context, string) ([]float32, bool) {
	return make([]float32, store.EmbeddingDimensions), f.degraded
}

func newService(snaps *fakeSnapshots, agents *fakeAgents, emb Embedder) *Service {
	return NewService(&store.Stores{Snapshots: snaps, Agents: agents}, emb,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestInvokeUnknownOperation(t *testing.T) {
	s := newService(&fakeSnapshots{}, &fakeAgents{}, fixedEmbedder{})
	_, err := s.Invoke(context.Background(), "drop_tables", nil)
	assert.ErrorIs(t, err, ErrUnknownOperation)
}

func TestInvokeBadParams(t *testing.T) {
	s := newService(&fakeSnapshots{}, &fakeAgents{}, fixedEmbedder{})

	_, err := s.Invoke(context.Background(), "search_memory", json.RawMessage(`{`))
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = s.Invoke(context.Background(), "search_memory", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrBadRequest)

	_, err = s.Invoke(context.Background(), "get_snapshot", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrBadRequest)
}

func TestSearchMemorySemantic(t *testing.T) {
	snaps := &fakeSnapshots{semanticHits: []store.SearchHit{{Distance: 0.1}}}
	s := newService(snaps, &fakeAgents{}, fixedEmbedder{})

	res, err := s.Invoke(context.Background(), "search_memory", json.RawMessage(`{"query":"auth bug"}`))
	require.NoError(t, err)

	sr := res.(*SearchResult)
	assert.Equal(t, "semantic", sr.Mode)
	assert.Len(t, sr.Hits, 1)
	assert.Equal(t, "semantic", snaps.lastOp)
}

func TestSearchMemoryFallsBackOnDegradedEmbedding(t *testing.T) {
	snaps := &fakeSnapshots{lexicalHits: []store.SearchHit{{}}}
	s := newService(snaps, &fakeAgents{}, fixedEmbedder{degraded: true})

	res, err := s.Invoke(context.Background(), "search_memory", json.RawMessage(`{"query":"auth bug"}`))
	require.NoError(t, err)

	sr := res.(*SearchResult)
	assert.Equal(t, "lexical", sr.Mode)
	assert.Equal(t, "lexical", snaps.lastOp)
}

func TestSearchMemoryFallsBackOnSemanticError(t *testing.T) {
	snaps := &fakeSnapshots{semanticErr: assert.AnError}
	s := newService(snaps, &fakeAgents{}, fixedEmbedder{})

	res, err := s.Invoke(context.Background(), "search_memory", json.RawMessage(`{"query":"auth bug"}`))
	require.NoError(t, err)
	assert.Equal(t, "lexical", res.(*SearchResult).Mode)
}

func TestGetSnapshotNotFoundPassesThrough(t *testing.T) {
	s := newService(&fakeSnapshots{}, &fakeAgents{}, fixedEmbedder{})
	_, err := s.Invoke(context.Background(), "get_snapshot", json.RawMessage(`{"snapshot_id":404}`))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAgentAnalyticsBundlesBothRollups(t *testing.T) {
	s := newService(&fakeSnapshots{}, &fakeAgents{}, fixedEmbedder{})

	res, err := s.Invoke(context.Background(), "get_agent_analytics", json.RawMessage(`{"agent_type":"Explore"}`))
	require.NoError(t, err)

	a := res.(*AgentAnalytics)
	assert.Len(t, a.Performance, 1)
	assert.Len(t, a.ToolUsage, 1)
}

func TestOperationsRegistryCoversInvoke(t *testing.T) {
	snaps := &fakeSnapshots{}
	s := newService(snaps, &fakeAgents{}, fixedEmbedder{})

	// Every registered name must dispatch to something other than
	// ErrUnknownOperation.
	for _, op := range Operations() {
		_, err := s.Invoke(context.Background(), op, json.RawMessage(`{"query":"x","snapshot_id":1}`))
		assert.NotErrorIs(t, err, ErrUnknownOperation, "operation %q", op)
	}
}
