package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/memclaw/internal/bus"
	"github.com/nextlevelbuilder/memclaw/internal/extract"
	"github.com/nextlevelbuilder/memclaw/internal/pipeline"
	"github.com/nextlevelbuilder/memclaw/internal/retrieval"
	"github.com/nextlevelbuilder/memclaw/internal/store"
	"github.com/nextlevelbuilder/memclaw/internal/summarize"
)

type stubPersister struct{}

func (stubPersister) Persist(context.Context, *store.Snapshot) (*store.PersistResult, error) {
	return &store.PersistResult{ID: 1, Timestamp: time.Now(), Action: store.ActionInserted}, nil
}

type stubSummarizer struct{}

func (stubSummarizer) Summarize(context.Context, []store.Message, extract.Metadata, summarize.SessionInfo) (string, bool) {
	return "stub summary", false
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(context.Context, string) ([]float32, bool) {
	return make([]float32, store.EmbeddingDimensions), false
}

type stubSnapshots struct {
	store.SnapshotStore
}

func (stubSnapshots) Stats(context.Context) (*store.EngineStats, error) {
	return &store.EngineStats{Snapshots: 3, Projects: 2}, nil
}

func (stubSnapshots) Recent(context.Context, string, int) ([]store.SnapshotHead, error) {
	return nil, nil
}

func (stubSnapshots) Get(_ context.Context, id int64) (*store.Snapshot, error) {
	if id == 404 {
		return nil, store.ErrNotFound
	}
	return &store.Snapshot{ID: id, Summary: "found"}, nil
}

type stubAgents struct {
	store.AgentStore
}

func (stubAgents) Stats(context.Context) (*store.AgentStats, error) {
	return &store.AgentStats{WorkRows: 1}, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New()
	pipe := pipeline.New(stubPersister{}, stubSummarizer{}, stubEmbedder{}, b, log, pipeline.Options{Workers: 1})
	t.Cleanup(pipe.Close)

	stores := &store.Stores{Snapshots: stubSnapshots{}, Agents: stubAgents{}}
	rsvc := retrieval.NewService(stores, stubEmbedder{}, log)
	srv := New(pipe, stores, rsvc, stubEmbedder{}, b, log, Options{Addr: "127.0.0.1:0"})

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&m))
	return m
}

func TestCaptureAcceptedFromTranscript(t *testing.T) {
	_, ts := newTestServer(t)

	path := filepath.Join(t.TempDir(), "t.jsonl")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"type":"user","message":{"role":"user","content":"hi"}}`+"\n"), 0o644))

	resp := postJSON(t, ts.URL+"/capture", fmt.Sprintf(
		`{"project_path":"/work/app","trigger":"auto-compact","session_id":"s1","transcript_path":%q}`, path))

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "/work/app", body["project_path"])
	assert.Equal(t, "auto-compact", body["trigger"])
}

func TestCaptureAcceptedInlineConversation(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/capture", `{
		"project_path": "Code/demo",
		"trigger": "manual",
		"session_id": "S1",
		"conversation_data": {"messages": [
			{"role": "user", "content": "fix the SQL injection in login"},
			{"role": "assistant", "content": "patched src/auth.js line 42; added tests in test/auth.test.js"}
		]}
	}`)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "accepted", body["status"])
	assert.Equal(t, "Code/demo", body["project_path"])
	assert.Equal(t, "manual", body["trigger"])
}

func TestCaptureValidation(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/capture", `not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// No project_path.
	resp = postJSON(t, ts.URL+"/capture", `{"trigger":"manual","transcript_path":"/tmp/x.jsonl"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Neither conversation_data nor transcript_path.
	resp = postJSON(t, ts.URL+"/capture", `{"project_path":"/p","trigger":"manual","session_id":"s1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Empty message list counts as absent conversation_data.
	resp = postJSON(t, ts.URL+"/capture", `{"project_path":"/p","conversation_data":{"messages":[]}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCaptureDefaultsTrigger(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/capture", `{"project_path":"/p","transcript_path":"/tmp/x.jsonl"}`)
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Equal(t, "manual", decodeBody(t, resp)["trigger"])
}

func TestEmbedEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/embed", `{"text":"hello world"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(store.EmbeddingDimensions), body["dimensions"])

	resp = postJSON(t, ts.URL+"/embed", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealth(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "ok", body["status"])
	assert.Contains(t, body, "queue_depth")
}

func TestToolInvokeDispatch(t *testing.T) {
	_, ts := newTestServer(t)

	resp := postJSON(t, ts.URL+"/v1/tools/invoke", `{"tool":"get_snapshot","args":{"snapshot_id":7}}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body := decodeBody(t, resp)
	assert.Equal(t, "get_snapshot", body["tool"])

	resp = postJSON(t, ts.URL+"/v1/tools/invoke", `{"tool":"get_snapshot","args":{"snapshot_id":404}}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/tools/invoke", `{"tool":"no_such_op"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/tools/invoke", `{"tool":"get_snapshot","args":{}}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, ts.URL+"/v1/tools/invoke", `{}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/stats")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(3), decodeBody(t, resp)["snapshots"])
}

func TestRecentEndpointEmptyList(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/recent")
	require.NoError(t, err)
	defer resp.Body.Close()

	body := decodeBody(t, resp)
	snaps, ok := body["snapshots"].([]interface{})
	require.True(t, ok, "snapshots must be a JSON array, not null")
	assert.Empty(t, snaps)
}

func TestRateLimitedCapture(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := bus.New()
	pipe := pipeline.New(stubPersister{}, stubSummarizer{}, stubEmbedder{}, b, log, pipeline.Options{Workers: 1})
	t.Cleanup(pipe.Close)
	stores := &store.Stores{Snapshots: stubSnapshots{}, Agents: stubAgents{}}
	rsvc := retrieval.NewService(stores, stubEmbedder{}, log)
	srv := New(pipe, stores, rsvc, stubEmbedder{}, b, log, Options{Addr: "127.0.0.1:0", RateLimitRPM: 1})

	mux := http.NewServeMux()
	srv.registerRoutes(mux)
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)

	var saw429 bool
	for i := 0; i < 5; i++ {
		resp := postJSON(t, ts.URL+"/capture", `{"project_path":"/p","transcript_path":"/tmp/x.jsonl"}`)
		if resp.StatusCode == http.StatusTooManyRequests {
			saw429 = true
			break
		}
	}
	assert.True(t, saw429)
}
