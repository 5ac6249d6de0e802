package watcher

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/memclaw/internal/agentwork"
	"github.com/nextlevelbuilder/memclaw/internal/store"
)

type recordingStore struct {
	store.AgentStore

	inserted chan *store.AgentWork
}

func (r *recordingStore) GetOrCreateDefinition(context.Context, *store.AgentDefinition) (int64, bool, error) {
	return 1, false, nil
}

func (r *recordingStore) HasWork(context.Context, string, string) (bool, error) {
	return false, nil
}

func (r *recordingStore) InsertWork(_ context.Context, w *store.AgentWork) (int64, bool, error) {
	r.inserted <- w
	return 1, true, nil
}

type zeroEmbedder struct{}

func (zeroEmbedder) Embed(context.Context, string) ([]float32, bool) {
	return make([]float32, store.EmbeddingDimensions), false
}

func TestWatcherCapturesQuietTranscript(t *testing.T) {
	dir := t.TempDir()
	rs := &recordingStore{inserted: make(chan *store.AgentWork, 1)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := agentwork.NewCapturer(rs, zeroEmbedder{}, log)

	w, err := New(c, log)
	require.NoError(t, err)
	w.quiet = 100 * time.Millisecond
	require.NoError(t, w.Watch(dir))
	w.Start(context.Background())
	defer w.Stop()

	// A parent session transcript gives the watcher a session id to link to.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sess-99.jsonl"), []byte("{}\n"), 0o644))

	line := `{"type":"user","message":{"role":"user","content":"find the bug"}}` + "\n" +
		`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":"` +
		strings.Repeat("looking. ", 80) + `"}]}}` + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agent-w1.jsonl"), []byte(line), 0o644))

	select {
	case work := <-rs.inserted:
		assert.Equal(t, "w1", work.AgentID)
		assert.Equal(t, "sess-99", work.ParentSessionID)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for capture")
	}
}

func TestWatcherIgnoresNonAgentFiles(t *testing.T) {
	dir := t.TempDir()
	rs := &recordingStore{inserted: make(chan *store.AgentWork, 1)}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := agentwork.NewCapturer(rs, zeroEmbedder{}, log)

	w, err := New(c, log)
	require.NoError(t, err)
	w.quiet = 50 * time.Millisecond
	require.NoError(t, w.Watch(dir))
	w.Start(context.Background())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.jsonl"),
		[]byte(strings.Repeat("x", 1024)), 0o644))

	select {
	case <-rs.inserted:
		t.Fatal("non-agent file must not be captured")
	case <-time.After(300 * time.Millisecond):
	}
}
