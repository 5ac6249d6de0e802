package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/memclaw/internal/bus"
	"github.com/nextlevelbuilder/memclaw/internal/extract"
	"github.com/nextlevelbuilder/memclaw/internal/store"
	"github.com/nextlevelbuilder/memclaw/internal/summarize"
)

type fakeStore struct {
	mu        sync.Mutex
	persisted []*store.Snapshot
	conflicts int
	failWith  error
}

func (f *fakeStore) Persist(_ context.Context, snap *store.Snapshot) (*store.PersistResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conflicts > 0 {
		f.conflicts--
		return nil, store.ErrConflict
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	f.persisted = append(f.persisted, snap)
	return &store.PersistResult{ID: int64(len(f.persisted)), Timestamp: time.Now(), Action: store.ActionInserted}, nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.persisted)
}

type fakeSummarizer struct{ degraded bool }

func (f *fakeSummarizer) Summarize(_ context.Context, msgs []store.Message, _ extract.Metadata, _ summarize.SessionInfo) (string, bool) {
	return fmt.Sprintf("summary of %d messages", len(msgs)), f.degraded
}

type fakeEmbedder struct{ degraded bool }

func (f *fakeEmbedder) Embed(context.Context, string) ([]float32, bool) {
	return make([]float32, store.EmbeddingDimensions), f.degraded
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeTranscript(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.jsonl")
	var data []byte
	for _, l := range lines {
		data = append(data, l...)
		data = append(data, '\n')
	}
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func userLine(text string) string {
	return fmt.Sprintf(`{"type":"user","message":{"role":"user","content":%q}}`, text)
}

func assistantLine(text string) string {
	return fmt.Sprintf(`{"type":"assistant","message":{"role":"assistant","content":[{"type":"text","text":%q}]}}`, text)
}

// collectEvents subscribes to the bus and returns a channel of event names.
func collectEvents(b *bus.MessageBus) <-chan string {
	ch := make(chan string, 16)
	b.Subscribe("test", func(e bus.Event) { ch <- e.Name })
	return ch
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case name := <-ch:
			if name == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q", want)
		}
	}
}

func TestSubmitProcessesAndStores(t *testing.T) {
	path := writeTranscript(t,
		userLine("please fix the login bug"),
		assistantLine("fixed the SQL injection in auth.go"),
	)
	fs := &fakeStore{}
	b := bus.New()
	events := collectEvents(b)
	c := New(fs, &fakeSummarizer{}, &fakeEmbedder{}, b, quietLogger(), Options{Workers: 1})
	defer c.Close()

	id, err := c.Submit(Request{
		SessionID:      "sess-1",
		TranscriptPath: path,
		ProjectPath:    "/work/app",
		Trigger:        "PreCompact",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	waitFor(t, events, bus.EventCaptureStored)
	require.Equal(t, 1, fs.count())

	snap := fs.persisted[0]
	assert.Equal(t, "sess-1", snap.SessionID)
	assert.Equal(t, "/work/app", snap.ProjectPath)
	assert.Equal(t, "PreCompact", snap.TriggerEvent)
	assert.Equal(t, 2, snap.MessageCount)
	assert.Len(t, snap.Embedding, store.EmbeddingDimensions)
	assert.NotZero(t, snap.ContextSizeBytes)
	assert.Contains(t, snap.Summary, "summary of 2 messages")
}

func TestSubmitInlineConversation(t *testing.T) {
	fs := &fakeStore{}
	b := bus.New()
	events := collectEvents(b)
	c := New(fs, &fakeSummarizer{}, &fakeEmbedder{}, b, quietLogger(), Options{Workers: 1})
	defer c.Close()

	msgs := []store.Message{
		{Role: "user", Content: "fix the SQL injection in login"},
		{Role: "assistant", Content: "patched src/auth.js line 42; added tests in test/auth.test.js"},
	}
	_, err := c.Submit(Request{
		SessionID:   "S1",
		ProjectPath: "Code/demo",
		Trigger:     "manual",
		Messages:    msgs,
	})
	require.NoError(t, err)

	waitFor(t, events, bus.EventCaptureStored)
	require.Equal(t, 1, fs.count())

	snap := fs.persisted[0]
	assert.Equal(t, "Code/demo", snap.ProjectPath)
	assert.Equal(t, 2, snap.MessageCount)
	assert.Equal(t, msgs, snap.RawContext)
	assert.Contains(t, snap.Tags, "security")
	assert.Contains(t, snap.MentionedFiles, "src/auth.js")
	assert.Len(t, snap.Embedding, store.EmbeddingDimensions)
	assert.NotZero(t, snap.ContextSizeBytes, "size comes from the inline payload when no file exists")
}

// Inline messages win over the transcript file when both are present.
func TestInlineConversationPreferredOverFile(t *testing.T) {
	path := writeTranscript(t, userLine("from file"), assistantLine("file reply"), assistantLine("extra"))
	fs := &fakeStore{}
	b := bus.New()
	events := collectEvents(b)
	c := New(fs, &fakeSummarizer{}, &fakeEmbedder{}, b, quietLogger(), Options{Workers: 1})
	defer c.Close()

	_, err := c.Submit(Request{
		TranscriptPath: path,
		ProjectPath:    "/p",
		Trigger:        "manual",
		Messages: []store.Message{
			{Role: "user", Content: "inline"},
		},
	})
	require.NoError(t, err)

	waitFor(t, events, bus.EventCaptureStored)
	require.Equal(t, 1, fs.count())
	assert.Equal(t, 1, fs.persisted[0].MessageCount)
}

func TestSubmitQueueFull(t *testing.T) {
	// Fill the queue while the single worker is blocked on the first
	// request's store write.
	block := make(chan struct{})
	fs := &fakeStore{}
	slow := persistFunc(func(ctx context.Context, snap *store.Snapshot) (*store.PersistResult, error) {
		<-block
		return fs.Persist(ctx, snap)
	})
	path := writeTranscript(t, userLine("hello"), assistantLine("hi"))
	b := bus.New()
	c := New(slow, &fakeSummarizer{}, &fakeEmbedder{}, b, quietLogger(), Options{Workers: 1, QueueCap: 1})

	_, err := c.Submit(Request{TranscriptPath: path, ProjectPath: "/p", Trigger: "PreCompact"})
	require.NoError(t, err)

	// The worker may or may not have picked the first request up yet; keep
	// submitting until the queue rejects.
	var sawBusy bool
	for i := 0; i < 4; i++ {
		if _, err := c.Submit(Request{TranscriptPath: path, ProjectPath: "/p", Trigger: "PreCompact"}); err != nil {
			assert.ErrorIs(t, err, ErrBusy)
			sawBusy = true
			break
		}
	}
	assert.True(t, sawBusy)

	close(block)
	c.Close()
}

type persistFunc func(ctx context.Context, snap *store.Snapshot) (*store.PersistResult, error)

func (f persistFunc) Persist(ctx context.Context, snap *store.Snapshot) (*store.PersistResult, error) {
	return f(ctx, snap)
}

func TestEmptyTranscriptFails(t *testing.T) {
	path := writeTranscript(t, `{"type":"summary","content":"nothing"}`)
	fs := &fakeStore{}
	b := bus.New()
	events := collectEvents(b)
	c := New(fs, &fakeSummarizer{}, &fakeEmbedder{}, b, quietLogger(), Options{Workers: 1})
	defer c.Close()

	_, err := c.Submit(Request{TranscriptPath: path, ProjectPath: "/p", Trigger: "PreCompact"})
	require.NoError(t, err)

	waitFor(t, events, bus.EventCaptureFailed)
	assert.Zero(t, fs.count())
}

func TestConflictRetriesOnce(t *testing.T) {
	path := writeTranscript(t, userLine("q"), assistantLine("a"))
	fs := &fakeStore{conflicts: 1}
	b := bus.New()
	events := collectEvents(b)
	c := New(fs, &fakeSummarizer{}, &fakeEmbedder{}, b, quietLogger(), Options{Workers: 1})
	defer c.Close()

	_, err := c.Submit(Request{SessionID: "s", TranscriptPath: path, ProjectPath: "/p", Trigger: "PreCompact"})
	require.NoError(t, err)

	waitFor(t, events, bus.EventCaptureStored)
	assert.Equal(t, 1, fs.count())
}

func TestPersistentConflictFails(t *testing.T) {
	path := writeTranscript(t, userLine("q"), assistantLine("a"))
	fs := &fakeStore{conflicts: 2}
	b := bus.New()
	events := collectEvents(b)
	c := New(fs, &fakeSummarizer{}, &fakeEmbedder{}, b, quietLogger(), Options{Workers: 1})
	defer c.Close()

	_, err := c.Submit(Request{SessionID: "s", TranscriptPath: path, ProjectPath: "/p", Trigger: "PreCompact"})
	require.NoError(t, err)

	waitFor(t, events, bus.EventCaptureFailed)
	assert.Zero(t, fs.count())
}

func TestDegradedStagesStillStore(t *testing.T) {
	path := writeTranscript(t, userLine("q"), assistantLine("a"))
	fs := &fakeStore{}
	b := bus.New()
	events := collectEvents(b)
	c := New(fs, &fakeSummarizer{degraded: true}, &fakeEmbedder{degraded: true}, b, quietLogger(), Options{Workers: 1})
	defer c.Close()

	_, err := c.Submit(Request{TranscriptPath: path, ProjectPath: "/p", Trigger: "PreCompact"})
	require.NoError(t, err)

	waitFor(t, events, bus.EventCaptureDegraded)
	assert.Equal(t, 1, fs.count())
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Terminal outcomes must identify the originating capture.
func TestTerminalLogCarriesOrigin(t *testing.T) {
	path := writeTranscript(t, userLine("q"), assistantLine("a"))
	out := &syncBuffer{}
	log := slog.New(slog.NewTextHandler(out, nil))
	fs := &fakeStore{}
	b := bus.New()
	events := collectEvents(b)
	c := New(fs, &fakeSummarizer{}, &fakeEmbedder{}, b, log, Options{Workers: 1})
	defer c.Close()

	_, err := c.Submit(Request{
		SessionID:      "sess-9",
		TranscriptPath: path,
		ProjectPath:    "/work/app",
		Trigger:        "auto-compact",
	})
	require.NoError(t, err)
	waitFor(t, events, bus.EventCaptureStored)

	logged := out.String()
	assert.Contains(t, logged, "capture.stored")
	assert.Contains(t, logged, "project_path=/work/app")
	assert.Contains(t, logged, "trigger=auto-compact")
	assert.Contains(t, logged, "session_id=sess-9")
}

func TestCloseDrainsQueue(t *testing.T) {
	path := writeTranscript(t, userLine("q"), assistantLine("a"))
	fs := &fakeStore{}
	b := bus.New()
	c := New(fs, &fakeSummarizer{}, &fakeEmbedder{}, b, quietLogger(), Options{Workers: 2})

	for i := 0; i < 5; i++ {
		_, err := c.Submit(Request{
			SessionID:      fmt.Sprintf("s-%d", i),
			TranscriptPath: path,
			ProjectPath:    "/p",
			Trigger:        "PreCompact",
		})
		require.NoError(t, err)
	}
	c.Close()

	assert.Equal(t, 5, fs.count())
}

func TestSubmitAfterClose(t *testing.T) {
	fs := &fakeStore{}
	c := New(fs, &fakeSummarizer{}, &fakeEmbedder{}, bus.New(), quietLogger(), Options{Workers: 1})
	c.Close()

	_, err := c.Submit(Request{TranscriptPath: "/nope", ProjectPath: "/p"})
	assert.Error(t, err)
}
