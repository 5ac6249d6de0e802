package summarize

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/memclaw/internal/extract"
	"github.com/nextlevelbuilder/memclaw/internal/store"
)

func makeMessages(n int) []store.Message {
	msgs := make([]store.Message, n)
	for i := range msgs {
		role := "user"
		if i%2 == 1 {
			role = "assistant"
		}
		msgs[i] = store.Message{Role: role, Content: fmt.Sprintf("message %d", i)}
	}
	return msgs
}

func TestSelectFullAtBoundary(t *testing.T) {
	cfg := DefaultSelection() // 20/30/50

	selected, strategy := Select(makeMessages(100), cfg)
	assert.Equal(t, StrategyFull, strategy)
	assert.Len(t, selected, 100)

	selected, strategy = Select(makeMessages(101), cfg)
	assert.Equal(t, StrategySampled, strategy)
	assert.Len(t, selected, 100)
}

func TestSelectSampledKeepsHeadAndTail(t *testing.T) {
	cfg := DefaultSelection()
	msgs := makeMessages(500)

	selected, strategy := Select(msgs, cfg)
	require.Equal(t, StrategySampled, strategy)
	require.Len(t, selected, 100)

	// Head preserved in order.
	for i := 0; i < cfg.FirstN; i++ {
		assert.Equal(t, msgs[i], selected[i])
	}
	// Tail preserved in order.
	for i := 0; i < cfg.LastN; i++ {
		assert.Equal(t, msgs[500-cfg.LastN+i], selected[100-cfg.LastN+i])
	}
	// Middle samples come from the middle band.
	for _, m := range selected[cfg.FirstN : cfg.FirstN+cfg.MiddleN] {
		var idx int
		fmt.Sscanf(m.Content, "message %d", &idx)
		assert.GreaterOrEqual(t, idx, cfg.FirstN)
		assert.Less(t, idx, 500-cfg.LastN)
	}
}

func TestCapContent(t *testing.T) {
	short := strings.Repeat("a", 500)
	assert.Equal(t, short, capContent(short))

	long := strings.Repeat("a", 501)
	capped := capContent(long)
	assert.True(t, strings.HasSuffix(capped, TruncationMarker))
	assert.Len(t, capped, 500+len(TruncationMarker))
}

func TestTruncateRunesKeepsMultibyteWhole(t *testing.T) {
	s := strings.Repeat("é", 300)

	got := truncateRunes(s, 200)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, 200, utf8.RuneCountInString(got))

	// A rune count within the cap passes through untouched even when the
	// byte count exceeds it.
	short := strings.Repeat("é", 150)
	assert.Equal(t, short, truncateRunes(short, 200))
	assert.Equal(t, short, capContent(strings.Repeat("é", 150)))
}

func TestExtractiveTruncatesAtRuneBoundary(t *testing.T) {
	msgs := []store.Message{
		{Role: "user", Content: strings.Repeat("ü", 250)},
		{Role: "assistant", Content: strings.Repeat("ö", 350)},
	}
	got := Extractive(msgs)
	assert.True(t, utf8.ValidString(got))
	assert.Contains(t, got, "Request: "+strings.Repeat("ü", 200)+"\n")
	assert.Contains(t, got, "Outcome: "+strings.Repeat("ö", 300)+"\n")
}

func TestExtractiveTemplate(t *testing.T) {
	msgs := []store.Message{
		{Role: "user", Content: "fix the SQL injection in login"},
		{Role: "assistant", Content: "patched src/auth.js line 42; added tests in test/auth.test.js"},
	}
	got := Extractive(msgs)
	want := "Request: fix the SQL injection in login\n\n" +
		"Outcome: patched src/auth.js line 42; added tests in test/auth.test.js\n\n" +
		"Total messages: 2"
	assert.Equal(t, want, got)
}

func TestExtractiveCapsLengths(t *testing.T) {
	msgs := []store.Message{
		{Role: "user", Content: strings.Repeat("q", 400)},
		{Role: "assistant", Content: strings.Repeat("a", 400)},
	}
	got := Extractive(msgs)
	assert.Contains(t, got, "Request: "+strings.Repeat("q", 200)+"\n")
	assert.Contains(t, got, "Outcome: "+strings.Repeat("a", 300)+"\n")
}

type fakePrevious struct {
	ref *store.SnapshotRef
	err error
}

func (f *fakePrevious) LatestBefore(ctx context.Context, projectPath, excludeSessionID string) (*store.SnapshotRef, error) {
	return f.ref, f.err
}

func TestSummarizeUsesModelAndPreviousContext(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotPrompt = req.Prompt
		json.NewEncoder(w).Encode(generateResponse{Response: "## Primary Goal\nfixed auth"})
	}))
	defer srv.Close()

	prev := &fakePrevious{ref: &store.SnapshotRef{
		ID:        7,
		Timestamp: time.Date(2025, 11, 1, 9, 30, 0, 0, time.UTC),
		Summary:   strings.Repeat("earlier work ", 40),
		Tags:      []string{"api"},
	}}

	s := NewSummarizer(Config{OllamaURL: srv.URL, Model: "llama3.2", UseAI: true}, prev)
	text, degraded := s.Summarize(context.Background(), makeMessages(4), extract.Metadata{Tags: []string{"bug-fix"}}, SessionInfo{
		ProjectPath: "Code/demo", SessionID: "S1", Trigger: "manual",
	})

	assert.False(t, degraded)
	assert.Equal(t, "## Primary Goal\nfixed auth", text)
	assert.Contains(t, gotPrompt, "Snapshot #7")
	assert.Contains(t, gotPrompt, "[api]")
	assert.Contains(t, gotPrompt, "Detected topics: bug-fix")
	// Previous-summary excerpt capped at 300 chars.
	assert.NotContains(t, gotPrompt, strings.Repeat("earlier work ", 40))
}

func TestSummarizeFallsBackOnModelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := NewSummarizer(Config{OllamaURL: srv.URL, Model: "llama3.2", UseAI: true}, nil)
	msgs := []store.Message{
		{Role: "user", Content: "do the thing"},
		{Role: "assistant", Content: "did the thing"},
	}
	text, degraded := s.Summarize(context.Background(), msgs, extract.Metadata{}, SessionInfo{ProjectPath: "p"})

	assert.True(t, degraded)
	assert.Equal(t, "Request: do the thing\n\nOutcome: did the thing\n\nTotal messages: 2", text)
}

func TestSummarizeSkipsModelWhenDisabled(t *testing.T) {
	s := NewSummarizer(Config{OllamaURL: "http://127.0.0.1:1", Model: "m", UseAI: false}, nil)
	text, degraded := s.Summarize(context.Background(), makeMessages(2), extract.Metadata{}, SessionInfo{})
	assert.True(t, degraded)
	assert.Contains(t, text, "Total messages: 2")
}

func TestPromptStatesNoPreviousSession(t *testing.T) {
	var gotPrompt string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		json.NewDecoder(r.Body).Decode(&req)
		gotPrompt = req.Prompt
		json.NewEncoder(w).Encode(generateResponse{Response: "ok"})
	}))
	defer srv.Close()

	s := NewSummarizer(Config{OllamaURL: srv.URL, Model: "m", UseAI: true}, &fakePrevious{err: store.ErrNotFound})
	s.Summarize(context.Background(), makeMessages(2), extract.Metadata{}, SessionInfo{ProjectPath: "p"})

	assert.Contains(t, gotPrompt, "No previous session recorded")
}
