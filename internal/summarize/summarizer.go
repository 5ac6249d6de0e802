// Package summarize generates session-aware summaries of captured
// conversations against a local text model, with an extractive fallback
// when the model is unavailable.
package summarize

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/memclaw/internal/extract"
	"github.com/nextlevelbuilder/memclaw/internal/store"
)

const previousExcerptChars = 300

// SessionInfo identifies the capture being summarized.
type SessionInfo struct {
	ProjectPath string
	SessionID   string
	Trigger     string
}

// PreviousSnapshotSource is the slice of the snapshot store the summarizer
// needs: the most recent prior capture for the same project.
type PreviousSnapshotSource interface {
	LatestBefore(ctx context.Context, projectPath, excludeSessionID string) (*store.SnapshotRef, error)
}

// Summarizer produces summary text for a conversation. It is safe for
// concurrent use by multiple pipelines.
type Summarizer struct {
	client    *ollamaClient
	previous  PreviousSnapshotSource
	selection SelectionConfig
	useAI     bool
}

// Config for NewSummarizer.
type Config struct {
	OllamaURL string
	Model     string
	UseAI     bool
	Selection SelectionConfig
}

// NewSummarizer builds a summarizer. previous may be nil, in which case
// prompts state that no prior session exists.
func NewSummarizer(cfg Config, previous PreviousSnapshotSource) *Summarizer {
	sel := cfg.Selection
	if sel.FirstN <= 0 && sel.MiddleN <= 0 && sel.LastN <= 0 {
		sel = DefaultSelection()
	}
	return &Summarizer{
		client:    newOllamaClient(cfg.OllamaURL, cfg.Model),
		previous:  previous,
		selection: sel,
		useAI:     cfg.UseAI,
	}
}

// Summarize returns the summary text and whether the extractive fallback
// was used. It never returns an error for model failures; those degrade.
func (s *Summarizer) Summarize(ctx context.Context, msgs []store.Message, md extract.Metadata, sess SessionInfo) (string, bool) {
	if !s.useAI {
		return Extractive(msgs), true
	}

	prompt := s.buildPrompt(ctx, msgs, md, sess)
	text, err := s.client.Generate(ctx, prompt)
	if err != nil {
		slog.Warn("summarize.model_unavailable",
			"project_path", sess.ProjectPath,
			"session_id", sess.SessionID,
			"error", err,
		)
		return Extractive(msgs), true
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return Extractive(msgs), true
	}
	return text, false
}

func (s *Summarizer) buildPrompt(ctx context.Context, msgs []store.Message, md extract.Metadata, sess SessionInfo) string {
	selected, strategy := Select(msgs, s.selection)

	var b strings.Builder
	b.WriteString("You are summarizing a coding assistant session for long-term memory.\n\n")

	fmt.Fprintf(&b, "Project: %s\nTrigger: %s\n", sess.ProjectPath, sess.Trigger)
	if sess.SessionID != "" {
		fmt.Fprintf(&b, "Session: %s\n", sess.SessionID)
	}
	fmt.Fprintf(&b, "Messages: %d (selection: %s)\n", len(msgs), strategy)

	b.WriteString("\nPrevious session context:\n")
	b.WriteString(s.previousContext(ctx, sess))

	if len(md.Tags) > 0 {
		fmt.Fprintf(&b, "\nDetected topics: %s\n", strings.Join(md.Tags, ", "))
	}
	if len(md.MentionedFiles) > 0 {
		fmt.Fprintf(&b, "Files touched: %s\n", strings.Join(md.MentionedFiles, ", "))
	}
	if len(md.KeyDecisions) > 0 {
		fmt.Fprintf(&b, "Decision phrases: %s\n", strings.Join(md.KeyDecisions, "; "))
	}
	if len(md.BugsFixed) > 0 {
		fmt.Fprintf(&b, "Bug phrases: %s\n", strings.Join(md.BugsFixed, "; "))
	}

	b.WriteString("\nConversation:\n")
	for _, m := range selected {
		fmt.Fprintf(&b, "[%s] %s\n", m.Role, capContent(m.Content))
	}

	b.WriteString(`
Write a structured summary with these sections:
## Primary Goal
## Files Modified
## Features Added
## Bugs Fixed
## Technical Decisions
## Session Metrics
## Continuity
The Continuity section must relate this session to the previous session context above.`)

	return b.String()
}

func (s *Summarizer) previousContext(ctx context.Context, sess SessionInfo) string {
	if s.previous == nil {
		return "No previous session recorded for this project.\n"
	}
	ref, err := s.previous.LatestBefore(ctx, sess.ProjectPath, sess.SessionID)
	if err != nil {
		return "No previous session recorded for this project.\n"
	}
	excerpt := truncateRunes(ref.Summary, previousExcerptChars)
	var b strings.Builder
	fmt.Fprintf(&b, "Snapshot #%d at %s", ref.ID, ref.Timestamp.Format("2006-01-02 15:04"))
	if len(ref.Tags) > 0 {
		fmt.Fprintf(&b, " [%s]", strings.Join(ref.Tags, ", "))
	}
	fmt.Fprintf(&b, ":\n%s\n", excerpt)
	return b.String()
}

// Extractive is the degraded-mode summary: first user message as the
// request, last assistant message as the outcome, plus the message count.
func Extractive(msgs []store.Message) string {
	request := "(none)"
	for _, m := range msgs {
		if m.Role == "user" && m.Content != "" {
			request = truncateRunes(m.Content, 200)
			break
		}
	}

	outcome := "(none)"
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" && msgs[i].Content != "" {
			outcome = truncateRunes(msgs[i].Content, 300)
			break
		}
	}

	return fmt.Sprintf("Request: %s\n\nOutcome: %s\n\nTotal messages: %d", request, outcome, len(msgs))
}
