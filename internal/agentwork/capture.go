package agentwork

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// MinTranscriptBytes filters out empty or abandoned agent transcripts.
const MinTranscriptBytes = 512

// Embedder vectorizes the request/result text of a run.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Capturer turns agent transcripts into stored work rows with definition
// linkage.
type Capturer struct {
	agents   store.AgentStore
	embedder Embedder
	log      *slog.Logger
}

func NewCapturer(agents store.AgentStore, embedder Embedder, log *slog.Logger) *Capturer {
	return &Capturer{agents: agents, embedder: embedder, log: log}
}

// CaptureFile extracts one transcript and stores the run under the parent
// session. Returns the work row id and false when the run was already
// captured.
func (c *Capturer) CaptureFile(ctx context.Context, path, parentSessionID string, parentSnapshotID *int64) (int64, bool, error) {
	ex, err := FromFile(path)
	if err != nil {
		return 0, false, err
	}

	captured, err := c.agents.HasWork(ctx, ex.AgentID, parentSessionID)
	if err != nil {
		return 0, false, err
	}
	if captured {
		return 0, false, nil
	}

	defID, created, err := c.agents.GetOrCreateDefinition(ctx, &store.AgentDefinition{
		AgentType:     ex.AgentType,
		SystemMessage: ex.SelfDesc,
		Configuration: ex.Configuration,
		Tools:         ex.ToolsList,
		Model:         ex.Model,
		CreatedBy:     "capture",
		ConfigHash:    ex.ConfigHash,
	})
	if err != nil {
		return 0, false, fmt.Errorf("agent definition: %w", err)
	}
	if created {
		c.log.Info("agentwork.definition_created", "agent_type", ex.AgentType, "config_hash", ex.ConfigHash)
	}

	request := ex.Request
	if request == "" {
		request = "No request captured"
	}
	embedding, degraded := c.embedder.Embed(ctx, request+"\n"+ex.ResultSummary)
	if degraded {
		c.log.Warn("agentwork.embed_degraded", "agent_id", ex.AgentID)
	}

	id, inserted, err := c.agents.InsertWork(ctx, &store.AgentWork{
		RequestID:        parentSessionID + "-" + ex.AgentID,
		ParentSnapshotID: parentSnapshotID,
		ParentSessionID:  parentSessionID,
		DefinitionID:     defID,
		AgentID:          ex.AgentID,
		AgentType:        ex.AgentType,
		Request:          request,
		TranscriptPath:   path,
		WorkContext:      ex.WorkContext,
		ToolsUsed:        ex.ToolsUsed,
		FilesExamined:    ex.FilesExamined,
		URLsFetched:      ex.URLsFetched,
		ResultSummary:    ex.ResultSummary,
		StartedAt:        ex.StartedAt,
		EndedAt:          ex.EndedAt,
		Embedding:        embedding,
	})
	if err != nil {
		return 0, false, err
	}
	if inserted {
		c.log.Info("agentwork.stored", "work_id", id, "agent_id", ex.AgentID,
			"agent_type", ex.AgentType, "tools", len(ex.ToolsUsed))
	}
	return id, inserted, nil
}

// Scan finds agent transcripts worth capturing under dir, newest first.
func Scan(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "agent-*.jsonl"))
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	type candidate struct {
		path  string
		mtime int64
	}
	var found []candidate
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil || fi.Size() < MinTranscriptBytes {
			continue
		}
		found = append(found, candidate{m, fi.ModTime().UnixNano()})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mtime > found[j].mtime })

	paths := make([]string, len(found))
	for i, c := range found {
		paths[i] = c.path
	}
	return paths, nil
}

// CaptureDir captures every uncaptured transcript Scan finds. Errors on
// individual transcripts are logged and skipped.
func (c *Capturer) CaptureDir(ctx context.Context, dir, parentSessionID string) (int, error) {
	paths, err := Scan(dir)
	if err != nil {
		return 0, err
	}
	captured := 0
	for _, p := range paths {
		_, inserted, err := c.CaptureFile(ctx, p, parentSessionID, nil)
		if err != nil {
			c.log.Warn("agentwork.capture_failed", "path", p, "error", err)
			continue
		}
		if inserted {
			captured++
		}
	}
	return captured, nil
}
