// Package pipeline runs the asynchronous capture path: accepted requests
// queue up, workers drain the queue through extraction, summarization,
// embedding and persistence.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/memclaw/internal/bus"
	"github.com/nextlevelbuilder/memclaw/internal/extract"
	"github.com/nextlevelbuilder/memclaw/internal/gitinfo"
	"github.com/nextlevelbuilder/memclaw/internal/store"
	"github.com/nextlevelbuilder/memclaw/internal/summarize"
	"github.com/nextlevelbuilder/memclaw/internal/transcript"
)

// ErrBusy is returned when the intake queue is full. Callers answer 429;
// the conversation data stays on disk and can be recaptured.
var ErrBusy = errors.New("pipeline: intake queue full")

// ErrEmptyConversation marks transcripts that reduce to zero messages.
var ErrEmptyConversation = errors.New("pipeline: empty conversation")

const (
	defaultWorkers  = 4
	defaultQueueCap = 64

	stageTimeout   = 30 * time.Second
	summaryTimeout = 6 * time.Minute
)

// Request is one accepted capture, queued for processing. Messages, when
// present, is the inline conversation from the request body; otherwise
// the transcript is read from TranscriptPath.
type Request struct {
	ID             string
	SessionID      string
	TranscriptPath string
	ProjectPath    string
	Trigger        string
	Messages       []store.Message
	EnqueuedAt     time.Time
}

// Persister is the single write dependency of the pipeline.
type Persister interface {
	Persist(ctx context.Context, snap *store.Snapshot) (*store.PersistResult, error)
}

// Embedder produces the query/storage vector. Implementations signal
// degradation (synthetic vector) through the second return.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Summarizer condenses a conversation, with a degraded flag on fallback.
type Summarizer interface {
	Summarize(ctx context.Context, msgs []store.Message, md extract.Metadata, sess summarize.SessionInfo) (string, bool)
}

// Coordinator owns the queue and worker pool.
type Coordinator struct {
	store      Persister
	summarizer Summarizer
	embedder   Embedder
	events     bus.EventPublisher
	log        *slog.Logger
	tracer     trace.Tracer

	workspaceRoot string

	queue chan Request
	wg    sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
}

// Options tunes the pool; zero values take defaults.
type Options struct {
	Workers       int
	QueueCap      int
	WorkspaceRoot string
}

func New(snapshots Persister, summarizer Summarizer, embedder Embedder, events bus.EventPublisher, log *slog.Logger, opts Options) *Coordinator {
	if opts.Workers <= 0 {
		opts.Workers = defaultWorkers
	}
	if opts.QueueCap <= 0 {
		opts.QueueCap = defaultQueueCap
	}
	c := &Coordinator{
		store:         snapshots,
		summarizer:    summarizer,
		embedder:      embedder,
		events:        events,
		log:           log,
		tracer:        otel.Tracer("pipeline"),
		workspaceRoot: opts.WorkspaceRoot,
		queue:         make(chan Request, opts.QueueCap),
		closed:        make(chan struct{}),
	}
	for i := 0; i < opts.Workers; i++ {
		c.wg.Add(1)
		go c.worker(i)
	}
	return c
}

// Submit enqueues a capture without blocking. ErrBusy when the queue is
// full, so the HTTP layer can answer 429 immediately.
func (c *Coordinator) Submit(req Request) (string, error) {
	select {
	case <-c.closed:
		return "", errors.New("pipeline: shut down")
	default:
	}

	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	req.EnqueuedAt = time.Now()

	select {
	case c.queue <- req:
		c.log.Info("capture.accepted",
			"request_id", req.ID,
			"project_path", req.ProjectPath,
			"trigger", req.Trigger,
			"queue_depth", len(c.queue))
		c.events.Broadcast(bus.Event{Name: bus.EventCaptureAccepted, Payload: map[string]string{
			"request_id":   req.ID,
			"project_path": req.ProjectPath,
			"trigger":      req.Trigger,
		}})
		return req.ID, nil
	default:
		c.log.Warn("capture.rejected", "reason", "queue_full", "project_path", req.ProjectPath)
		return "", ErrBusy
	}
}

// QueueDepth reports pending requests, for /health.
func (c *Coordinator) QueueDepth() int {
	return len(c.queue)
}

// Close stops intake and waits for workers to drain in-flight requests.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		close(c.queue)
	})
	c.wg.Wait()
}

func (c *Coordinator) worker(n int) {
	defer c.wg.Done()
	for req := range c.queue {
		c.process(context.Background(), req, n)
	}
}

func (c *Coordinator) process(ctx context.Context, req Request, worker int) {
	ctx, span := c.tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(
			attribute.String("request.id", req.ID),
			attribute.String("project.path", req.ProjectPath),
			attribute.String("trigger", req.Trigger),
		))
	defer span.End()

	log := c.log.With(
		"request_id", req.ID,
		"worker", worker,
		"project_path", req.ProjectPath,
		"trigger", req.Trigger,
		"session_id", req.SessionID)
	start := time.Now()

	snap, degraded, err := c.buildSnapshot(ctx, req, log)
	if err != nil {
		class := "transcript_unreadable"
		if errors.Is(err, ErrEmptyConversation) {
			class = "empty_conversation"
		}
		c.fail(span, log, req, err, class, start)
		return
	}

	result, err := c.persist(ctx, snap)
	if err != nil {
		class := "store_fatal"
		if errors.Is(err, store.ErrConflict) {
			class = "store_conflict"
		}
		c.fail(span, log, req, err, class, start)
		return
	}

	log.Info("capture.stored",
		"snapshot_id", result.ID,
		"action", string(result.Action),
		"messages", snap.MessageCount,
		"degraded", degraded,
		"elapsed", time.Since(start))
	name := bus.EventCaptureStored
	if degraded {
		name = bus.EventCaptureDegraded
	}
	c.events.Broadcast(bus.Event{Name: name, Payload: map[string]interface{}{
		"request_id":  req.ID,
		"snapshot_id": result.ID,
		"action":      string(result.Action),
	}})
}

// fail logs and broadcasts a terminal capture failure with its class
// (empty_conversation, transcript_unreadable, store_conflict, store_fatal).
func (c *Coordinator) fail(span trace.Span, log *slog.Logger, req Request, err error, class string, start time.Time) {
	span.RecordError(err)
	log.Error("capture.failed",
		"class", class,
		"error", err,
		"elapsed", time.Since(start))
	c.events.Broadcast(bus.Event{Name: bus.EventCaptureFailed, Payload: map[string]string{
		"request_id": req.ID,
		"class":      class,
		"error":      err.Error(),
	}})
}

// buildSnapshot runs the read, extract, summarize and embed stages. The
// degraded flag is true when any stage fell back (extractive summary or
// synthetic embedding).
func (c *Coordinator) buildSnapshot(ctx context.Context, req Request, log *slog.Logger) (*store.Snapshot, bool, error) {
	msgs := req.Messages
	if len(msgs) == 0 {
		entries, err := transcript.ReadFile(req.TranscriptPath)
		if err != nil {
			return nil, false, fmt.Errorf("read transcript: %w", err)
		}
		msgs = transcript.Messages(entries)
	}
	if len(msgs) == 0 {
		return nil, false, ErrEmptyConversation
	}

	_, span := c.tracer.Start(ctx, "pipeline.extract")
	md := extract.FromMessages(msgs)
	span.End()

	git := gitinfo.Lookup(ctx, req.ProjectPath, c.workspaceRoot)

	sumCtx, cancel := context.WithTimeout(ctx, summaryTimeout)
	sumCtx, span = c.tracer.Start(sumCtx, "pipeline.summarize")
	summary, sumDegraded := c.summarizer.Summarize(sumCtx, msgs, md, summarize.SessionInfo{
		ProjectPath: req.ProjectPath,
		SessionID:   req.SessionID,
		Trigger:     req.Trigger,
	})
	span.End()
	cancel()
	if sumDegraded {
		log.Warn("summarize.degraded", "project_path", req.ProjectPath)
	}

	embCtx, cancel := context.WithTimeout(ctx, stageTimeout)
	embCtx, span = c.tracer.Start(embCtx, "pipeline.embed")
	embedding, embDegraded := c.embedder.Embed(embCtx, summary)
	span.End()
	cancel()
	if embDegraded {
		log.Warn("embed.degraded", "project_path", req.ProjectPath)
	}

	size := int64(0)
	if fi, err := os.Stat(req.TranscriptPath); err == nil {
		size = fi.Size()
	} else if raw, merr := json.Marshal(msgs); merr == nil {
		// Inline capture with no transcript on disk.
		size = int64(len(raw))
	}

	return &store.Snapshot{
		ProjectPath:      req.ProjectPath,
		SessionID:        req.SessionID,
		TranscriptPath:   req.TranscriptPath,
		TriggerEvent:     req.Trigger,
		MessageCount:     len(msgs),
		RawContext:       msgs,
		Summary:          summary,
		Embedding:        embedding,
		Tags:             md.Tags,
		MentionedFiles:   md.MentionedFiles,
		KeyDecisions:     md.KeyDecisions,
		BugsFixed:        md.BugsFixed,
		GitCommitHash:    git.CommitHash,
		GitBranch:        git.Branch,
		ContextSizeBytes: size,
	}, sumDegraded || embDegraded, nil
}

// persist writes the snapshot, retrying a unique-violation conflict once.
// The retry re-runs the match and takes the update path against the row
// the concurrent writer just inserted.
func (c *Coordinator) persist(ctx context.Context, snap *store.Snapshot) (*store.PersistResult, error) {
	ctx, span := c.tracer.Start(ctx, "pipeline.persist")
	defer span.End()

	result, err := c.store.Persist(ctx, snap)
	if errors.Is(err, store.ErrConflict) {
		c.log.Warn("persist.conflict", "session_id", snap.SessionID)
		result, err = c.store.Persist(ctx, snap)
	}
	return result, err
}
