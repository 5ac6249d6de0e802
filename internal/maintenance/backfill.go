// Package maintenance runs the resident embedding backfill: snapshots that
// were stored with a degraded or missing embedding get a real one once the
// embedding model is reachable again.
package maintenance

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/memclaw/internal/bus"
	"github.com/nextlevelbuilder/memclaw/internal/store"
)

// DefaultSchedule runs the backfill every 15 minutes.
const DefaultSchedule = "*/15 * * * *"

const batchSize = 20

// Embedder must produce a real vector; synthetic output is reported
// through the degraded flag and skipped.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Backfiller periodically re-embeds snapshots missing a vector.
type Backfiller struct {
	snapshots store.SnapshotStore
	embedder  Embedder
	events    bus.EventPublisher
	log       *slog.Logger

	schedule string
	gron     *gronx.Gronx

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewBackfiller(snapshots store.SnapshotStore, embedder Embedder, events bus.EventPublisher, log *slog.Logger, schedule string) *Backfiller {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Backfiller{
		snapshots: snapshots,
		embedder:  embedder,
		events:    events,
		log:       log,
		schedule:  schedule,
		gron:      gronx.New(),
		done:      make(chan struct{}),
	}
}

// Start runs the schedule loop. The cron expression is checked once per
// minute, matching its resolution.
func (b *Backfiller) Start(ctx context.Context) {
	if !b.gron.IsValid(b.schedule) {
		b.log.Error("backfill.invalid_schedule", "schedule", b.schedule)
		return
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-b.done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				due, err := b.gron.IsDue(b.schedule, time.Now())
				if err != nil || !due {
					continue
				}
				b.RunOnce(ctx)
			}
		}
	}()
}

func (b *Backfiller) Stop() {
	b.once.Do(func() { close(b.done) })
	b.wg.Wait()
}

// RunOnce backfills one batch and reports how many snapshots got a real
// embedding.
func (b *Backfiller) RunOnce(ctx context.Context) int {
	heads, err := b.snapshots.MissingEmbeddings(ctx, batchSize)
	if err != nil {
		b.log.Error("backfill.list_failed", "error", err)
		return 0
	}
	if len(heads) == 0 {
		return 0
	}

	filled := 0
	for _, h := range heads {
		vec, degraded := b.embedder.Embed(ctx, h.Summary)
		if degraded {
			// Model still unreachable; the rest of the batch would
			// degrade the same way.
			b.log.Warn("backfill.embedder_unavailable", "snapshot_id", h.ID)
			break
		}
		if err := b.snapshots.UpdateEmbedding(ctx, h.ID, vec); err != nil {
			b.log.Error("backfill.update_failed", "snapshot_id", h.ID, "error", err)
			continue
		}
		filled++
	}
	if filled > 0 {
		b.log.Info("backfill.completed", "filled", filled, "pending", len(heads)-filled)
		b.events.Broadcast(bus.Event{Name: bus.EventEmbeddingBackfill, Payload: map[string]int{
			"filled": filled,
		}})
	}
	return filled
}
