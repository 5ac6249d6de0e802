package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memclaw/internal/embed"
	"github.com/nextlevelbuilder/memclaw/internal/extract"
	"github.com/nextlevelbuilder/memclaw/internal/store/pg"
	"github.com/nextlevelbuilder/memclaw/internal/summarize"
)

// reprocessCmd re-runs extraction, summarization and embedding over a
// stored snapshot's raw conversation, for snapshots captured before a
// pipeline improvement.
func reprocessCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reprocess <snapshot-id>",
		Short: "Re-derive summary, metadata and embedding for a snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid snapshot id %q", args[0])
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := newLogger(cfg.Log)

			dsn, err := cfg.Database.DSN()
			if err != nil {
				return err
			}
			stores, db, err := pg.NewStores(dsn)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx := cmd.Context()
			snap, err := stores.Snapshots.Get(ctx, id)
			if err != nil {
				return fmt.Errorf("load snapshot %d: %w", id, err)
			}

			md := extract.FromMessages(snap.RawContext)
			summarizer := summarize.NewSummarizer(summarize.Config{
				OllamaURL: cfg.Summary.OllamaURL,
				Model:     cfg.Summary.Model,
				UseAI:     cfg.Summary.UseAI,
			}, stores.Snapshots)
			summary, degraded := summarizer.Summarize(ctx, snap.RawContext, md, summarize.SessionInfo{
				ProjectPath: snap.ProjectPath,
				SessionID:   snap.SessionID,
				Trigger:     snap.TriggerEvent,
			})
			if degraded {
				log.Warn("reprocess.summary_degraded", "snapshot_id", id)
			}

			embedder := embed.New(embed.Config{
				OllamaURL: cfg.Embedding.OllamaURL,
				Model:     cfg.Embedding.Model,
				UseReal:   cfg.Embedding.UseReal,
			})
			vec, embDegraded := embedder.Embed(ctx, summary)
			if embDegraded {
				log.Warn("reprocess.embed_degraded", "snapshot_id", id)
			}

			snap.Summary = summary
			snap.Embedding = vec
			snap.Tags = md.Tags
			snap.MentionedFiles = md.MentionedFiles
			snap.KeyDecisions = md.KeyDecisions
			snap.BugsFixed = md.BugsFixed

			if snap.SessionID == "" && snap.TranscriptPath == "" {
				// No upsert key survives on this row; rewrite in place.
				if err := stores.Snapshots.RewriteSummary(ctx, id, summary, vec); err != nil {
					return err
				}
				fmt.Printf("snapshot %d summary rewritten (no upsert key, metadata unchanged)\n", id)
				return nil
			}

			result, err := stores.Snapshots.Persist(ctx, snap)
			if err != nil {
				return err
			}
			fmt.Printf("snapshot %d reprocessed (%s)\n", result.ID, result.Action)
			return nil
		},
	}
}
