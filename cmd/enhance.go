package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memclaw/internal/anthropic"
	"github.com/nextlevelbuilder/memclaw/internal/embed"
	"github.com/nextlevelbuilder/memclaw/internal/store"
	"github.com/nextlevelbuilder/memclaw/internal/store/pg"
)

const enhanceMaxTokens = 4096

// enhanceCmd replaces a snapshot's local-model summary with a detailed
// archival one written by the Claude API, then re-embeds it.
func enhanceCmd() *cobra.Command {
	var model string

	cmd := &cobra.Command{
		Use:   "enhance <snapshot-id>",
		Short: "Rewrite a snapshot summary with the Claude API",
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
			if cfg.Summary.AnthropicAPIKey == "" {
				return fmt.Errorf("ANTHROPIC_API_KEY is not set")
			}

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

			client := anthropic.New(cfg.Summary.AnthropicAPIKey, anthropic.WithModel(model))
			summary, err := client.Complete(ctx, enhancePrompt(snap), enhanceMaxTokens)
			if err != nil {
				return fmt.Errorf("enhance snapshot %d: %w", id, err)
			}

			embedder := embed.New(embed.Config{
				OllamaURL: cfg.Embedding.OllamaURL,
				Model:     cfg.Embedding.Model,
				UseReal:   cfg.Embedding.UseReal,
			})
			vec, degraded := embedder.Embed(ctx, summary)
			if degraded {
				log.Warn("enhance.embed_degraded", "snapshot_id", id)
				vec = nil // keep the existing embedding rather than store noise
			}

			if err := stores.Snapshots.RewriteSummary(ctx, id, summary, vec); err != nil {
				return err
			}
			fmt.Printf("snapshot %d enhanced (%d chars)\n", id, len(summary))
			return nil
		},
	}

	cmd.Flags().StringVar(&model, "model", "", "Claude model to use (default claude-sonnet-4-5)")
	return cmd
}

func enhancePrompt(snap *store.Snapshot) string {
	var conv strings.Builder
	for i, m := range snap.RawContext {
		fmt.Fprintf(&conv, "[Message %d] %s:\n%s\n\n", i+1, strings.ToUpper(m.Role), m.Content)
	}

	current := snap.Summary
	if len(current) > 500 {
		current = current[:500] + "..."
	}

	var b strings.Builder
	fmt.Fprintf(&b, `You are analyzing a development session for a detailed archival summary.

**SNAPSHOT METADATA:**
- Snapshot ID: %d
- Project: %s
- Date: %s
- Tags: %s
- Messages: %d
- Trigger: %s

**CURRENT SUMMARY (to be replaced):**
%s

**FULL CONVERSATION:**

%s

**YOUR TASK:**

Generate a comprehensive, detailed summary (1500-3000 words) with these sections:

## Primary Goal
## Work Completed
### Session Type
### Files Modified
### Features Added
### Bugs Fixed
### Architecture Decisions Made
## Technical Decisions
## Open Questions / Unresolved Issues
## Continuity

Be technically precise with file names and function names, capture WHY
decisions were made, and note dead ends explored. This is for archival
and knowledge transfer.

Generate the detailed summary now:`,
		snap.ID, snap.ProjectPath, snap.Timestamp.Format("2006-01-02 15:04"),
		tagList(snap.Tags), len(snap.RawContext), snap.TriggerEvent,
		current, conv.String())
	return b.String()
}

func tagList(tags []string) string {
	if len(tags) == 0 {
		return "none"
	}
	return strings.Join(tags, ", ")
}
