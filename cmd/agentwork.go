package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memclaw/internal/agentwork"
	"github.com/nextlevelbuilder/memclaw/internal/embed"
	"github.com/nextlevelbuilder/memclaw/internal/store/pg"
)

func agentworkCmd() *cobra.Command {
	var scanDir string

	cmd := &cobra.Command{
		Use:   "agentwork <parent-session-id> [transcript...]",
		Short: "Capture delegated agent work into the store",
		Long:  "Captures agent-*.jsonl transcripts as agent_work rows linked to their definitions. With --scan, every uncaptured transcript in the directory is processed, newest first.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
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

			embedder := embed.New(embed.Config{
				OllamaURL: cfg.Embedding.OllamaURL,
				Model:     cfg.Embedding.Model,
				UseReal:   cfg.Embedding.UseReal,
			})
			capturer := agentwork.NewCapturer(stores.Agents, embedder, log)

			parentSession := args[0]
			ctx := cmd.Context()

			if scanDir != "" {
				n, err := capturer.CaptureDir(ctx, scanDir, parentSession)
				if err != nil {
					return err
				}
				fmt.Printf("captured %d agent run(s) from %s\n", n, scanDir)
				return nil
			}

			if len(args) < 2 {
				return fmt.Errorf("provide transcript paths or --scan DIR")
			}
			captured := 0
			for _, path := range args[1:] {
				_, inserted, err := capturer.CaptureFile(ctx, path, parentSession, nil)
				if err != nil {
					log.Warn("agentwork.capture_failed", "path", path, "error", err)
					continue
				}
				if inserted {
					captured++
				}
			}
			fmt.Printf("captured %d agent run(s)\n", captured)
			return nil
		},
	}

	cmd.Flags().StringVar(&scanDir, "scan", "", "scan a directory for agent-*.jsonl transcripts")
	return cmd
}
