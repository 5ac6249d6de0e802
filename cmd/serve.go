package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memclaw/internal/agentwork"
	"github.com/nextlevelbuilder/memclaw/internal/bus"
	"github.com/nextlevelbuilder/memclaw/internal/embed"
	"github.com/nextlevelbuilder/memclaw/internal/maintenance"
	"github.com/nextlevelbuilder/memclaw/internal/pipeline"
	"github.com/nextlevelbuilder/memclaw/internal/retrieval"
	"github.com/nextlevelbuilder/memclaw/internal/server"
	"github.com/nextlevelbuilder/memclaw/internal/store/pg"
	"github.com/nextlevelbuilder/memclaw/internal/summarize"
	"github.com/nextlevelbuilder/memclaw/internal/telemetry"
	"github.com/nextlevelbuilder/memclaw/internal/watcher"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the capture and retrieval server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := loadConfig()
	if err != nil {
		slogFatal("config load failed", err)
	}
	log := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		slogFatal("telemetry init failed", err)
	}
	defer shutdownTelemetry(context.Background())

	dsn, err := cfg.Database.DSN()
	if err != nil {
		slogFatal("database config invalid", err)
	}
	stores, db, err := pg.NewStores(dsn)
	if err != nil {
		slogFatal("database unavailable", err)
	}
	defer db.Close()
	log.Info("db.connected", "host", cfg.Database.Host, "db", cfg.Database.Name)

	summarizer := summarize.NewSummarizer(summarize.Config{
		OllamaURL: cfg.Summary.OllamaURL,
		Model:     cfg.Summary.Model,
		UseAI:     cfg.Summary.UseAI,
	}, stores.Snapshots)
	embedder := embed.New(embed.Config{
		OllamaURL: cfg.Embedding.OllamaURL,
		Model:     cfg.Embedding.Model,
		UseReal:   cfg.Embedding.UseReal,
	})

	events := bus.New()
	pipe := pipeline.New(stores.Snapshots, summarizer, embedder, events, log, pipeline.Options{
		Workers:       cfg.Pipeline.Workers,
		QueueCap:      cfg.Pipeline.QueueCap,
		WorkspaceRoot: cfg.Pipeline.WorkspaceRoot,
	})

	rsvc := retrieval.NewService(stores, embedder, log)
	srv := server.New(pipe, stores, rsvc, embedder, events, log, server.Options{
		Addr:         cfg.Server.Addr(),
		RateLimitRPM: cfg.Server.RateLimitRPM,
	})

	backfiller := maintenance.NewBackfiller(stores.Snapshots, embedder, events, log,
		cfg.Embedding.BackfillSchedule)
	backfiller.Start(ctx)
	defer backfiller.Stop()

	if cfg.Watcher.Enabled && len(cfg.Watcher.Dirs) > 0 {
		capturer := agentwork.NewCapturer(stores.Agents, embedder, log)
		w, err := watcher.New(capturer, log)
		if err != nil {
			slogFatal("watcher init failed", err)
		}
		for _, dir := range cfg.Watcher.Dirs {
			if err := w.Watch(dir); err != nil {
				log.Warn("watcher.dir_failed", "dir", dir, "error", err)
			}
		}
		w.Start(ctx)
		defer w.Stop()
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		log.Info("server.shutdown_requested")
	case err := <-errCh:
		if err != nil {
			slogFatal("server failed", err)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server.shutdown_failed", "error", err)
	}
	log.Info("server.stopped")
}
