package cmd

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/memclaw/internal/store/pg"
)

// doctorCmd checks the external services the engine depends on.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check database, Ollama and server health",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Println("memclaw doctor")
			fmt.Println()

			failures := 0
			check := func(name string, err error) {
				if err != nil {
					failures++
					fmt.Printf("  ✗ %-22s %v\n", name, err)
					return
				}
				fmt.Printf("  ✓ %-22s ok\n", name)
			}

			dsn, err := cfg.Database.DSN()
			if err != nil {
				check("postgres", err)
			} else {
				db, err := pg.OpenDB(dsn)
				if err == nil {
					db.Close()
				}
				check("postgres", err)
			}

			check("ollama (summaries)", ping(cmd.Context(), cfg.Summary.OllamaURL+"/api/tags"))
			if cfg.Embedding.OllamaURL != cfg.Summary.OllamaURL {
				check("ollama (embeddings)", ping(cmd.Context(), cfg.Embedding.OllamaURL+"/api/tags"))
			}
			check("capture server", ping(cmd.Context(), cfg.Server.CaptureURL()+"/health"))

			fmt.Println()
			if failures > 0 {
				return fmt.Errorf("%d check(s) failed", failures)
			}
			fmt.Println("all checks passed")
			return nil
		},
	}
}

func ping(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
