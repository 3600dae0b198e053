package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/projector/internal/core/config"
	redisclient "github.com/vietddude/projector/internal/infra/redis"
	"github.com/vietddude/projector/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the projected tip and job counts per queue",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	db := openDB(ctx, cfg)
	defer db.Close()

	tip, err := postgres.TipSlot(ctx, db)
	if err != nil {
		slog.Error("Failed to query tip", "error", err)
		os.Exit(1)
	}
	fmt.Printf("Tip slot: %d\n\n", tip)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "QUEUE\tSTATE\tJOBS")

	if cfg.Queue.Backend == config.BackendRedis {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			slog.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()

		engine := redisclient.NewEngine(client, cfg.Queue.Config)
		for _, q := range cfg.Queue.Queues {
			stats, err := engine.QueueStats(ctx, q.Name)
			if err != nil {
				slog.Error("Failed to query queue", "queue", q.Name, "error", err)
				os.Exit(1)
			}
			for _, state := range []string{"pending", "active", "failed"} {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", q.Name, state, stats[state])
			}
		}
		_ = w.Flush()
		return
	}

	stats, err := postgres.QueueStats(ctx, db)
	if err != nil {
		slog.Error("Failed to query jobs", "error", err)
		os.Exit(1)
	}
	for _, s := range stats {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\n", s.Queue, s.State, s.Count)
	}
	_ = w.Flush()
}
