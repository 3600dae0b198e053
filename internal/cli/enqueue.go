package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/projector/internal/core/config"
	"github.com/vietddude/projector/internal/infra/queue"
	redisclient "github.com/vietddude/projector/internal/infra/redis"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [queue] [json_payload]",
	Short: "Send a job to a durable queue",
	Args:  cobra.ExactArgs(2),
	Run:   runEnqueue,
}

func init() {
	rootCmd.AddCommand(enqueueCmd)
}

func runEnqueue(cmd *cobra.Command, args []string) {
	name, payload := args[0], []byte(args[1])
	cfg := loadConfig()
	ctx := context.Background()

	var (
		id  string
		err error
	)
	if cfg.Queue.Backend == config.BackendRedis {
		client, cerr := redisclient.NewClient(cfg.Redis)
		if cerr != nil {
			slog.Error("Failed to connect to Redis", "error", cerr)
			os.Exit(1)
		}
		defer func() {
			_ = client.Close()
		}()
		id, err = redisclient.NewEngine(client, cfg.Queue.Config).Send(ctx, name, payload)
	} else {
		db := openDB(ctx, cfg)
		defer db.Close()
		id, err = queue.NewPostgresEngine(db.Pool, cfg.Queue.Config).Send(ctx, name, payload)
	}
	if err != nil {
		slog.Error("Failed to enqueue job", "queue", name, "error", err)
		os.Exit(1)
	}

	fmt.Printf("Enqueued job %s on %s\n", id, name)
}
