package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vietddude/projector/internal/infra/storage/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := context.Background()

	db := openDB(ctx, cfg)
	defer db.Close()

	if err := postgres.Migrate(ctx, db); err != nil {
		slog.Error("Failed to migrate database", "error", err)
		os.Exit(1)
	}
	fmt.Println("Database is up to date")
}
