package postgres

import (
	"context"
	"fmt"
)

// QueueStat is the number of jobs of a queue in one state.
type QueueStat struct {
	Queue string `db:"queue"`
	State string `db:"state"`
	Count int64  `db:"count"`
}

// QueueStats returns job counts grouped by queue and state.
func QueueStats(ctx context.Context, db *DB) ([]QueueStat, error) {
	query := `
		SELECT queue, state, COUNT(*) AS count
		FROM jobs
		GROUP BY queue, state
		ORDER BY queue, state
	`
	var stats []QueueStat
	if err := db.X.SelectContext(ctx, &stats, query); err != nil {
		return nil, fmt.Errorf("failed to query queue stats: %w", err)
	}
	return stats, nil
}

// TipSlot returns the highest projected slot, or 0 when no block is stored.
func TipSlot(ctx context.Context, db *DB) (uint64, error) {
	var slot int64
	if err := db.X.GetContext(ctx, &slot, `SELECT COALESCE(MAX(slot), 0) FROM blocks`); err != nil {
		return 0, fmt.Errorf("failed to query tip slot: %w", err)
	}
	return uint64(slot), nil
}
