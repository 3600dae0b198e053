package worker

import (
	"context"
	"log/slog"
	"time"
)

// JobStore deletes finished jobs.
type JobStore interface {
	Prune(ctx context.Context, queue string, before time.Time) (int64, error)
}

// Pruner deletes finished jobs based on a retention period.
type Pruner struct {
	queues    []string
	retention time.Duration
	current   func() (JobStore, bool)
	now       func() time.Time
	log       *slog.Logger
}

// NewPruner creates a new Pruner worker. current returns the store of the
// live connection, false while disconnected.
func NewPruner(queues []string, retention time.Duration, current func() (JobStore, bool)) *Pruner {
	return &Pruner{
		queues:    queues,
		retention: retention,
		current:   current,
		now:       time.Now,
		log:       slog.Default().With("component", "pruner"),
	}
}

// Start runs the pruner loop until ctx is done.
func (p *Pruner) Start(ctx context.Context) {
	if p.retention <= 0 {
		return // Retention disabled
	}

	// Check every 10% of the retention period, between 1 minute and 1 hour
	interval := min(p.retention/10, 1*time.Hour)
	interval = max(interval, 1*time.Minute)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.prune(ctx)
		}
	}
}

// prune runs one pass and returns the number of deleted jobs. A missing
// connection skips the pass.
func (p *Pruner) prune(ctx context.Context) int64 {
	store, ok := p.current()
	if !ok {
		p.log.Debug("No connection, skipping prune")
		return 0
	}

	before := p.now().Add(-p.retention)
	var total int64
	for _, q := range p.queues {
		n, err := store.Prune(ctx, q, before)
		if err != nil {
			p.log.Warn("Failed to prune jobs", "queue", q, "error", err)
			continue
		}
		total += n
	}
	if total > 0 {
		p.log.Info("Pruned finished jobs", "count", total, "before", before.Format(time.RFC3339))
	}
	return total
}
