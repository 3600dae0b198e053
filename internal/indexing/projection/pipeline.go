package projection

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/indexing/health"
	"github.com/vietddude/projector/internal/indexing/metrics"
	"github.com/vietddude/projector/internal/indexing/rollback"
	"github.com/vietddude/projector/internal/infra/chainsync"
	"github.com/vietddude/projector/internal/jobs"
)

// Config holds the pipeline collaborators.
type Config struct {
	Source     chainsync.Source
	Decomposer *rollback.Decomposer
	Projectors []Projector
	Retry      jobs.RetryPolicy
	Classifier jobs.Classifier
}

// Pipeline pulls events from a source and projects them.
type Pipeline struct {
	cfg     Config
	health  *health.Tracker
	running atomic.Bool
	after   func(time.Duration) <-chan time.Time
	log     *slog.Logger
}

// NewPipeline creates a projection pipeline.
func NewPipeline(cfg Config) *Pipeline {
	if cfg.Classifier == nil {
		cfg.Classifier = jobs.ClassifierFunc(func(error) bool { return false })
	}
	return &Pipeline{
		cfg:    cfg,
		health: health.NewTracker(false, "Waiting for first block"),
		after:  time.After,
		log:    slog.Default().With("component", "projection"),
	}
}

// Health implements health.Checker.
func (p *Pipeline) Health() health.State {
	return p.health.Health()
}

// Run projects events until the source is exhausted or ctx is done, both
// of which return nil. A non-recoverable projector error is returned.
func (p *Pipeline) Run(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("pipeline already running")
	}
	defer p.running.Store(false)

	for {
		evt, err := p.cfg.Source.Next(ctx)
		if errors.Is(err, io.EOF) {
			p.log.Info("Chain-sync source exhausted")
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			p.health.Set(false, err.Error())
			return fmt.Errorf("chain-sync source failed: %w", err)
		}
		metrics.ChainSyncEvents.WithLabelValues(string(evt.Type)).Inc()

		if err := p.cfg.Decomposer.Drain(ctx, evt, p.project); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.health.Set(false, err.Error())
			return err
		}

		if evt.Type == domain.EventRollForward {
			metrics.TipSlot.Set(float64(evt.Block.Header.Slot))
		} else if !evt.Point.IsOrigin() {
			metrics.TipSlot.Set(float64(evt.Point.Slot))
		}
		p.health.Set(true, "")
	}
}

// project applies one decomposed event to every projector in order.
func (p *Pipeline) project(ctx context.Context, evt domain.ChainSyncEvent) error {
	for _, pr := range p.cfg.Projectors {
		if err := p.apply(ctx, pr, evt); err != nil {
			return fmt.Errorf("projector %s: %w", pr.Name(), err)
		}
	}
	return nil
}

// apply retries pr until it succeeds, fails for good or ctx is done.
func (p *Pipeline) apply(ctx context.Context, pr Projector, evt domain.ChainSyncEvent) error {
	b := p.cfg.Retry.NewBackOff()
	for {
		err := pr.Project(ctx, evt)
		if err == nil {
			return nil
		}
		if !p.retryable(err) {
			return err
		}

		delay := b.NextBackOff()
		metrics.ProjectionRetries.WithLabelValues(pr.Name()).Inc()
		p.health.Set(false, fmt.Sprintf("%s: %v", pr.Name(), err))
		p.log.Warn("Projector failed, retrying",
			"projector", pr.Name(),
			"error", err,
			"delay", delay,
		)

		select {
		case <-p.after(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pipeline) retryable(err error) bool {
	return errors.Is(err, domain.ErrNoConnection) || p.cfg.Classifier.IsRecoverable(err)
}
