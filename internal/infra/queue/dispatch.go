// Package queue implements durable job queues on top of a claim/settle store.
//
// # Dispatch Model
//
// Each subscription runs one receiver and Parallelism consumers:
//   - The receiver takes a slot from a weighted semaphore, claims one job and
//     pushes it into a channel of capacity Parallelism
//   - Consumers run the handler, settle the job and give the slot back
//
// At most Parallelism jobs of a subscription are claimed and unsettled at any
// time. Store errors end the subscription; the error is reported by Err.
//
// Jobs interrupted by Unsubscribe are released back to the queue without
// counting as an attempt.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/indexing/metrics"
)

const settleTimeout = 5 * time.Second

// Store claims and settles jobs of one backend.
type Store interface {
	// Claim marks the next available job of queue active and returns it.
	// It returns nil when no job is available.
	Claim(ctx context.Context, queue string) (*domain.JobRecord, error)
	// Complete marks a job done.
	Complete(ctx context.Context, job *domain.JobRecord) error
	// Fail records a failed attempt. The store decides whether to retry.
	Fail(ctx context.Context, job *domain.JobRecord, cause error) error
	// Release returns an interrupted job to the queue.
	Release(ctx context.Context, job *domain.JobRecord) error
}

// Subscription is a running dispatch loop for one queue.
type Subscription struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

// Unsubscribe stops fetching jobs and cancels in-flight handlers.
func (s *Subscription) Unsubscribe() {
	s.cancel()
}

// Done is closed once the receiver and every consumer have returned.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Err returns the store error that ended the subscription.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Subscription) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.done)
}

// Dispatch starts consuming queue from store until ctx is done, Unsubscribe is
// called or the store fails.
func Dispatch(
	ctx context.Context,
	store Store,
	queue string,
	opts domain.WorkOptions,
	handler domain.JobHandler,
	pollInterval time.Duration,
) *Subscription {
	n := max(opts.Parallelism, 1)
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{cancel: cancel, done: make(chan struct{})}

	d := &dispatcher{
		store:   store,
		queue:   queue,
		handler: handler,
		poll:    pollInterval,
		slots:   semaphore.NewWeighted(int64(n)),
		jobs:    make(chan *domain.JobRecord, n),
		log:     slog.Default().With("component", "dispatcher", "queue", queue),
	}

	g, gctx := errgroup.WithContext(subCtx)
	g.Go(func() error { return d.receive(gctx) })
	for i := 0; i < n; i++ {
		g.Go(func() error { return d.consume(gctx) })
	}

	go func() {
		err := g.Wait()
		cancel()
		sub.finish(err)
	}()
	return sub
}

type dispatcher struct {
	store   Store
	queue   string
	handler domain.JobHandler
	poll    time.Duration
	slots   *semaphore.Weighted
	jobs    chan *domain.JobRecord
	log     *slog.Logger
}

func (d *dispatcher) receive(ctx context.Context) error {
	defer close(d.jobs)

	for {
		if err := d.slots.Acquire(ctx, 1); err != nil {
			return nil
		}

		job, err := d.store.Claim(ctx, d.queue)
		if err != nil {
			d.slots.Release(1)
			if ctx.Err() != nil {
				return nil
			}
			metrics.QueueClaimErrors.WithLabelValues(d.queue, "claim").Inc()
			return fmt.Errorf("claim job: %w", err)
		}

		if job == nil {
			d.slots.Release(1)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(d.poll):
			}
			continue
		}

		select {
		case d.jobs <- job:
		case <-ctx.Done():
			d.slots.Release(1)
			d.release(job)
			return nil
		}
	}
}

func (d *dispatcher) consume(ctx context.Context) error {
	for job := range d.jobs {
		err := d.run(ctx, job)
		d.slots.Release(1)
		if err != nil {
			return err
		}
	}
	return nil
}

// run executes one job and settles it. Only store errors are returned.
func (d *dispatcher) run(ctx context.Context, job *domain.JobRecord) error {
	if ctx.Err() != nil {
		d.release(job)
		return nil
	}

	herr := d.handler(ctx, job)

	settleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), settleTimeout)
	defer cancel()

	switch {
	case herr == nil:
		if err := d.store.Complete(settleCtx, job); err != nil {
			metrics.QueueClaimErrors.WithLabelValues(d.queue, "complete").Inc()
			return fmt.Errorf("complete job %s: %w", job.ID, err)
		}
	case ctx.Err() != nil && errors.Is(herr, context.Canceled):
		d.release(job)
	default:
		if err := d.store.Fail(settleCtx, job, herr); err != nil {
			metrics.QueueClaimErrors.WithLabelValues(d.queue, "fail").Inc()
			return fmt.Errorf("fail job %s: %w", job.ID, err)
		}
	}
	return nil
}

func (d *dispatcher) release(job *domain.JobRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()
	if err := d.store.Release(ctx, job); err != nil {
		metrics.QueueClaimErrors.WithLabelValues(d.queue, "release").Inc()
		d.log.Warn("Failed to release job", "id", job.ID, "error", err)
	}
}
