package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/projector/internal/core/domain"
)

// QueueWorker consumes one queue on the current epoch's engine.
//
// Every failure is returned to the engine so its retry policy applies.
// Recoverable failures are additionally raised to the supervisor, which ends
// the epoch.
type QueueWorker struct {
	queue      domain.QueueSpec
	handler    domain.JobHandler
	classifier Classifier
	observer   Observer
	onSuccess  func()
	failures   chan error
	log        *slog.Logger
}

// NewQueueWorker creates a worker for queue q. onSuccess is called after every
// successful job.
func NewQueueWorker(
	q domain.QueueSpec,
	handler domain.JobHandler,
	classifier Classifier,
	observer Observer,
	onSuccess func(),
) *QueueWorker {
	if observer == nil {
		observer = noopObserver{}
	}
	if onSuccess == nil {
		onSuccess = func() {}
	}
	return &QueueWorker{
		queue:      q,
		handler:    handler,
		classifier: classifier,
		observer:   observer,
		onSuccess:  onSuccess,
		failures:   make(chan error, 1),
		log:        slog.Default().With("component", "queue_worker", "queue", q.Name),
	}
}

// Run subscribes to the queue and blocks until ctx is done, a recoverable job
// failure is raised, or the subscription ends. It always returns a non-nil
// error.
func (w *QueueWorker) Run(ctx context.Context, engine Engine) error {
	sub, err := engine.Work(ctx, w.queue.Name, domain.WorkOptions{Parallelism: w.queue.Parallelism}, w.handle)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", w.queue.Name, err)
	}
	w.log.Info("Worker subscribed", "parallelism", w.queue.Parallelism)

	select {
	case <-ctx.Done():
		sub.Unsubscribe()
		<-sub.Done()
		return ctx.Err()
	case err := <-w.failures:
		sub.Unsubscribe()
		<-sub.Done()
		return err
	case <-sub.Done():
		if err := sub.Err(); err != nil {
			return fmt.Errorf("queue %s: %w", w.queue.Name, err)
		}
		return fmt.Errorf("queue %s: %w", w.queue.Name, ErrSubscriptionEnded)
	}
}

func (w *QueueWorker) handle(ctx context.Context, job *domain.JobRecord) error {
	w.log.Debug("Job started", "id", job.ID, "attempt", job.Attempt)
	start := time.Now()

	err := w.handler(ctx, job)
	w.observer.JobFinished(w.queue.Name, job, err, time.Since(start))

	if err == nil {
		w.log.Debug("Job successfully completed", "id", job.ID, "elapsed", time.Since(start))
		w.onSuccess()
		return nil
	}

	w.log.Error("Job got error", "id", job.ID, "payload", string(job.Payload), "error", err)
	if w.classifier.IsRecoverable(err) {
		w.log.Warn("The error is recoverable: re-creating DB connection", "id", job.ID)
		select {
		case w.failures <- err:
		default:
		}
	}
	return err
}
