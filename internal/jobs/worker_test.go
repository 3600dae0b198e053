package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/projector/internal/core/domain"
)

type recordingObserver struct {
	mu      sync.Mutex
	results map[string]error
}

func (o *recordingObserver) JobFinished(queue string, job *domain.JobRecord, err error, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.results == nil {
		o.results = make(map[string]error)
	}
	o.results[job.ID] = err
}

func startWorker(t *testing.T, w *QueueWorker, e *fakeEngine) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	finished := make(chan struct{})
	go func() {
		errCh <- w.Run(ctx, e)
		close(finished)
	}()
	waitSubscribed(t, e, 1)
	t.Cleanup(func() {
		cancel()
		<-finished
	})
	return cancel, errCh
}

func TestQueueWorker_SuccessNotifies(t *testing.T) {
	obs := &recordingObserver{}
	var successes int
	w := NewQueueWorker(domain.QueueSpec{Name: "q", Parallelism: 2}, payloadHandler, testClassifier, obs,
		func() { successes++ })
	e := newFakeEngine()
	startWorker(t, w, e)

	require.NoError(t, e.deliver("q", "ok"))
	assert.Equal(t, 1, successes)
	assert.Contains(t, obs.results, "job-ok")
	assert.NoError(t, obs.results["job-ok"])
}

func TestQueueWorker_RecoverableFailureEndsRun(t *testing.T) {
	obs := &recordingObserver{}
	w := NewQueueWorker(domain.QueueSpec{Name: "q", Parallelism: 1}, payloadHandler, testClassifier, obs, nil)
	e := newFakeEngine()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx, e) }()
	waitSubscribed(t, e, 1)

	// The failure goes to the engine as well as to the supervisor
	require.ErrorIs(t, e.deliver("q", "recoverable"), errRecoverable)

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errRecoverable)
	case <-time.After(waitTimeout):
		t.Fatal("worker did not stop on recoverable failure")
	}
	assert.ErrorIs(t, obs.results["job-recoverable"], errRecoverable)
}

func TestQueueWorker_BusinessFailureKeepsRunning(t *testing.T) {
	var successes int
	w := NewQueueWorker(domain.QueueSpec{Name: "q", Parallelism: 1}, payloadHandler, testClassifier, nil,
		func() { successes++ })
	e := newFakeEngine()
	_, errCh := startWorker(t, w, e)

	require.ErrorIs(t, e.deliver("q", "business"), errBusiness)

	select {
	case err := <-errCh:
		t.Fatalf("worker stopped on a business error: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	assert.Zero(t, successes)
}

func TestQueueWorker_SubscribeError(t *testing.T) {
	w := NewQueueWorker(domain.QueueSpec{Name: "q", Parallelism: 1}, payloadHandler, testClassifier, nil, nil)
	e := newFakeEngine()
	e.workErr = errors.New("queue q does not exist")

	err := w.Run(context.Background(), e)
	assert.ErrorContains(t, err, "subscribe q")
}

func TestQueueWorker_CancelUnsubscribes(t *testing.T) {
	w := NewQueueWorker(domain.QueueSpec{Name: "q", Parallelism: 1}, payloadHandler, testClassifier, nil, nil)
	e := newFakeEngine()
	cancel, errCh := startWorker(t, w, e)

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitTimeout):
		t.Fatal("worker did not stop on cancel")
	}
	select {
	case <-e.sub("q").Done():
	default:
		t.Error("subscription was not cancelled")
	}
}
