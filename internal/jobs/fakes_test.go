package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/infra/storage/postgres"
)

var (
	errRecoverable = errors.New("connection reset")
	errBusiness    = errors.New("invalid payload")
	errFatal       = errors.New("relation does not exist")
)

var testClassifier = ClassifierFunc(func(err error) bool {
	return errors.Is(err, errRecoverable)
})

const waitTimeout = 2 * time.Second

// =============================================================================
// Subscription
// =============================================================================

type fakeSub struct {
	once sync.Once
	done chan struct{}
	mu   sync.Mutex
	err  error
}

func newFakeSub() *fakeSub {
	return &fakeSub{done: make(chan struct{})}
}

func (s *fakeSub) Unsubscribe() { s.once.Do(func() { close(s.done) }) }

func (s *fakeSub) Done() <-chan struct{} { return s.done }

func (s *fakeSub) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *fakeSub) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	s.Unsubscribe()
}

// =============================================================================
// Engine
// =============================================================================

type fakeEngine struct {
	mu       sync.Mutex
	handlers map[string]domain.JobHandler
	subs     map[string]*fakeSub
	opts     map[string]domain.WorkOptions
	workErr  error
	stopped  bool
	ready    chan string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		handlers: make(map[string]domain.JobHandler),
		subs:     make(map[string]*fakeSub),
		opts:     make(map[string]domain.WorkOptions),
		ready:    make(chan string, 16),
	}
}

func (e *fakeEngine) Start(ctx context.Context) error { return nil }

func (e *fakeEngine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopped = true
	return nil
}

func (e *fakeEngine) Work(
	ctx context.Context,
	queue string,
	opts domain.WorkOptions,
	handler domain.JobHandler,
) (domain.Subscription, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.workErr != nil {
		return nil, e.workErr
	}
	sub := newFakeSub()
	e.handlers[queue] = handler
	e.subs[queue] = sub
	e.opts[queue] = opts
	e.ready <- queue
	return sub, nil
}

func (e *fakeEngine) deliver(queue, payload string) error {
	e.mu.Lock()
	h := e.handlers[queue]
	e.mu.Unlock()
	return h(context.Background(), &domain.JobRecord{ID: "job-" + payload, Queue: queue, Payload: []byte(`"` + payload + `"`)})
}

func (e *fakeEngine) sub(queue string) *fakeSub {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.subs[queue]
}

func (e *fakeEngine) isStopped() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopped
}

// waitSubscribed blocks until n queues subscribed on e.
func waitSubscribed(t *testing.T, e *fakeEngine, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-e.ready:
		case <-time.After(waitTimeout):
			t.Fatalf("timed out waiting for subscription %d", i+1)
		}
	}
}

// =============================================================================
// Session and connector
// =============================================================================

// payloadHandler fails according to the job payload.
func payloadHandler(ctx context.Context, job *domain.JobRecord) error {
	switch string(job.Payload) {
	case `"recoverable"`:
		return errRecoverable
	case `"business"`:
		return errBusiness
	default:
		return nil
	}
}

type fakeSession struct {
	engine *fakeEngine
	mu     sync.Mutex
	closed bool
}

func (s *fakeSession) Engine() Engine { return s.engine }

func (s *fakeSession) Handler(queue string) (domain.JobHandler, error) {
	if queue == "unknown" {
		return nil, errFatal
	}
	return payloadHandler, nil
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *fakeSession) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeConnector struct {
	mu       sync.Mutex
	failures []error
	calls    int
	configs  []postgres.Config
	sessions []*fakeSession
	// prevClosed records, per call, whether every earlier session was closed
	prevClosed []bool
	opened     chan *fakeSession
}

func newFakeConnector(failures ...error) *fakeConnector {
	return &fakeConnector{failures: failures, opened: make(chan *fakeSession, 16)}
}

func (c *fakeConnector) Connect(ctx context.Context, cfg postgres.Config) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := c.calls
	c.calls++
	c.configs = append(c.configs, cfg)

	allClosed := true
	for _, s := range c.sessions {
		allClosed = allClosed && s.isClosed()
	}
	c.prevClosed = append(c.prevClosed, allClosed)

	if idx < len(c.failures) && c.failures[idx] != nil {
		return nil, c.failures[idx]
	}
	s := &fakeSession{engine: newFakeEngine()}
	c.sessions = append(c.sessions, s)
	c.opened <- s
	return s, nil
}

func (c *fakeConnector) callCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func (c *fakeConnector) waitSession(t *testing.T) *fakeSession {
	t.Helper()
	select {
	case s := <-c.opened:
		return s
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for a session")
		return nil
	}
}

// =============================================================================
// Backoff recorder
// =============================================================================

type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) after(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func (r *delayRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func staticConfigs(cfgs ...postgres.Config) chan postgres.Config {
	ch := make(chan postgres.Config, len(cfgs)+4)
	for _, c := range cfgs {
		ch <- c
	}
	return ch
}
