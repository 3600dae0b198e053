package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/indexing/health"
	"github.com/vietddude/projector/internal/indexing/metrics"
	"github.com/vietddude/projector/internal/infra/storage/postgres"
)

const (
	reasonConnecting   = "Connecting to database..."
	reasonReconnecting = "DataBase error: reconnecting..."
	reasonFatal        = "Fatal error! Shutting down"
	reasonStopped      = "Stopped"
)

// Config holds supervisor settings.
type Config struct {
	Queues   []domain.QueueSpec
	Retry    RetryPolicy
	Observer Observer
}

// Supervisor keeps a set of queue workers running on a recoverable connection.
type Supervisor struct {
	cfg        Config
	connector  Connector
	classifier Classifier
	health     *health.Tracker
	log        *slog.Logger
	after      func(time.Duration) <-chan time.Time

	mu       sync.Mutex
	state    State
	session  Session
	backoff  *backoff.ExponentialBackOff
	onChange func(Transition)
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(cfg Config, connector Connector, classifier Classifier) *Supervisor {
	if cfg.Observer == nil {
		cfg.Observer = noopObserver{}
	}
	s := &Supervisor{
		cfg:        cfg,
		connector:  connector,
		classifier: classifier,
		health:     health.NewTracker(false, "Not started"),
		log:        slog.Default().With("component", "supervisor"),
		after:      time.After,
		state:      StateIdle,
		backoff:    cfg.Retry.NewBackOff(),
		done:       make(chan struct{}),
	}
	metrics.SetSupervisorState(stateNames(), string(StateIdle))
	return s
}

// SetStateChangeCallback registers fn to be called on every state change.
func (s *Supervisor) SetStateChangeCallback(fn func(Transition)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

// Start runs the supervisor until ctx is done, Stop is called or a fatal
// error occurs. Every value received from configs starts a new epoch.
func (s *Supervisor) Start(ctx context.Context, configs <-chan postgres.Config) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	go s.run(runCtx, configs)
	return nil
}

// Stop cancels the current epoch and waits for the supervisor to finish.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-s.done
}

// Done is closed when the supervisor has stopped, either on request or
// because of a fatal error.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err returns the fatal error after Done is closed, nil on a requested stop.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Health returns the current liveness state.
func (s *Supervisor) Health() health.State {
	return s.health.Health()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Session returns the session of the current epoch, if connected.
func (s *Supervisor) Session() (Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session, s.session != nil
}

func (s *Supervisor) run(ctx context.Context, configs <-chan postgres.Config) {
	defer close(s.done)

	var cfg postgres.Config
	select {
	case <-ctx.Done():
		s.finish(nil)
		return
	case c, ok := <-configs:
		if !ok {
			s.finish(ErrNoConfig)
			return
		}
		cfg = c
	}

	for {
		s.transition(StateConnecting, reasonConnecting)

		next, err := s.runEpoch(ctx, cfg, &configs)
		switch {
		case ctx.Err() != nil:
			s.finish(nil)
			return
		case next != nil:
			s.log.Info("Connection configuration changed, reconnecting")
			cfg = *next
			continue
		case !s.classifier.IsRecoverable(err):
			s.finish(err)
			return
		}

		delay := s.nextBackOff()
		metrics.Reconnects.Inc()
		metrics.BackoffDelay.Set(delay.Seconds())
		s.transition(StateReconnecting, reasonReconnecting)
		s.log.Warn("Recoverable error, reconnecting", "error", err, "delay", delay)

		select {
		case <-ctx.Done():
			s.finish(nil)
			return
		case <-s.after(delay):
		case c, ok := <-configs:
			if ok {
				cfg = c
			} else {
				configs = nil
			}
		}
	}
}

// runEpoch connects with cfg and runs every queue worker until one fails, a
// new configuration arrives or ctx is done. A non-nil config is returned when
// the epoch ended because of a configuration change.
func (s *Supervisor) runEpoch(
	ctx context.Context,
	cfg postgres.Config,
	configs *<-chan postgres.Config,
) (*postgres.Config, error) {
	epochCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	metrics.Epochs.Inc()

	session, err := s.connector.Connect(epochCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	engine := session.Engine()
	if err := engine.Start(epochCtx); err != nil {
		session.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	s.setSession(session)
	defer s.teardown(engine, session)

	workers := make([]*QueueWorker, 0, len(s.cfg.Queues))
	for _, q := range s.cfg.Queues {
		handler, err := session.Handler(q.Name)
		if err != nil {
			return nil, fmt.Errorf("queue %s: %w", q.Name, err)
		}
		workers = append(workers, NewQueueWorker(q, handler, s.classifier, s.cfg.Observer, s.jobSucceeded))
	}

	g, gctx := errgroup.WithContext(epochCtx)
	for _, w := range workers {
		g.Go(func() error { return w.Run(gctx, engine) })
	}
	s.log.Info("Connection epoch started", "queues", len(workers))

	waitCh := make(chan error, 1)
	go func() { waitCh <- g.Wait() }()

	for {
		select {
		case err := <-waitCh:
			return nil, err
		case <-ctx.Done():
			cancel()
			<-waitCh
			return nil, ctx.Err()
		case c, ok := <-*configs:
			if !ok {
				*configs = nil
				continue
			}
			cancel()
			<-waitCh
			return &c, nil
		}
	}
}

func (s *Supervisor) teardown(engine Engine, session Session) {
	s.setSession(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := engine.Stop(ctx); err != nil {
		s.log.Warn("Failed to stop queue engine", "error", err)
	}
	session.Close()
}

func (s *Supervisor) jobSucceeded() {
	s.mu.Lock()
	if s.cfg.Retry.ResetOnSuccess {
		s.backoff.Reset()
	}
	healthy := s.state == StateHealthy
	s.mu.Unlock()

	if !healthy {
		s.transition(StateHealthy, "")
	}
}

func (s *Supervisor) nextBackOff() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backoff.NextBackOff()
}

func (s *Supervisor) setSession(session Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

func (s *Supervisor) finish(err error) {
	if err != nil {
		s.log.Error("Fatal error, supervisor stopped", "error", err)
		s.transition(StateFatal, reasonFatal)
	} else {
		s.transition(StateStopped, reasonStopped)
	}
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// transition moves to state to and updates health. It returns false when the
// move is not allowed from the current state.
func (s *Supervisor) transition(to State, reason string) bool {
	s.mu.Lock()
	from := s.state
	if !CanTransition(from, to) {
		s.mu.Unlock()
		if from != to {
			s.log.Debug("Ignoring state transition", "from", from, "to", to)
		}
		return false
	}
	s.state = to
	callback := s.onChange
	s.mu.Unlock()

	s.health.Set(to == StateHealthy, reason)
	metrics.SetSupervisorState(stateNames(), string(to))
	s.log.Info("Supervisor state changed", "from", from, "to", to)

	if callback != nil {
		callback(NewTransition(from, to, reason))
	}
	return true
}
