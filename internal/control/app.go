package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/vietddude/projector/internal/core/config"
	"github.com/vietddude/projector/internal/core/worker"
	"github.com/vietddude/projector/internal/indexing/buffer"
	"github.com/vietddude/projector/internal/indexing/health"
	"github.com/vietddude/projector/internal/indexing/metrics"
	"github.com/vietddude/projector/internal/indexing/projection"
	"github.com/vietddude/projector/internal/indexing/rollback"
	"github.com/vietddude/projector/internal/infra/chainsync"
	redisclient "github.com/vietddude/projector/internal/infra/redis"
	"github.com/vietddude/projector/internal/infra/storage/postgres"
	"github.com/vietddude/projector/internal/jobs"
)

// App wires the chain-sync pipeline, the job supervisor and the health server.
type App struct {
	cfg          *config.AppConfig
	window       *buffer.Window
	supervisor   *jobs.Supervisor
	pipeline     *projection.Pipeline
	pruner       *worker.Pruner
	healthServer *health.Server
	redisClient  *redisclient.Client
	log          *slog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	doneOnce sync.Once
	mu       sync.Mutex
	err      error
}

// New creates an App with all dependencies initialized.
func New(cfg *config.AppConfig) (*App, error) {
	var redisClient *redisclient.Client
	if cfg.Queue.Backend == config.BackendRedis {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis: %w", err)
		}
		slog.Info("Using Redis queue backend")
	} else {
		slog.Info("Using PostgreSQL queue backend")
	}

	source := chainsync.NewSynthetic(chainsync.SyntheticConfig{
		Interval:      cfg.ChainSync.Interval,
		RollbackEvery: cfg.ChainSync.RollbackEvery,
		RollbackDepth: cfg.ChainSync.RollbackDepth,
		PayloadSize:   cfg.ChainSync.PayloadSize,
		Seed:          cfg.ChainSync.Seed,
	})

	app := newApp(cfg, newConnector(cfg, redisClient), source)
	app.redisClient = redisClient
	return app, nil
}

func newApp(cfg *config.AppConfig, conn jobs.Connector, source chainsync.Source) *App {
	classifier := postgres.Classifier{}
	window := buffer.New(cfg.Rollback.StabilityWindow)

	sup := jobs.NewSupervisor(jobs.Config{
		Queues:   cfg.Queue.Queues,
		Retry:    cfg.Retry.Policy(),
		Observer: metrics.JobObserver{},
	}, conn, classifier)

	blocks := postgres.NewBlockProjector(func() (postgres.Target, bool) {
		s, ok := currentSession(sup)
		if !ok {
			return postgres.Target{}, false
		}
		return s.target(), true
	})

	queueNames := make([]string, 0, len(cfg.Queue.Queues))
	for _, q := range cfg.Queue.Queues {
		queueNames = append(queueNames, q.Name)
	}
	pruner := worker.NewPruner(queueNames, cfg.Queue.Retention, func() (worker.JobStore, bool) {
		s, ok := currentSession(sup)
		if !ok {
			return nil, false
		}
		return s.engine, true
	})

	pipeline := projection.NewPipeline(projection.Config{
		Source:     source,
		Decomposer: rollback.NewDecomposer(window),
		Projectors: []projection.Projector{blocks, projection.NewBufferProjector(window)},
		Retry:      cfg.Retry.Policy(),
		Classifier: classifier,
	})

	healthServer := health.NewServer(cfg.Server.Port, map[string]health.Checker{
		"queue":      sup,
		"projection": pipeline,
	})

	return &App{
		cfg:          cfg,
		window:       window,
		supervisor:   sup,
		pipeline:     pipeline,
		pruner:       pruner,
		healthServer: healthServer,
		log:          slog.Default().With("component", "app"),
		done:         make(chan struct{}),
	}
}

// Start starts every component. It does not block.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	configs, err := config.WatchDatabase(runCtx, a.cfg.Database)
	if err != nil {
		cancel()
		return err
	}

	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	if err := a.supervisor.Start(runCtx, configs); err != nil {
		cancel()
		return err
	}
	go func() {
		<-a.supervisor.Done()
		if err := a.supervisor.Err(); err != nil {
			a.fail(fmt.Errorf("supervisor: %w", err))
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.pipeline.Run(runCtx); err != nil {
			a.log.Error("Projection pipeline failed", "error", err)
			a.fail(err)
		}
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.pruner.Start(runCtx)
	}()

	a.log.Info("Projector started",
		"window", a.window.Size(),
		"queues", len(a.cfg.Queue.Queues),
		"port", a.cfg.Server.Port,
	)
	return nil
}

// Done is closed when a component failed for good. The process is expected
// to stop.
func (a *App) Done() <-chan struct{} {
	return a.done
}

// Err returns the failure that closed Done.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.err
}

func (a *App) fail(err error) {
	a.doneOnce.Do(func() {
		a.mu.Lock()
		a.err = err
		a.mu.Unlock()
		close(a.done)
	})
}

// Stop stops the pipeline, the supervisor and the health server.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping projector...")
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()
	a.supervisor.Stop()

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	return a.healthServer.Stop(ctx)
}
