package control

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vietddude/projector/internal/core/config"
	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/core/worker"
	"github.com/vietddude/projector/internal/infra/queue"
	redisclient "github.com/vietddude/projector/internal/infra/redis"
	"github.com/vietddude/projector/internal/infra/storage/postgres"
	"github.com/vietddude/projector/internal/jobs"
)

// queueEngine is an engine that can also enqueue and prune jobs.
type queueEngine interface {
	jobs.Engine
	postgres.JobSender
	worker.JobStore
}

// session is one live database connection with the queue engine bound to it.
type session struct {
	db       *postgres.DB
	engine   queueEngine
	handlers map[string]domain.JobHandler
}

func (s *session) Engine() jobs.Engine { return s.engine }

func (s *session) Handler(name string) (domain.JobHandler, error) {
	h, ok := s.handlers[name]
	if !ok {
		return nil, fmt.Errorf("%w %s", jobs.ErrNoHandler, name)
	}
	return h, nil
}

func (s *session) Close() {
	s.db.Close()
}

// target exposes the session to the block projector.
func (s *session) target() postgres.Target {
	return postgres.Target{Blocks: postgres.NewBlockRepo(s.db), Jobs: s.engine}
}

// currentSession returns the session of the supervisor's live epoch.
func currentSession(sup *jobs.Supervisor) (*session, bool) {
	current, ok := sup.Session()
	if !ok {
		return nil, false
	}
	s, ok := current.(*session)
	return s, ok
}

// connector opens a database pool per epoch and binds the configured queue
// engine to it.
type connector struct {
	backend string
	queue   queue.Config
	redis   *redisclient.Client // set for the redis backend
	migrate bool
	log     *slog.Logger
}

func newConnector(cfg *config.AppConfig, redis *redisclient.Client) *connector {
	return &connector{
		backend: cfg.Queue.Backend,
		queue:   cfg.Queue.Config,
		redis:   redis,
		migrate: !cfg.Database.SkipMigrations,
		log:     slog.Default().With("component", "connector"),
	}
}

func (c *connector) Connect(ctx context.Context, cfg postgres.Config) (jobs.Session, error) {
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if c.migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	var engine queueEngine
	switch c.backend {
	case config.BackendRedis:
		engine = redisclient.NewEngine(c.redis, c.queue)
	default:
		engine = queue.NewPostgresEngine(db.Pool, c.queue)
	}
	c.log.Info("Database connected", "backend", c.backend)

	return &session{
		db:     db,
		engine: engine,
		handlers: map[string]domain.JobHandler{
			postgres.BlockSummaryQueue: postgres.NewSummaryHandler(db).Handle,
		},
	}, nil
}
