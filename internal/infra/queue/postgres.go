package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vietddude/projector/internal/core/domain"
)

// Config holds queue engine settings shared by every backend.
type Config struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	RetryLimit   int           `yaml:"retry_limit"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
	ExpireIn     time.Duration `yaml:"expire_in"`
}

// WithDefaults fills unset fields.
func (c Config) WithDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.RetryLimit < 0 {
		c.RetryLimit = 0
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 30 * time.Second
	}
	if c.ExpireIn <= 0 {
		c.ExpireIn = 15 * time.Minute
	}
	return c
}

// Querier is the subset of pgxpool.Pool used by the engine.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresEngine keeps jobs in the jobs table and claims them with
// FOR UPDATE SKIP LOCKED.
type PostgresEngine struct {
	db   Querier
	cfg  Config
	subs *Registry
	log  *slog.Logger
}

// NewPostgresEngine creates an engine on db.
func NewPostgresEngine(db Querier, cfg Config) *PostgresEngine {
	return &PostgresEngine{
		db:   db,
		cfg:  cfg.WithDefaults(),
		subs: &Registry{},
		log:  slog.Default().With("component", "pg_queue"),
	}
}

// Start re-queues jobs left active for longer than ExpireIn.
func (e *PostgresEngine) Start(ctx context.Context) error {
	tag, err := e.db.Exec(ctx, `
		UPDATE jobs
		SET state = 'retry', start_after = NOW(), last_error = 'expired'
		WHERE state = 'active' AND started_at < NOW() - make_interval(secs => $1)
	`, e.cfg.ExpireIn.Seconds())
	if err != nil {
		return fmt.Errorf("failed to expire active jobs: %w", err)
	}
	if n := tag.RowsAffected(); n > 0 {
		e.log.Info("Re-queued expired jobs", "count", n)
	}
	return nil
}

// Stop ends every subscription and waits for their handlers.
func (e *PostgresEngine) Stop(ctx context.Context) error {
	return e.subs.StopAll(ctx)
}

// Work subscribes handler to queue.
func (e *PostgresEngine) Work(
	ctx context.Context,
	queue string,
	opts domain.WorkOptions,
	handler domain.JobHandler,
) (domain.Subscription, error) {
	if opts.Parallelism < 1 {
		return nil, fmt.Errorf("queue %s: parallelism must be at least 1", queue)
	}
	sub := Dispatch(ctx, e, queue, opts, handler, e.cfg.PollInterval)
	e.subs.Add(sub)
	return sub, nil
}

// Send enqueues a job and returns its id.
func (e *PostgresEngine) Send(ctx context.Context, queue string, payload []byte) (string, error) {
	if !json.Valid(payload) {
		return "", errors.New("job payload must be valid JSON")
	}
	id := uuid.NewString()
	_, err := e.db.Exec(ctx, `
		INSERT INTO jobs (id, queue, payload, retry_limit)
		VALUES ($1, $2, $3, $4)
	`, id, queue, json.RawMessage(payload), e.cfg.RetryLimit)
	if err != nil {
		return "", fmt.Errorf("failed to send job: %w", err)
	}
	return id, nil
}

// Claim implements Store.
func (e *PostgresEngine) Claim(ctx context.Context, queue string) (*domain.JobRecord, error) {
	row := e.db.QueryRow(ctx, `
		UPDATE jobs
		SET state = 'active', started_at = NOW(), attempt = attempt + 1
		WHERE id = (
			SELECT id FROM jobs
			WHERE queue = $1 AND state IN ('created', 'retry') AND start_after <= NOW()
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING id, payload, attempt
	`, queue)

	job := &domain.JobRecord{Queue: queue}
	var payload []byte
	if err := row.Scan(&job.ID, &payload, &job.Attempt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	job.Payload = payload
	return job, nil
}

// Complete implements Store.
func (e *PostgresEngine) Complete(ctx context.Context, job *domain.JobRecord) error {
	_, err := e.db.Exec(ctx, `
		UPDATE jobs SET state = 'completed', completed_at = NOW() WHERE id = $1
	`, job.ID)
	return err
}

// Fail implements Store. Jobs past their retry limit move to failed.
func (e *PostgresEngine) Fail(ctx context.Context, job *domain.JobRecord, cause error) error {
	_, err := e.db.Exec(ctx, `
		UPDATE jobs
		SET state = CASE WHEN attempt > retry_limit THEN 'failed' ELSE 'retry' END,
			start_after = NOW() + make_interval(secs => $2),
			completed_at = CASE WHEN attempt > retry_limit THEN NOW() END,
			last_error = $3
		WHERE id = $1
	`, job.ID, e.cfg.RetryDelay.Seconds(), cause.Error())
	return err
}

// Release implements Store.
func (e *PostgresEngine) Release(ctx context.Context, job *domain.JobRecord) error {
	_, err := e.db.Exec(ctx, `
		UPDATE jobs
		SET state = 'retry', attempt = GREATEST(attempt - 1, 0), start_after = NOW()
		WHERE id = $1 AND state = 'active'
	`, job.ID)
	return err
}

// Prune deletes completed and failed jobs of queue finished before before.
func (e *PostgresEngine) Prune(ctx context.Context, queue string, before time.Time) (int64, error) {
	tag, err := e.db.Exec(ctx, `
		DELETE FROM jobs
		WHERE queue = $1 AND state IN ('completed', 'failed') AND completed_at < $2
	`, queue, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}
