package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/infra/queue"
)

// jobTTL bounds how long a job body outlives its queue entry.
const jobTTL = 7 * 24 * time.Hour

// storedJob is the JSON body kept under jobKey.
type storedJob struct {
	ID         string          `json:"id"`
	Queue      string          `json:"queue"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	RetryLimit int             `json:"retry_limit"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// exhausted reports whether a failed attempt moves the job to the failed set.
func (j *storedJob) exhausted() bool {
	return j.Attempt > j.RetryLimit
}

// Engine keeps each queue in sorted sets scored by availability time:
// pending (score = run at), active (score = claimed at) and failed.
type Engine struct {
	rdb  *redis.Client
	cfg  queue.Config
	subs *queue.Registry
	now  func() time.Time
	log  *slog.Logger
}

// NewEngine creates a queue engine on client.
func NewEngine(client *Client, cfg queue.Config) *Engine {
	return &Engine{
		rdb:  client.rdb,
		cfg:  cfg.WithDefaults(),
		subs: &queue.Registry{},
		now:  time.Now,
		log:  slog.Default().With("component", "redis_queue"),
	}
}

// Start checks the connection. Orphaned active jobs are re-queued when a
// queue is subscribed.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return nil
}

// Stop ends every subscription and waits for their handlers.
func (e *Engine) Stop(ctx context.Context) error {
	return e.subs.StopAll(ctx)
}

// Work subscribes handler to name.
func (e *Engine) Work(
	ctx context.Context,
	name string,
	opts domain.WorkOptions,
	handler domain.JobHandler,
) (domain.Subscription, error) {
	if opts.Parallelism < 1 {
		return nil, fmt.Errorf("queue %s: parallelism must be at least 1", name)
	}
	if err := e.requeueExpired(ctx, name); err != nil {
		return nil, err
	}
	sub := queue.Dispatch(ctx, e, name, opts, handler, e.cfg.PollInterval)
	e.subs.Add(sub)
	return sub, nil
}

// requeueExpired moves jobs active for longer than ExpireIn back to pending.
func (e *Engine) requeueExpired(ctx context.Context, name string) error {
	cutoff := e.now().Add(-e.cfg.ExpireIn)
	ids, err := e.rdb.ZRangeByScore(ctx, activeKey(name), &redis.ZRangeBy{
		Min: "-inf",
		Max: scoreString(cutoff),
	}).Result()
	if err != nil {
		return fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	now := score(e.now())
	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.ZRem(ctx, activeKey(name), id)
			pipe.ZAdd(ctx, pendingKey(name), redis.Z{Score: now, Member: id})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to re-queue expired jobs: %w", err)
	}
	e.log.Info("Re-queued expired jobs", "queue", name, "count", len(ids))
	return nil
}

// Send enqueues a job and returns its id.
func (e *Engine) Send(ctx context.Context, name string, payload []byte) (string, error) {
	if !json.Valid(payload) {
		return "", errors.New("job payload must be valid JSON")
	}
	job := storedJob{
		ID:         uuid.NewString(),
		Queue:      name,
		Payload:    payload,
		RetryLimit: e.cfg.RetryLimit,
		CreatedAt:  e.now().UTC(),
	}
	data, err := json.Marshal(job)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(name, job.ID), data, jobTTL)
		pipe.ZAdd(ctx, pendingKey(name), redis.Z{Score: score(e.now()), Member: job.ID})
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to send job: %w", err)
	}
	return job.ID, nil
}

// claimScript atomically moves the earliest due pending id to the active set.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', '0', '1')
if #ids == 0 then
	return false
end
redis.call('ZREM', KEYS[1], ids[1])
redis.call('ZADD', KEYS[2], ARGV[1], ids[1])
return ids[1]
`)

// Claim implements queue.Store.
func (e *Engine) Claim(ctx context.Context, name string) (*domain.JobRecord, error) {
	for {
		id, err := claimScript.Run(ctx, e.rdb,
			[]string{pendingKey(name), activeKey(name)}, scoreString(e.now())).Text()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("claim failed: %w", err)
		}

		job, err := e.load(ctx, name, id)
		if err != nil {
			return nil, err
		}
		if job == nil {
			// Body expired but id still queued
			if err := e.rdb.ZRem(ctx, activeKey(name), id).Err(); err != nil {
				e.log.Warn("Failed to drop job without body", "queue", name, "id", id, "error", err)
			}
			continue
		}

		job.Attempt++
		if err := e.save(ctx, job); err != nil {
			return nil, err
		}
		return &domain.JobRecord{ID: job.ID, Queue: name, Payload: job.Payload, Attempt: job.Attempt}, nil
	}
}

// Complete implements queue.Store.
func (e *Engine) Complete(ctx context.Context, rec *domain.JobRecord) error {
	_, err := e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, activeKey(rec.Queue), rec.ID)
		pipe.Del(ctx, jobKey(rec.Queue, rec.ID))
		return nil
	})
	return err
}

// Fail implements queue.Store. Jobs past their retry limit move to the
// failed set, the others are re-queued after RetryDelay.
func (e *Engine) Fail(ctx context.Context, rec *domain.JobRecord, cause error) error {
	job, err := e.load(ctx, rec.Queue, rec.ID)
	if err != nil {
		return err
	}
	if job == nil {
		return e.rdb.ZRem(ctx, activeKey(rec.Queue), rec.ID).Err()
	}
	job.LastError = cause.Error()
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	now := e.now()
	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, activeKey(rec.Queue), rec.ID)
		pipe.Set(ctx, jobKey(rec.Queue, rec.ID), data, jobTTL)
		if job.exhausted() {
			pipe.ZAdd(ctx, failedKey(rec.Queue), redis.Z{Score: score(now), Member: rec.ID})
		} else {
			pipe.ZAdd(ctx, pendingKey(rec.Queue), redis.Z{Score: score(now.Add(e.cfg.RetryDelay)), Member: rec.ID})
		}
		return nil
	})
	return err
}

// Release implements queue.Store.
func (e *Engine) Release(ctx context.Context, rec *domain.JobRecord) error {
	job, err := e.load(ctx, rec.Queue, rec.ID)
	if err != nil {
		return err
	}
	if job != nil && job.Attempt > 0 {
		job.Attempt--
		if err := e.save(ctx, job); err != nil {
			return err
		}
	}
	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, activeKey(rec.Queue), rec.ID)
		pipe.ZAdd(ctx, pendingKey(rec.Queue), redis.Z{Score: score(e.now()), Member: rec.ID})
		return nil
	})
	return err
}

// QueueStats returns the number of pending, active and failed jobs of name.
func (e *Engine) QueueStats(ctx context.Context, name string) (map[string]int64, error) {
	stats := make(map[string]int64, 3)
	for state, key := range map[string]string{
		"pending": pendingKey(name),
		"active":  activeKey(name),
		"failed":  failedKey(name),
	} {
		n, err := e.rdb.ZCard(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("zcard failed: %w", err)
		}
		stats[state] = n
	}
	return stats, nil
}

// Prune deletes failed jobs of name that failed before before. Completed
// jobs are deleted on completion.
func (e *Engine) Prune(ctx context.Context, name string, before time.Time) (int64, error) {
	ids, err := e.rdb.ZRangeByScore(ctx, failedKey(name), &redis.ZRangeBy{
		Min: "-inf",
		Max: scoreString(before),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	_, err = e.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range ids {
			pipe.ZRem(ctx, failedKey(name), id)
			pipe.Del(ctx, jobKey(name, id))
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to prune jobs: %w", err)
	}
	return int64(len(ids)), nil
}

func (e *Engine) load(ctx context.Context, name, id string) (*storedJob, error) {
	data, err := e.rdb.Get(ctx, jobKey(name, id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get failed: %w", err)
	}
	var job storedJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job %s: %w", id, err)
	}
	return &job, nil
}

func (e *Engine) save(ctx context.Context, job *storedJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := e.rdb.Set(ctx, jobKey(job.Queue, job.ID), data, jobTTL).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}
