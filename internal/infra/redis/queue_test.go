package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/infra/queue"
)

func newOfflineEngine(t *testing.T) *Engine {
	t.Helper()
	// Commands are never sent in these tests, so the address is never dialed
	client := NewClientFrom(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}))
	t.Cleanup(func() { _ = client.Close() })
	return NewEngine(client, queue.Config{RetryLimit: 2})
}

func TestKeys(t *testing.T) {
	tests := []struct {
		got, want string
	}{
		{pendingKey("block-summary"), "jobs:block-summary:pending"},
		{activeKey("block-summary"), "jobs:block-summary:active"},
		{failedKey("block-summary"), "jobs:block-summary:failed"},
		{jobKey("block-summary", "abc"), "jobs:block-summary:job:abc"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("Expected key %s, got %s", tt.want, tt.got)
		}
	}
}

func TestScore(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	if score(ts) != 1700000000123 {
		t.Errorf("Expected score 1700000000123, got %f", score(ts))
	}
	if scoreString(ts) != "1700000000123" {
		t.Errorf("Expected score string 1700000000123, got %s", scoreString(ts))
	}
}

func TestStoredJob_Exhausted(t *testing.T) {
	tests := []struct {
		attempt, limit int
		want           bool
	}{
		{1, 0, true},
		{1, 2, false},
		{2, 2, false},
		{3, 2, true},
	}
	for _, tt := range tests {
		j := storedJob{Attempt: tt.attempt, RetryLimit: tt.limit}
		if got := j.exhausted(); got != tt.want {
			t.Errorf("attempt %d limit %d: expected %v, got %v", tt.attempt, tt.limit, tt.want, got)
		}
	}
}

func TestEngine_SendRejectsInvalidJSON(t *testing.T) {
	e := newOfflineEngine(t)
	if _, err := e.Send(context.Background(), "q", []byte("not json")); err == nil {
		t.Error("Expected error for invalid payload")
	}
}

func TestEngine_WorkRejectsZeroParallelism(t *testing.T) {
	e := newOfflineEngine(t)
	_, err := e.Work(context.Background(), "q", domain.WorkOptions{}, func(context.Context, *domain.JobRecord) error {
		return nil
	})
	if err == nil {
		t.Error("Expected error for zero parallelism")
	}
}

func TestNewEngine_AppliesDefaults(t *testing.T) {
	e := newOfflineEngine(t)
	if e.cfg.PollInterval != 2*time.Second {
		t.Errorf("Expected default poll interval, got %s", e.cfg.PollInterval)
	}
	if e.cfg.RetryLimit != 2 {
		t.Errorf("Expected retry limit 2, got %d", e.cfg.RetryLimit)
	}
}
