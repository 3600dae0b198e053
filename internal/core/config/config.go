package config

import (
	"time"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/infra/queue"
	redisclient "github.com/vietddude/projector/internal/infra/redis"
	"github.com/vietddude/projector/internal/infra/storage/postgres"
	"github.com/vietddude/projector/internal/jobs"
)

// Queue backends
const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  DatabaseConfig     `yaml:"database"`
	Queue     QueueConfig        `yaml:"queue"`
	Redis     redisclient.Config `yaml:"redis"`
	Retry     RetryConfig        `yaml:"retry"`
	Rollback  RollbackConfig     `yaml:"rollback"`
	ChainSync ChainSyncConfig    `yaml:"chainsync"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DatabaseConfig holds the connection settings. When CredentialsFile is set
// its contents replace URL and are watched for rotation.
type DatabaseConfig struct {
	postgres.Config `yaml:",inline"`
	CredentialsFile string `yaml:"credentials_file"`
	SkipMigrations  bool   `yaml:"skip_migrations"`
}

// QueueConfig holds the durable queue settings.
type QueueConfig struct {
	Backend      string `yaml:"backend"` // postgres, redis
	queue.Config `yaml:",inline"`
	ParallelJobs int                `yaml:"parallel_jobs"` // default parallelism per queue
	Queues       []domain.QueueSpec `yaml:"queues"`
	Retention    time.Duration      `yaml:"retention"` // finished jobs are pruned after this
}

// RetryConfig holds the reconnect backoff settings.
type RetryConfig struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Factor          float64       `yaml:"factor"`
	ResetOnSuccess  *bool         `yaml:"reset_on_success"`
}

// Policy converts the settings into a retry policy.
func (c RetryConfig) Policy() jobs.RetryPolicy {
	p := jobs.RetryPolicy{
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Factor:          c.Factor,
		ResetOnSuccess:  true,
	}
	if c.ResetOnSuccess != nil {
		p.ResetOnSuccess = *c.ResetOnSuccess
	}
	return p
}

// RollbackConfig holds the stability window settings.
type RollbackConfig struct {
	StabilityWindow int `yaml:"stability_window"` // blocks
}

// ChainSyncConfig holds settings for the chain-sync source.
type ChainSyncConfig struct {
	Source        string        `yaml:"source"` // synthetic
	Interval      time.Duration `yaml:"interval"`
	RollbackEvery int           `yaml:"rollback_every"` // 0 = never
	RollbackDepth int           `yaml:"rollback_depth"`
	PayloadSize   int           `yaml:"payload_size"`
	Seed          string        `yaml:"seed"`
}
