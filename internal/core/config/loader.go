package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/indexing/buffer"
	"github.com/vietddude/projector/internal/infra/storage/postgres"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}

	if cfg.Queue.Backend == "" {
		cfg.Queue.Backend = BackendPostgres
	}
	cfg.Queue.Config = cfg.Queue.Config.WithDefaults()
	if cfg.Queue.ParallelJobs <= 0 {
		cfg.Queue.ParallelJobs = 4
	}
	if len(cfg.Queue.Queues) == 0 {
		cfg.Queue.Queues = []domain.QueueSpec{{Name: postgres.BlockSummaryQueue}}
	}
	if cfg.Queue.Retention <= 0 {
		cfg.Queue.Retention = 7 * 24 * time.Hour
	}
	for i := range cfg.Queue.Queues {
		if cfg.Queue.Queues[i].Parallelism <= 0 {
			cfg.Queue.Queues[i].Parallelism = cfg.Queue.ParallelJobs
		}
	}

	if cfg.Retry.InitialInterval == 0 {
		cfg.Retry.InitialInterval = 10 * time.Millisecond
	}
	if cfg.Retry.MaxInterval == 0 {
		cfg.Retry.MaxInterval = 5 * time.Second
	}
	if cfg.Retry.Factor == 0 {
		cfg.Retry.Factor = 2
	}

	if cfg.Rollback.StabilityWindow == 0 {
		cfg.Rollback.StabilityWindow = buffer.DefaultSize
	}

	if cfg.ChainSync.Source == "" {
		cfg.ChainSync.Source = "synthetic"
	}
	if cfg.ChainSync.Interval == 0 {
		cfg.ChainSync.Interval = time.Second
	}
	if cfg.ChainSync.RollbackDepth == 0 {
		cfg.ChainSync.RollbackDepth = 3
	}
	if cfg.ChainSync.PayloadSize == 0 {
		cfg.ChainSync.PayloadSize = 256
	}
}

// Validate checks settings that have no sensible default.
func (cfg *AppConfig) Validate() error {
	if cfg.Database.URL == "" && cfg.Database.CredentialsFile == "" {
		return errors.New("database: url or credentials_file is required")
	}

	switch cfg.Queue.Backend {
	case BackendPostgres:
	case BackendRedis:
		if cfg.Redis.URL == "" {
			return errors.New("redis: url is required for the redis queue backend")
		}
	default:
		return fmt.Errorf("queue: unknown backend %q", cfg.Queue.Backend)
	}

	seen := make(map[string]bool, len(cfg.Queue.Queues))
	for _, q := range cfg.Queue.Queues {
		if q.Name == "" {
			return errors.New("queue: every queue needs a name")
		}
		if seen[q.Name] {
			return fmt.Errorf("queue: duplicate queue %q", q.Name)
		}
		seen[q.Name] = true
	}

	if err := cfg.Retry.Policy().Validate(); err != nil {
		return err
	}

	if cfg.Rollback.StabilityWindow < 0 {
		return errors.New("rollback: stability_window must not be negative")
	}
	if cfg.ChainSync.Source != "synthetic" {
		return fmt.Errorf("chainsync: unknown source %q", cfg.ChainSync.Source)
	}
	if cfg.ChainSync.RollbackEvery > 0 && cfg.ChainSync.RollbackDepth >= cfg.ChainSync.RollbackEvery {
		return errors.New("chainsync: rollback_depth must be below rollback_every")
	}
	return nil
}
