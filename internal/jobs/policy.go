package jobs

import (
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy configures the reconnect backoff.
//
// The n-th consecutive reconnect (n from 0) waits
// min(InitialInterval * Factor^n, MaxInterval).
type RetryPolicy struct {
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Factor          float64       `yaml:"factor"`
	ResetOnSuccess  bool          `yaml:"reset_on_success"`
}

// DefaultRetryPolicy returns the reconnect policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: 10 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Factor:          2,
		ResetOnSuccess:  true,
	}
}

// Validate checks the policy bounds.
func (p RetryPolicy) Validate() error {
	if p.InitialInterval <= 0 {
		return errors.New("retry: initial_interval must be positive")
	}
	if p.MaxInterval < p.InitialInterval {
		return errors.New("retry: max_interval must not be below initial_interval")
	}
	if p.Factor < 1 {
		return errors.New("retry: factor must be at least 1")
	}
	return nil
}

// NewBackOff returns a deterministic exponential backoff for the policy.
func (p RetryPolicy) NewBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          p.Factor,
		MaxInterval:         p.MaxInterval,
	}
	b.Reset()
	return b
}
