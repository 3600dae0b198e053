// Package jobs runs durable job queues on a supervised storage connection.
//
// # Connection Epochs
//
// The Supervisor owns one live Session at a time. Each configuration value
// starts a new epoch: the previous epoch's workers are cancelled and awaited,
// its engine stopped and its session closed before the next connection opens.
//
// # Failure Handling
//
//   - Recoverable errors (per Classifier) end the epoch and reconnect after an
//     exponential backoff delay
//   - Any job success marks the supervisor Healthy and, with ResetOnSuccess,
//     resets the backoff
//   - Non-recoverable errors from connecting or from the queue machinery move
//     the supervisor to Fatal and are reported through Done and Err
//   - Non-recoverable job errors are job failures only; the epoch keeps running
//
// The supervisor never exits the process. Acting on Fatal is up to the caller.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/infra/storage/postgres"
)

var (
	// ErrAlreadyStarted is returned by Start on a running supervisor.
	ErrAlreadyStarted = errors.New("supervisor already started")
	// ErrNoConfig is reported when the configuration stream closes before
	// delivering a value.
	ErrNoConfig = errors.New("configuration stream closed before first value")
	// ErrSubscriptionEnded is returned when a queue subscription stops on its own.
	ErrSubscriptionEnded = errors.New("queue subscription ended")
	// ErrNoHandler is returned by Session.Handler for a queue without a handler.
	ErrNoHandler = errors.New("no handler registered for queue")
)

// Classifier decides whether an error is a transient infrastructure failure
// that warrants reconnecting.
type Classifier interface {
	IsRecoverable(err error) bool
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(err error) bool

// IsRecoverable implements Classifier.
func (f ClassifierFunc) IsRecoverable(err error) bool { return f(err) }

// Engine is a durable queue engine bound to one connection.
type Engine interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Work(ctx context.Context, queue string, opts domain.WorkOptions, handler domain.JobHandler) (domain.Subscription, error)
}

// Session is one live connection together with the engine bound to it and
// the handlers of its queues.
type Session interface {
	Engine() Engine
	// Handler returns the job handler of a queue.
	Handler(queue string) (domain.JobHandler, error)
	Close()
}

// Connector opens sessions.
type Connector interface {
	Connect(ctx context.Context, cfg postgres.Config) (Session, error)
}

// Observer is notified of every finished job.
type Observer interface {
	JobFinished(queue string, job *domain.JobRecord, err error, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) JobFinished(string, *domain.JobRecord, error, time.Duration) {}
