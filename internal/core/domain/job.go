package domain

import (
	"context"
	"encoding/json"
)

// JobRecord is one durable job delivered by a queue engine.
type JobRecord struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`
	Attempt int             `json:"attempt"`
}

// QueueSpec names a durable queue and how many of its jobs may run at once.
type QueueSpec struct {
	Name        string `yaml:"name"`
	Parallelism int    `yaml:"parallelism"`
}

// WorkOptions configures a queue subscription.
type WorkOptions struct {
	Parallelism int
}

// JobHandler processes one job. A returned error marks the job failed.
type JobHandler func(ctx context.Context, job *JobRecord) error

// Subscription is a running consumer of one queue.
type Subscription interface {
	// Unsubscribe stops fetching new jobs. In-flight handlers see a cancelled context.
	Unsubscribe()
	// Done is closed once the subscription has stopped and its handlers returned.
	Done() <-chan struct{}
	// Err returns the error that ended the subscription, nil after Unsubscribe.
	Err() error
}
