package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChainSyncEvents tracks events received from the chain-sync source
	ChainSyncEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projector_chainsync_events_total",
			Help: "Total number of chain-sync events received",
		},
		[]string{"type"},
	)

	// TipSlot tracks the slot of the newest projected block
	TipSlot = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projector_tip_slot",
			Help: "Slot of the newest projected block",
		},
	)

	// WindowSize tracks the number of blocks held in the stability window
	WindowSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projector_stability_window_blocks",
			Help: "Number of blocks held in the stability window buffer",
		},
	)

	// RollbackBlocks tracks blocks undone by rollbacks
	RollbackBlocks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projector_rollback_blocks_total",
			Help: "Total number of blocks undone by rollbacks",
		},
	)

	// RollbackUnderflows tracks rollbacks deeper than the stability window
	RollbackUnderflows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projector_rollback_underflow_total",
			Help: "Rollbacks whose target was not found in the stability window",
		},
	)

	// ProjectionRetries tracks projector calls retried after a recoverable error
	ProjectionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projector_projection_retries_total",
			Help: "Total number of projector retries after recoverable errors",
		},
		[]string{"projector"},
	)

	// JobsTotal tracks finished jobs per queue and outcome
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projector_jobs_total",
			Help: "Total number of finished jobs",
		},
		[]string{"queue", "status"},
	)

	// JobDuration tracks handler latency
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "projector_job_duration_seconds",
			Help:    "Job handler latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"queue", "status"},
	)

	// SupervisorState is 1 for the current supervisor state and 0 for the others
	SupervisorState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "projector_supervisor_state",
			Help: "Current connection supervisor state",
		},
		[]string{"state"},
	)

	// Epochs tracks connection epochs started
	Epochs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projector_connection_epochs_total",
			Help: "Total number of connection epochs started",
		},
	)

	// Reconnects tracks reconnects caused by recoverable errors
	Reconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "projector_reconnects_total",
			Help: "Total number of reconnects after recoverable errors",
		},
	)

	// BackoffDelay tracks the last backoff delay before a reconnect
	BackoffDelay = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "projector_backoff_delay_seconds",
			Help: "Last backoff delay applied before reconnecting",
		},
	)

	// QueueClaimErrors tracks failures to claim or settle jobs
	QueueClaimErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "projector_queue_store_errors_total",
			Help: "Total number of queue store errors",
		},
		[]string{"queue", "op"},
	)
)
