package metrics

import (
	"time"

	"github.com/vietddude/projector/internal/core/domain"
)

// JobObserver records job completions into the job metrics.
type JobObserver struct{}

// JobFinished implements jobs.Observer.
func (JobObserver) JobFinished(queue string, _ *domain.JobRecord, err error, elapsed time.Duration) {
	status := "completed"
	if err != nil {
		status = "failed"
	}
	JobsTotal.WithLabelValues(queue, status).Inc()
	JobDuration.WithLabelValues(queue, status).Observe(elapsed.Seconds())
}

// SetSupervisorState flags current among the known supervisor states.
func SetSupervisorState(states []string, current string) {
	for _, s := range states {
		v := 0.0
		if s == current {
			v = 1
		}
		SupervisorState.WithLabelValues(s).Set(v)
	}
}
