// Package projection applies chain-sync events to projectors.
//
// Every event from the source is decomposed by the rollback decomposer, then
// handed to each projector in order. A rollback therefore reaches projectors
// as one undo event per block, newest first.
//
// Projector errors the classifier marks recoverable, and ErrNoConnection, are
// retried with the reconnect backoff until the projector succeeds or the
// pipeline is stopped. Any other error stops the pipeline.
package projection

import (
	"context"

	"github.com/vietddude/projector/internal/core/domain"
)

// Projector handles decomposed chain-sync events.
type Projector interface {
	Name() string
	Project(ctx context.Context, evt domain.ChainSyncEvent) error
}
