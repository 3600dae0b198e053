// Package rollback turns chain-sync rollbacks into per-block undo events.
//
// # Design: Snapshot Decomposition
//
// A RollBackward event only names the point the chain went back to. Projectors
// need to undo one block at a time, newest first, so the decomposer walks the
// stability window:
//   - Scan the window newest to oldest
//   - Emit an undo event for every block whose hash differs from the target
//   - Stop at the block whose hash equals the target (it stays applied)
//   - A target of Origin undoes every buffered block
//
// The walk runs over a snapshot taken when the event is decomposed, so the
// buffer may be mutated downstream while the sequence is consumed.
//
// # Flow Control
//
// The original event's RequestNext is called exactly once, after the sequence
// has been consumed or abandoned. Synthetic undo events carry a no-op
// RequestNext.
//
// # Underflow
//
// If the target is not found and is not Origin, the rollback is deeper than the
// window. Every buffered block is still undone, a warning is logged and
// projector_rollback_underflow_total is incremented.
//
// # Usage
//
//	window := buffer.New(buffer.DefaultSize)
//	decomposer := rollback.NewDecomposer(window)
//
//	err := decomposer.Drain(ctx, evt, func(ctx context.Context, e domain.ChainSyncEvent) error {
//	    return projector.Project(ctx, e)
//	})
package rollback

import (
	"log/slog"

	"github.com/vietddude/projector/internal/core/domain"
)

// Window is the read side of the stability window buffer.
type Window interface {
	// Snapshot returns the buffered blocks, newest first.
	Snapshot() []domain.Block
}

// NewDecomposer creates a decomposer reading from window.
func NewDecomposer(window Window) *Decomposer {
	return &Decomposer{
		window: window,
		log:    slog.Default().With("component", "rollback"),
	}
}
