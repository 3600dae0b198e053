package projection

import (
	"context"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/indexing/buffer"
)

// BufferProjector keeps the stability window in step with applied blocks.
// It must run after every other projector of an event.
type BufferProjector struct {
	window *buffer.Window
}

// NewBufferProjector creates a projector maintaining window.
func NewBufferProjector(window *buffer.Window) *BufferProjector {
	return &BufferProjector{window: window}
}

func (p *BufferProjector) Name() string { return "buffer" }

func (p *BufferProjector) Project(_ context.Context, evt domain.ChainSyncEvent) error {
	switch {
	case evt.Type == domain.EventRollForward:
		return p.window.Add(*evt.Block)
	case evt.IsUndo():
		return p.window.DeleteTip(evt.Block.Header.Hash)
	default:
		return nil
	}
}
