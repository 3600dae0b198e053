package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vietddude/projector/internal/core/domain"
)

// BlockStore is the write side of BlockRepo.
type BlockStore interface {
	SaveBlock(ctx context.Context, b domain.Block) error
	DeleteBlock(ctx context.Context, hash string) error
}

// JobSender enqueues durable jobs.
type JobSender interface {
	Send(ctx context.Context, queue string, payload []byte) (string, error)
}

// Target is the connection the projector writes through.
type Target struct {
	Blocks BlockStore
	Jobs   JobSender
}

// BlockProjector mirrors applied blocks into the blocks table and schedules a
// summary job for each of them.
type BlockProjector struct {
	current func() (Target, bool)
}

// NewBlockProjector creates a projector. current returns the live connection,
// false while disconnected.
func NewBlockProjector(current func() (Target, bool)) *BlockProjector {
	return &BlockProjector{current: current}
}

// Name returns the projector name used in logs and metrics.
func (p *BlockProjector) Name() string { return "blocks" }

// Project applies one event.
func (p *BlockProjector) Project(ctx context.Context, evt domain.ChainSyncEvent) error {
	target, ok := p.current()
	if !ok {
		return domain.ErrNoConnection
	}

	switch {
	case evt.Type == domain.EventRollForward:
		if err := target.Blocks.SaveBlock(ctx, *evt.Block); err != nil {
			return err
		}
		payload, err := json.Marshal(SummaryPayload{Hash: evt.Block.Header.Hash, Slot: evt.Block.Header.Slot})
		if err != nil {
			return fmt.Errorf("failed to marshal summary payload: %w", err)
		}
		if _, err := target.Jobs.Send(ctx, BlockSummaryQueue, payload); err != nil {
			return err
		}
		return nil
	case evt.IsUndo():
		return target.Blocks.DeleteBlock(ctx, evt.Block.Header.Hash)
	default:
		// Top-level rollbacks are decomposed before they reach projectors
		return nil
	}
}
