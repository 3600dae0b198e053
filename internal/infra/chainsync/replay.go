package chainsync

import (
	"context"
	"io"

	"github.com/vietddude/projector/internal/core/domain"
)

// Step is one scripted event for Replay.
type Step struct {
	Block    *domain.Block      // set for RollForward
	Rollback *domain.ChainPoint // set for RollBackward
}

// Forward returns a RollForward step.
func Forward(b domain.Block) Step {
	return Step{Block: &b}
}

// Backward returns a RollBackward step.
func Backward(p domain.ChainPoint) Step {
	return Step{Rollback: &p}
}

// Replay emits a fixed script of events, then io.EOF.
type Replay struct {
	gate  gate
	steps []Step
	pos   int
}

// NewReplay creates a replay source.
func NewReplay(steps ...Step) *Replay {
	return &Replay{steps: steps}
}

// Next implements Source.
func (r *Replay) Next(ctx context.Context) (domain.ChainSyncEvent, error) {
	if err := r.gate.wait(ctx); err != nil {
		return domain.ChainSyncEvent{}, err
	}
	if r.pos >= len(r.steps) {
		return domain.ChainSyncEvent{}, io.EOF
	}
	step := r.steps[r.pos]
	r.pos++

	if step.Rollback != nil {
		return domain.ChainSyncEvent{
			Type:        domain.EventRollBackward,
			Point:       *step.Rollback,
			RequestNext: r.gate.issue(),
		}, nil
	}
	b := *step.Block
	return domain.ChainSyncEvent{
		Type:        domain.EventRollForward,
		Block:       &b,
		RequestNext: r.gate.issue(),
	}, nil
}
