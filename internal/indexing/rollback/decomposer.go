package rollback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/indexing/metrics"
)

// Decomposer expands RollBackward events into per-block undo events.
type Decomposer struct {
	window Window
	log    *slog.Logger
}

// Decompose returns the sequence of events evt stands for.
//
// RollForward yields evt itself. RollBackward yields one undo event per
// buffered block newer than the target, newest first. The caller must Close
// the sequence, which calls evt.RequestNext once.
func (d *Decomposer) Decompose(evt domain.ChainSyncEvent) *Sequence {
	s := &Sequence{
		decomposer: d,
		target:     evt.Point,
	}
	requestNext := evt.RequestNext
	if requestNext == nil {
		requestNext = domain.NoopRequestNext
	}
	s.requestNext = func() { s.once.Do(requestNext) }

	switch evt.Type {
	case domain.EventRollBackward:
		s.blocks = d.window.Snapshot()
	default:
		fwd := evt
		fwd.RequestNext = s.requestNext
		s.forward = &fwd
	}
	return s
}

// Drain consumes the decomposition of evt, calling fn for each event in order.
// It stops at the first error from fn or when ctx is done. RequestNext of evt
// is called exactly once before Drain returns.
func (d *Decomposer) Drain(
	ctx context.Context,
	evt domain.ChainSyncEvent,
	fn func(context.Context, domain.ChainSyncEvent) error,
) error {
	seq := d.Decompose(evt)
	defer seq.Close()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		e, ok := seq.Next()
		if !ok {
			return nil
		}
		if err := fn(ctx, e); err != nil {
			return err
		}
	}
}

// Sequence is a lazily evaluated decomposition of one chain-sync event.
// It is not safe for concurrent use.
type Sequence struct {
	decomposer  *Decomposer
	forward     *domain.ChainSyncEvent
	blocks      []domain.Block
	target      domain.ChainPoint
	pos         int
	done        bool
	once        sync.Once
	requestNext func()
}

// Next returns the next event, or false once the sequence is exhausted.
func (s *Sequence) Next() (domain.ChainSyncEvent, bool) {
	if s.done {
		return domain.ChainSyncEvent{}, false
	}

	if s.forward != nil {
		s.done = true
		return *s.forward, true
	}

	if s.pos >= len(s.blocks) {
		s.done = true
		if !s.target.IsOrigin() {
			s.underflow()
		}
		return domain.ChainSyncEvent{}, false
	}

	b := s.blocks[s.pos]
	if !s.target.IsOrigin() && b.Header.Hash == s.target.Hash {
		s.done = true
		return domain.ChainSyncEvent{}, false
	}
	s.pos++

	// The predecessor is the next older buffered block, or the target itself
	// once the oldest buffered block is reached.
	prev := s.target
	if s.pos < len(s.blocks) {
		prev = s.blocks[s.pos].Point()
	}

	metrics.RollbackBlocks.Inc()
	return domain.ChainSyncEvent{
		Type:        domain.EventRollBackward,
		Block:       &b,
		Point:       prev,
		RequestNext: domain.NoopRequestNext,
	}, true
}

// Close releases the sequence and signals the producer for the next event.
// Close may be called more than once.
func (s *Sequence) Close() {
	s.done = true
	s.requestNext()
}

func (s *Sequence) underflow() {
	metrics.RollbackUnderflows.Inc()
	args := []any{"target", s.target.String(), "buffered", len(s.blocks)}
	if n := len(s.blocks); n > 0 {
		args = append(args,
			"newest", s.blocks[0].Point().String(),
			"oldest", s.blocks[n-1].Point().String(),
		)
	}
	s.decomposer.log.Warn("Rollback target not in stability window, undid every buffered block", args...)
}
