package rollback

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/vietddude/projector/internal/core/domain"
)

// =============================================================================
// Helpers
// =============================================================================

type staticWindow []domain.Block

func (w staticWindow) Snapshot() []domain.Block {
	out := make([]domain.Block, len(w))
	copy(out, w)
	return out
}

// window returns blocks with slots from..to, newest first.
func window(from, to uint64) staticWindow {
	var w staticWindow
	for s := to; s >= from; s-- {
		w = append(w, blk(s))
	}
	return w
}

func blk(slot uint64) domain.Block {
	return domain.Block{Header: domain.BlockHeader{
		Hash:     fmt.Sprintf("B%d", slot),
		Slot:     slot,
		PrevHash: fmt.Sprintf("B%d", slot-1),
	}}
}

type counter struct{ n int }

func (c *counter) requestNext() { c.n++ }

func collect(t *testing.T, d *Decomposer, evt domain.ChainSyncEvent) []domain.ChainSyncEvent {
	t.Helper()
	var got []domain.ChainSyncEvent
	err := d.Drain(context.Background(), evt, func(_ context.Context, e domain.ChainSyncEvent) error {
		got = append(got, e)
		return nil
	})
	if err != nil {
		t.Fatalf("Drain failed: %v", err)
	}
	return got
}

func undone(events []domain.ChainSyncEvent) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Block.Header.Hash
	}
	return out
}

// =============================================================================
// Tests
// =============================================================================

func TestDecompose_RollBackwardNewestFirst(t *testing.T) {
	d := NewDecomposer(window(1, 5))
	c := &counter{}

	got := collect(t, d, domain.ChainSyncEvent{
		Type:        domain.EventRollBackward,
		Point:       blk(2).Point(),
		RequestNext: c.requestNext,
	})

	if fmt.Sprint(undone(got)) != "[B5 B4 B3]" {
		t.Fatalf("Expected undo [B5 B4 B3], got %v", undone(got))
	}
	if c.n != 1 {
		t.Errorf("Expected requestNext once, got %d", c.n)
	}

	// Each undo points at the predecessor of the undone block
	wantPoints := []string{"B4", "B3", "B2"}
	for i, e := range got {
		if e.Type != domain.EventRollBackward {
			t.Errorf("event %d: expected RollBackward, got %s", i, e.Type)
		}
		if e.Point.Hash != wantPoints[i] {
			t.Errorf("event %d: expected point %s, got %s", i, wantPoints[i], e.Point.Hash)
		}
	}
}

func TestDecompose_RollBackwardToOrigin(t *testing.T) {
	d := NewDecomposer(window(1, 5))
	c := &counter{}

	got := collect(t, d, domain.ChainSyncEvent{
		Type:        domain.EventRollBackward,
		Point:       domain.Origin,
		RequestNext: c.requestNext,
	})

	if fmt.Sprint(undone(got)) != "[B5 B4 B3 B2 B1]" {
		t.Fatalf("Expected all five blocks undone, got %v", undone(got))
	}
	if !got[4].Point.IsOrigin() {
		t.Errorf("Expected oldest undo to point at origin, got %s", got[4].Point)
	}
	if c.n != 1 {
		t.Errorf("Expected requestNext once, got %d", c.n)
	}
}

func TestDecompose_RollBackwardToTip(t *testing.T) {
	d := NewDecomposer(window(1, 5))
	c := &counter{}

	got := collect(t, d, domain.ChainSyncEvent{
		Type:        domain.EventRollBackward,
		Point:       blk(5).Point(),
		RequestNext: c.requestNext,
	})

	if len(got) != 0 {
		t.Errorf("Expected no undo events, got %v", undone(got))
	}
	if c.n != 1 {
		t.Errorf("Expected requestNext once, got %d", c.n)
	}
}

func TestDecompose_Underflow(t *testing.T) {
	d := NewDecomposer(window(3, 5))
	c := &counter{}

	got := collect(t, d, domain.ChainSyncEvent{
		Type:        domain.EventRollBackward,
		Point:       blk(1).Point(),
		RequestNext: c.requestNext,
	})

	if fmt.Sprint(undone(got)) != "[B5 B4 B3]" {
		t.Fatalf("Expected every buffered block undone, got %v", undone(got))
	}
	if got[2].Point.Hash != "B1" {
		t.Errorf("Expected oldest undo to point at the target, got %s", got[2].Point)
	}
	if c.n != 1 {
		t.Errorf("Expected requestNext once, got %d", c.n)
	}
}

func TestDecompose_RollForwardPassThrough(t *testing.T) {
	d := NewDecomposer(window(1, 5))
	c := &counter{}
	b := blk(6)

	got := collect(t, d, domain.ChainSyncEvent{
		Type:        domain.EventRollForward,
		Block:       &b,
		RequestNext: c.requestNext,
	})

	if len(got) != 1 || got[0].Type != domain.EventRollForward || got[0].Block.Header.Hash != "B6" {
		t.Fatalf("Expected the forward event unchanged, got %+v", got)
	}
	// Calling the forwarded RequestNext must not double the signal
	got[0].RequestNext()
	if c.n != 1 {
		t.Errorf("Expected requestNext once, got %d", c.n)
	}
}

func TestDrain_StopsOnErrorAndRequestsNext(t *testing.T) {
	d := NewDecomposer(window(1, 5))
	c := &counter{}
	boom := errors.New("boom")

	var seen int
	err := d.Drain(context.Background(), domain.ChainSyncEvent{
		Type:        domain.EventRollBackward,
		Point:       domain.Origin,
		RequestNext: c.requestNext,
	}, func(_ context.Context, e domain.ChainSyncEvent) error {
		seen++
		if seen == 2 {
			return boom
		}
		return nil
	})

	if !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
	if seen != 2 {
		t.Errorf("Expected 2 events before stopping, got %d", seen)
	}
	if c.n != 1 {
		t.Errorf("Expected requestNext once, got %d", c.n)
	}
}

func TestDrain_CancelledContext(t *testing.T) {
	d := NewDecomposer(window(1, 5))
	c := &counter{}
	ctx, cancel := context.WithCancel(context.Background())

	var seen int
	err := d.Drain(ctx, domain.ChainSyncEvent{
		Type:        domain.EventRollBackward,
		Point:       domain.Origin,
		RequestNext: c.requestNext,
	}, func(_ context.Context, e domain.ChainSyncEvent) error {
		seen++
		cancel()
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if seen != 1 {
		t.Errorf("Expected 1 event before cancellation, got %d", seen)
	}
	if c.n != 1 {
		t.Errorf("Expected requestNext once, got %d", c.n)
	}
}

func TestSequence_SnapshotIsolation(t *testing.T) {
	w := window(1, 3)
	d := NewDecomposer(w)

	seq := d.Decompose(domain.ChainSyncEvent{
		Type:  domain.EventRollBackward,
		Point: domain.Origin,
	})
	defer seq.Close()

	// Mutating the source after decomposition must not change the sequence
	w[0] = blk(99)

	first, ok := seq.Next()
	if !ok || first.Block.Header.Hash != "B3" {
		t.Errorf("Expected B3 from snapshot, got %+v", first.Block)
	}
	if first.RequestNext == nil {
		t.Error("Expected undo events to carry a RequestNext")
	}
}

func TestSequence_CloseIdempotent(t *testing.T) {
	d := NewDecomposer(window(1, 2))
	c := &counter{}
	seq := d.Decompose(domain.ChainSyncEvent{
		Type:        domain.EventRollBackward,
		Point:       domain.Origin,
		RequestNext: c.requestNext,
	})

	seq.Close()
	seq.Close()
	if _, ok := seq.Next(); ok {
		t.Error("Expected closed sequence to be exhausted")
	}
	if c.n != 1 {
		t.Errorf("Expected requestNext once, got %d", c.n)
	}
}
