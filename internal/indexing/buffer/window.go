// Package buffer keeps the most recently applied blocks so rollbacks can be
// turned into per-block undo events.
//
// The window holds at most Size blocks. Adding a block past the limit evicts
// the oldest one; a rollback deeper than the window cannot be fully undone.
package buffer

import (
	"errors"
	"fmt"
	"sync"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/indexing/metrics"
)

// DefaultSize is the number of blocks after which the chain is considered final.
const DefaultSize = 2160

var (
	// ErrNotExtending is returned when an added block does not sit above the tip.
	ErrNotExtending = errors.New("block does not extend the window tip")
	// ErrTipMismatch is returned when the block to delete is not the tip.
	ErrTipMismatch = errors.New("block is not the window tip")
	// ErrEmpty is returned when deleting from an empty window.
	ErrEmpty = errors.New("stability window is empty")
)

// Window is a bounded, newest-first record of applied blocks.
// It is safe for concurrent use.
type Window struct {
	mu     sync.RWMutex
	blocks []domain.Block // ring, oldest at start
	start  int
	count  int
}

// New creates a window holding at most size blocks. A non-positive size
// selects DefaultSize.
func New(size int) *Window {
	if size <= 0 {
		size = DefaultSize
	}
	return &Window{blocks: make([]domain.Block, size)}
}

// Size returns the capacity of the window.
func (w *Window) Size() int {
	return len(w.blocks)
}

// Len returns the number of blocks held.
func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.count
}

// Add records b as the new tip, evicting the oldest block when full.
func (w *Window) Add(b domain.Block) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count > 0 {
		tip := w.at(w.count - 1)
		if b.Header.Slot <= tip.Header.Slot {
			return fmt.Errorf("%w: slot %d, tip slot %d", ErrNotExtending, b.Header.Slot, tip.Header.Slot)
		}
	}

	size := len(w.blocks)
	if w.count < size {
		w.blocks[(w.start+w.count)%size] = b
		w.count++
	} else {
		w.blocks[w.start] = b
		w.start = (w.start + 1) % size
	}
	metrics.WindowSize.Set(float64(w.count))
	return nil
}

// DeleteTip removes the newest block, which must have the given hash.
func (w *Window) DeleteTip(hash string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.count == 0 {
		return ErrEmpty
	}
	tip := w.at(w.count - 1)
	if tip.Header.Hash != hash {
		return fmt.Errorf("%w: tip %s, got %s", ErrTipMismatch, tip.Header.Hash, hash)
	}
	w.blocks[(w.start+w.count-1)%len(w.blocks)] = domain.Block{}
	w.count--
	metrics.WindowSize.Set(float64(w.count))
	return nil
}

// Tip returns the newest block.
func (w *Window) Tip() (domain.Block, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.count == 0 {
		return domain.Block{}, false
	}
	return w.at(w.count - 1), true
}

// Snapshot returns a copy of the held blocks, newest first.
func (w *Window) Snapshot() []domain.Block {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]domain.Block, w.count)
	for i := 0; i < w.count; i++ {
		out[i] = w.at(w.count - 1 - i)
	}
	return out
}

// at returns the i-th block counted from the oldest. Caller holds the lock.
func (w *Window) at(i int) domain.Block {
	return w.blocks[(w.start+i)%len(w.blocks)]
}
