package projection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vietddude/projector/internal/core/domain"
	"github.com/vietddude/projector/internal/indexing/buffer"
	"github.com/vietddude/projector/internal/indexing/rollback"
	"github.com/vietddude/projector/internal/infra/chainsync"
	"github.com/vietddude/projector/internal/jobs"
)

var errTransient = errors.New("connection reset")

// recorder logs every event it sees as "+hash" or "-hash".
type recorder struct {
	mu     sync.Mutex
	seen   []string
	failN  int // fail the next failN calls
	failBy error
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) Project(_ context.Context, evt domain.ChainSyncEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failN > 0 {
		r.failN--
		return r.failBy
	}
	switch {
	case evt.Type == domain.EventRollForward:
		r.seen = append(r.seen, "+"+evt.Block.Header.Hash)
	case evt.IsUndo():
		r.seen = append(r.seen, "-"+evt.Block.Header.Hash)
	}
	return nil
}

func blk(slot uint64, hash string) domain.Block {
	return domain.Block{Header: domain.BlockHeader{Slot: slot, Hash: hash}}
}

func newTestPipeline(src chainsync.Source, window *buffer.Window, projectors ...Projector) *Pipeline {
	p := NewPipeline(Config{
		Source:     src,
		Decomposer: rollback.NewDecomposer(window),
		Projectors: append(projectors, NewBufferProjector(window)),
		Retry:      jobs.DefaultRetryPolicy(),
		Classifier: jobs.ClassifierFunc(func(err error) bool { return errors.Is(err, errTransient) }),
	})
	p.after = func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Now()
		return ch
	}
	return p
}

func hashes(blocks []domain.Block) []string {
	out := make([]string, len(blocks))
	for i, b := range blocks {
		out[i] = b.Header.Hash
	}
	return out
}

func TestPipeline_RollbackKeepsBufferConsistent(t *testing.T) {
	window := buffer.New(10)
	rec := &recorder{}
	src := chainsync.NewReplay(
		chainsync.Forward(blk(1, "b1")),
		chainsync.Forward(blk(2, "b2")),
		chainsync.Forward(blk(3, "b3")),
		chainsync.Forward(blk(4, "b4")),
		chainsync.Backward(domain.ChainPoint{Slot: 2, Hash: "b2"}),
		chainsync.Forward(blk(5, "c3")),
	)

	p := newTestPipeline(src, window, rec)
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, []string{"+b1", "+b2", "+b3", "+b4", "-b4", "-b3", "+c3"}, rec.seen)
	assert.Equal(t, []string{"c3", "b2", "b1"}, hashes(window.Snapshot()))
	assert.True(t, p.Health().OK)
}

func TestPipeline_RollbackToOrigin(t *testing.T) {
	window := buffer.New(10)
	rec := &recorder{}
	src := chainsync.NewReplay(
		chainsync.Forward(blk(1, "b1")),
		chainsync.Forward(blk(2, "b2")),
		chainsync.Backward(domain.Origin),
	)

	require.NoError(t, newTestPipeline(src, window, rec).Run(context.Background()))
	assert.Equal(t, []string{"+b1", "+b2", "-b2", "-b1"}, rec.seen)
	assert.Zero(t, window.Len())
}

func TestPipeline_RetriesRecoverableErrors(t *testing.T) {
	window := buffer.New(10)
	rec := &recorder{failN: 3, failBy: errTransient}
	src := chainsync.NewReplay(chainsync.Forward(blk(1, "b1")))

	require.NoError(t, newTestPipeline(src, window, rec).Run(context.Background()))
	assert.Equal(t, []string{"+b1"}, rec.seen)
	assert.Equal(t, 1, window.Len(), "block must be buffered exactly once")
}

func TestPipeline_RetriesWhileDisconnected(t *testing.T) {
	window := buffer.New(10)
	rec := &recorder{failN: 2, failBy: fmt.Errorf("save: %w", domain.ErrNoConnection)}
	src := chainsync.NewReplay(chainsync.Forward(blk(1, "b1")))

	require.NoError(t, newTestPipeline(src, window, rec).Run(context.Background()))
	assert.Equal(t, []string{"+b1"}, rec.seen)
}

func TestPipeline_StopsOnPermanentError(t *testing.T) {
	window := buffer.New(10)
	boom := errors.New("constraint violated")
	rec := &recorder{failN: 1, failBy: boom}
	src := chainsync.NewReplay(chainsync.Forward(blk(1, "b1")), chainsync.Forward(blk(2, "b2")))

	p := newTestPipeline(src, window, rec)
	err := p.Run(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Zero(t, window.Len(), "buffer must not advance past a failed projector")
	assert.False(t, p.Health().OK)
}

func TestPipeline_StopsOnCancelDuringRetry(t *testing.T) {
	window := buffer.New(10)
	rec := &recorder{failN: 1_000_000, failBy: errTransient}
	src := chainsync.NewReplay(chainsync.Forward(blk(1, "b1")))

	p := newTestPipeline(src, window, rec)
	ctx, cancel := context.WithCancel(context.Background())
	p.after = func(time.Duration) <-chan time.Time {
		cancel()
		return make(chan time.Time)
	}

	require.NoError(t, p.Run(ctx))
	assert.False(t, p.Health().OK)
	assert.Contains(t, p.Health().Reason, "recorder")
}

func TestPipeline_RejectsConcurrentRun(t *testing.T) {
	src := chainsync.NewSynthetic(chainsync.SyntheticConfig{Interval: time.Hour})
	p := newTestPipeline(src, buffer.New(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool { return p.running.Load() }, time.Second, time.Millisecond)
	assert.Error(t, p.Run(context.Background()))

	cancel()
	assert.NoError(t, <-done)
}
