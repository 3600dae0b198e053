// Package chainsync produces chain-sync events.
//
// A Source is pulled one event at a time. The next event is only produced
// after the RequestNext of the previous one has been called, the same flow
// control a node client applies to the chain-sync mini-protocol.
package chainsync

import (
	"context"
	"sync"

	"github.com/vietddude/projector/internal/core/domain"
)

// Source yields chain-sync events. Next returns io.EOF when the source is
// exhausted.
type Source interface {
	Next(ctx context.Context) (domain.ChainSyncEvent, error)
}

// gate blocks producers until the consumer asks for the next event.
type gate struct {
	mu      sync.Mutex
	pending chan struct{}
}

// wait blocks until the previously issued event was acknowledged.
func (g *gate) wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.pending
	g.mu.Unlock()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// issue arms the gate and returns the RequestNext for the new event. Extra
// calls are ignored.
func (g *gate) issue() func() {
	ch := make(chan struct{})
	g.mu.Lock()
	g.pending = ch
	g.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(ch) })
	}
}
