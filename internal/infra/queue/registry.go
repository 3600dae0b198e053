package queue

import (
	"context"
	"sync"
)

// Registry tracks the subscriptions of one engine.
type Registry struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add records a subscription.
func (r *Registry) Add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, sub)
}

// StopAll unsubscribes everything and waits until each subscription is done
// or ctx expires.
func (r *Registry) StopAll(ctx context.Context) error {
	r.mu.Lock()
	subs := r.subs
	r.subs = nil
	r.mu.Unlock()

	for _, sub := range subs {
		sub.Unsubscribe()
	}
	for _, sub := range subs {
		select {
		case <-sub.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
