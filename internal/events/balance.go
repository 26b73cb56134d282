package events

import (
	"sync"
	"time"
)

// BalanceChange announces that the balance cache changed.
// Readers fetch current values from the cache; the event carries no amounts.
type BalanceChange struct {
	Time time.Time `json:"ts"`
	// Reason is the event type that caused the change, or "invalidate" after reconciliation.
	Reason string `json:"reason"`
	// Assets lists the touched assets, empty when every asset was touched.
	Assets []string `json:"assets,omitempty"`
}

// BalanceBroadcaster fans out balance changes to all subscribers via buffered channels.
type BalanceBroadcaster struct {
	mu     sync.RWMutex
	subs   map[chan BalanceChange]struct{}
	buffer int
}

// NewBalanceBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBalanceBroadcaster(buffer int) *BalanceBroadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &BalanceBroadcaster{
		subs:   make(map[chan BalanceChange]struct{}),
		buffer: buffer,
	}
}

// Publish sends the change to all subscribers, dropping it for a reader that is slow.
func (b *BalanceBroadcaster) Publish(c BalanceChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- c:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives changes until Unsubscribe is called.
func (b *BalanceBroadcaster) Subscribe() chan BalanceChange {
	ch := make(chan BalanceChange, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *BalanceBroadcaster) Unsubscribe(ch chan BalanceChange) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// Subscribers returns the number of active subscribers.
func (b *BalanceBroadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
