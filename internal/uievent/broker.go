package uievent

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/blockhost/internal/plugin/value"
)

// Broker correlates element reads sent to the observer with the responses it
// later delivers through Resolve.
type Broker struct {
	mu      sync.Mutex
	pending map[string]chan value.Value
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{pending: make(map[string]chan value.Value)}
}

// Request registers a request id, hands it to send, and waits up to timeout
// for Resolve. The second result is false when send fails, the wait times
// out, or ctx ends; none of those are errors.
func (b *Broker) Request(ctx context.Context, timeout time.Duration, send func(requestID string) bool) (value.Value, bool) {
	id := uuid.NewString()
	ch := make(chan value.Value, 1)

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()
	defer b.forget(id)

	if !send(id) {
		return value.Nil, false
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case v := <-ch:
		return v, true
	case <-timer.C:
		return value.Nil, false
	case <-ctx.Done():
		return value.Nil, false
	}
}

// Resolve completes the request with data. It reports whether the id was
// still pending.
func (b *Broker) Resolve(requestID string, data value.Value) bool {
	b.mu.Lock()
	ch, ok := b.pending[requestID]
	delete(b.pending, requestID)
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- data
	return true
}

// Pending returns the number of outstanding requests.
func (b *Broker) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

func (b *Broker) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
