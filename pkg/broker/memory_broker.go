package broker

import (
	"context"
	"sync"

	"guestbook/internal/metrics"
	"guestbook/pkg/domain"
)

const subscriberBuffer = 32

// MemoryBroker is an in-process fan-out. Used in dev mode and tests.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[chan domain.Event]struct{}
}

// NewMemoryBroker initializes a broker with no subscribers.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[chan domain.Event]struct{})}
}

// Publish delivers the event to every live subscriber. A subscriber whose
// buffer is full loses the event; it converges on its next full resync.
func (b *MemoryBroker) Publish(_ context.Context, ev domain.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
			metrics.EventsDropped.Inc()
		}
	}
	return nil
}

// Subscribe registers a new event stream. The stream ends when the context
// is canceled or the subscription is closed.
func (b *MemoryBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	ch := make(chan domain.Event, subscriberBuffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	done := make(chan struct{})
	var stop sync.Once
	cancel := func() {
		stop.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(done)
			close(ch)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-done:
		}
	}()
	return NewSubscription(ch, cancel), nil
}

// SubscriberCount reports the number of live subscriptions.
func (b *MemoryBroker) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
