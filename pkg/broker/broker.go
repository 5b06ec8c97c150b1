// Package broker fans feed events out to live subscribers. Delivery is
// at-most-once and best-effort: only subscribers connected at publish time
// receive an event, and a disconnected subscriber resynchronizes with a
// fresh store query rather than replaying missed events.
package broker

import (
	"context"
	"sync"

	"guestbook/pkg/domain"
)

// Broker is a single logical broadcast channel scoped to the feed.
// Every published event fans out to every live subscription.
type Broker interface {
	Publish(ctx context.Context, ev domain.Event) error
	Subscribe(ctx context.Context) (*Subscription, error)
}

// Subscription is a long-lived event stream. The channel is closed when the
// subscription ends; Close is safe to call more than once and after the
// stream has already terminated.
type Subscription struct {
	events <-chan domain.Event
	cancel func()
	once   sync.Once
}

// NewSubscription wraps an event channel with its teardown hook.
func NewSubscription(events <-chan domain.Event, cancel func()) *Subscription {
	return &Subscription{events: events, cancel: cancel}
}

// Events returns the stream of feed events.
func (s *Subscription) Events() <-chan domain.Event {
	return s.events
}

// Close stops delivery. In-flight publishes from other clients are unaffected.
func (s *Subscription) Close() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
