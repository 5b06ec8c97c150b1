package broker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/redis/go-redis/v9"

	"guestbook/internal/util"
	"guestbook/pkg/domain"
)

const defaultChannel = "guestbook:feed"

// RedisBroker broadcasts feed events over redis PUBLISH/SUBSCRIBE.
// Redis pub/sub is fire-and-forget, which matches the at-most-once contract.
type RedisBroker struct {
	client  *redis.Client
	channel string
}

// NewRedisBroker connects a broker to the given redis instance.
func NewRedisBroker(addr, password, channel string) (*RedisBroker, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, errors.New("redis addr required")
	}
	channel = strings.TrimSpace(channel)
	if channel == "" {
		channel = defaultChannel
	}
	return &RedisBroker{
		client:  redis.NewClient(&redis.Options{Addr: addr, Password: password}),
		channel: channel,
	}, nil
}

// Publish encodes the event as JSON and broadcasts it.
func (b *RedisBroker) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe opens a dedicated redis subscription and decodes events onto a
// channel. Undecodable payloads are logged and skipped.
func (b *RedisBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed so no event published after
	// this call returns can be missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, err
	}

	out := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			var ev domain.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				util.LoggerFromContext(ctx).Warn("discarding undecodable feed event", "err", err)
				continue
			}
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	cancel := func() { _ = pubsub.Close() }
	return NewSubscription(out, cancel), nil
}

// Close releases the underlying redis client.
func (b *RedisBroker) Close() error {
	return b.client.Close()
}
