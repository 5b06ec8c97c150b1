package broker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"guestbook/internal/util"
	"guestbook/pkg/domain"
)

const defaultExchange = "guestbook.feed"

// AMQPBroker broadcasts feed events through a RabbitMQ fanout exchange.
// Each subscription consumes from its own exclusive auto-delete queue, so
// a disconnect discards the queue and any undelivered events with it.
type AMQPBroker struct {
	conn     *amqp.Connection
	exchange string

	// amqp channels are not safe for concurrent publishes.
	pubMu sync.Mutex
	pub   *amqp.Channel
}

// NewAMQPBroker dials the server and declares the fanout exchange.
func NewAMQPBroker(url, exchange string) (*AMQPBroker, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	exchange = strings.TrimSpace(exchange)
	if exchange == "" {
		exchange = defaultExchange
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	pub, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := pub.ExchangeDeclare(exchange, "fanout", false, true, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &AMQPBroker{conn: conn, exchange: exchange, pub: pub}, nil
}

// Publish encodes the event as JSON and publishes it to the fanout exchange.
func (b *AMQPBroker) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	return b.pub.PublishWithContext(ctx, b.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        payload,
	})
}

// Subscribe binds a fresh exclusive queue to the exchange and decodes
// deliveries onto a channel.
func (b *AMQPBroker) Subscribe(ctx context.Context) (*Subscription, error) {
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, err
	}
	queue, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(queue.Name, "", b.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(queue.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	out := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer close(out)
		for delivery := range deliveries {
			var ev domain.Event
			if err := json.Unmarshal(delivery.Body, &ev); err != nil {
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

	cancel := func() { _ = ch.Close() }
	return NewSubscription(out, cancel), nil
}

// Close tears down the connection and all of its channels.
func (b *AMQPBroker) Close() error {
	return b.conn.Close()
}
