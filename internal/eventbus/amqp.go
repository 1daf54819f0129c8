package eventbus

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher fans lifecycle events out onto a topic exchange so other
// in-house systems can observe held-transaction activity without polling the
// registry. Grounded on burrowctl's server/worker_pool.go, which marshals a
// response and publishes it with Channel.PublishWithContext; here the same
// call shape is repurposed from "RPC reply" to "fire-and-forget event".
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials amqpURL and declares a topic exchange named
// exchange to publish lifecycle events on.
func NewAMQPPublisher(amqpURL, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("eventbus: dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("eventbus: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("eventbus: declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: ch, exchange: exchange}, nil
}

// Publish sends ev to the exchange under the event name as routing key.
// Failures are logged, never propagated — a lost notification must never
// affect the held transaction it describes.
func (p *AMQPPublisher) Publish(ctx context.Context, ev LifecycleEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[heldtx] eventbus: failed to encode lifecycle event %s: %v", ev.TransactionID, err)
		return
	}

	publishCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err = p.channel.PublishWithContext(publishCtx, p.exchange, ev.Event, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   ev.At,
		Body:        body,
	})
	if err != nil {
		log.Printf("[heldtx] eventbus: failed to publish %s for %s: %v", ev.Event, ev.TransactionID, err)
	}
}

// Close tears down the channel and connection.
func (p *AMQPPublisher) Close() error {
	_ = p.channel.Close()
	return p.conn.Close()
}
