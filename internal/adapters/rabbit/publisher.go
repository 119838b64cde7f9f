package rabbit

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the topic exchange domain events are published to, routed by
// event type (event.created, booking.created).
const Exchange = "tigertix.events"

type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

func declareExchange(ch *amqp.Channel) error {
	return ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil)
}

func NewPublisher(conn *amqp.Connection) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declareExchange(ch); err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", Exchange)
	}
	return &Publisher{ch: ch}, nil
}

// Publish is safe for concurrent use; amqp channels are not.
func (p *Publisher) Publish(ctx context.Context, key string, msg amqp.Publishing) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Wrapf(p.ch.PublishWithContext(ctx, Exchange, key, false, false, msg), "publish %s", key)
}

func (p *Publisher) Close() error {
	return p.ch.Close()
}
