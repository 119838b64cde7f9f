package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
)

type Consumer struct {
	ch    *amqp.Channel
	queue string
}

// NewConsumer declares a durable queue bound to Exchange with bindingKey
// ("#" receives every event type).
func NewConsumer(conn *amqp.Connection, queue, bindingKey string, prefetch int) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := declareExchange(ch); err != nil {
		return nil, errors.Wrapf(err, "declare exchange %s", Exchange)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, errors.Wrapf(err, "declare queue %s", queue)
	}
	if err := ch.QueueBind(queue, bindingKey, Exchange, false, nil); err != nil {
		return nil, errors.Wrapf(err, "bind queue %s", queue)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, errors.Wrap(err, "set qos")
	}
	return &Consumer{ch: ch, queue: queue}, nil
}

func (c *Consumer) Consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	return deliveries, errors.Wrapf(err, "consume %s", c.queue)
}

func (c *Consumer) Close() error {
	return c.ch.Close()
}
