// Package outbox relays committed outbox messages to the message broker.
// Delivery is at-least-once; consumers deduplicate on MessageId.
package outbox

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
)

type Broker interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

type Publisher struct {
	source   domain.OutboxSource
	broker   Broker
	logger   observability.Logger
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewPublisher(source domain.OutboxSource, broker Broker, logger observability.Logger, interval time.Duration, batch int) *Publisher {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if batch <= 0 {
		batch = 50
	}
	return &Publisher{
		source:   source,
		broker:   broker,
		logger:   logger,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

func (p *Publisher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.logger.WithField("interval", p.interval.String()).Info("outbox relay started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox relay stopped")
			return nil
		case <-ticker.C:
			if _, err := p.PublishPending(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("outbox relay tick failed")
			}
		}
	}
}

// PublishPending publishes one batch and returns how many messages were
// marked published. A message whose publish fails stays pending and is
// retried on the next tick.
func (p *Publisher) PublishPending(ctx context.Context) (int, error) {
	msgs, err := p.source.PendingOutbox(ctx, p.batch)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.now().Sub(msgs[0].CreatedAt).Seconds())

	published := 0
	for _, msg := range msgs {
		err := p.broker.Publish(ctx, msg.EventType, amqp.Publishing{
			MessageId:    msg.DedupeKey,
			Type:         msg.EventType,
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    msg.CreatedAt,
			Body:         msg.Payload,
		})
		if err != nil {
			observability.OutboxPublishFailures.Inc()
			p.logger.WithField("outbox_id", msg.ID.String()).WithError(err).Warn("outbox publish failed")
			continue
		}
		if err := p.source.MarkPublished(ctx, msg.ID, p.now()); err != nil {
			return published, err
		}
		published++
	}
	return published, nil
}
