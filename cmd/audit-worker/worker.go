package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/tigertix/internal/adapters/mongo"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
)

var errPoison = errors.New("unprocessable message")

type auditRecorder interface {
	Record(ctx context.Context, entry mongoadapter.AuditLog) error
	Get(ctx context.Context, id string) (*mongoadapter.AuditLog, error)
}

type catalogProjector interface {
	UpsertEvent(ctx context.Context, ev domain.Event) error
	ApplyBooking(ctx context.Context, b domain.BookingCreated) error
}

// AuditWorker stores every relayed domain event and keeps the catalog
// projection current. Writes are keyed by MessageId or are monotonic, so a
// redelivered message changes nothing.
type AuditWorker struct {
	audit      auditRecorder
	catalog    catalogProjector
	logger     observability.Logger
	maxRetries int
	backoff    time.Duration
}

func NewAuditWorker(audit auditRecorder, catalog catalogProjector, logger observability.Logger) *AuditWorker {
	return &AuditWorker{audit: audit, catalog: catalog, logger: logger, maxRetries: 3, backoff: time.Second}
}

func (w *AuditWorker) Run(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			w.handle(ctx, d)
		}
	}
}

func (w *AuditWorker) handle(ctx context.Context, d amqp.Delivery) {
	log := w.logger.WithField("message_id", d.MessageId).WithField("routing_key", d.RoutingKey)

	err := w.processWithRetry(ctx, d)
	switch {
	case err == nil:
		if err := d.Ack(false); err != nil {
			log.WithError(err).Error("ack failed")
		}
	case errors.Is(err, errPoison):
		log.WithError(err).Error("dropping unprocessable message")
		if err := d.Reject(false); err != nil {
			log.WithError(err).Error("reject failed")
		}
	default:
		log.WithError(err).Error("failed to process message after retries")
		if err := d.Nack(false, true); err != nil {
			log.WithError(err).Error("nack failed")
		}
	}
}

func (w *AuditWorker) processWithRetry(ctx context.Context, d amqp.Delivery) error {
	var err error
	for i := 0; i < w.maxRetries; i++ {
		err = w.process(ctx, d)
		if err == nil || errors.Is(err, errPoison) {
			return err
		}
		backoff := time.Duration(1<<i) * w.backoff
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return errors.Wrapf(err, "failed after %d retries", w.maxRetries)
}

func (w *AuditWorker) process(ctx context.Context, d amqp.Delivery) error {
	if d.MessageId == "" {
		return errors.Mark(errors.New("message without id"), errPoison)
	}
	// The audit entry is written last, so its presence means the catalog
	// already saw this message.
	prior, err := w.audit.Get(ctx, d.MessageId)
	if err != nil {
		return err
	}
	if prior != nil {
		w.logger.WithField("message_id", d.MessageId).Debug("message already recorded")
		return nil
	}
	eventType := d.Type
	if eventType == "" {
		eventType = d.RoutingKey
	}

	var data map[string]interface{}
	if err := json.Unmarshal(d.Body, &data); err != nil {
		return errors.Mark(errors.Wrap(err, "decode payload"), errPoison)
	}

	var aggregateID int64
	switch eventType {
	case domain.EventTypeEventCreated:
		var ev domain.Event
		if err := json.Unmarshal(d.Body, &ev); err != nil {
			return errors.Mark(errors.Wrap(err, "decode event"), errPoison)
		}
		aggregateID = ev.ID
		if err := w.catalog.UpsertEvent(ctx, ev); err != nil {
			return err
		}
	case domain.EventTypeBookingCreated:
		var b domain.BookingCreated
		if err := json.Unmarshal(d.Body, &b); err != nil {
			return errors.Mark(errors.Wrap(err, "decode booking"), errPoison)
		}
		aggregateID = b.Booking.ID
		if err := w.catalog.ApplyBooking(ctx, b); err != nil {
			return err
		}
	}

	occurred := d.Timestamp
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	return w.audit.Record(ctx, mongoadapter.AuditLog{
		ID:          d.MessageId,
		Action:      eventType,
		AggregateID: aggregateID,
		OccurredAt:  occurred,
		Data:        data,
	})
}
