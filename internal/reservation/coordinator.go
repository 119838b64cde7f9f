// Package reservation owns the only path by which ticket inventory is
// reduced. A purchase is one all-or-nothing unit against the store: lock the
// event, conditionally decrement, append the booking and its outbox message.
package reservation

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Booker is what booking-capable callers depend on. Coordinator serves it in
// process, RemoteClient over HTTP.
type Booker interface {
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
	GetEvent(ctx context.Context, id int64) (domain.Event, error)
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error)
}

type PurchaseRequest struct {
	EventID  int64
	Quantity int
	// IdempotencyKey identifies one booking intent. A repeated key returns the
	// booking already committed for it instead of decrementing again.
	IdempotencyKey string
}

type PurchaseResult struct {
	Event    domain.Event
	Booking  domain.Booking
	Replayed bool
}

type Coordinator struct {
	store  domain.EventStore
	logger observability.Logger
	tracer trace.Tracer
}

var _ Booker = (*Coordinator)(nil)

func NewCoordinator(store domain.EventStore, logger observability.Logger) *Coordinator {
	return &Coordinator{
		store:  store,
		logger: logger,
		tracer: otel.Tracer("github.com/robertarktes/tigertix/internal/reservation"),
	}
}

func (c *Coordinator) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	ctx, span := c.tracer.Start(ctx, "reservation.purchase")
	defer span.End()
	span.SetAttributes(
		attribute.Int64("event.id", req.EventID),
		attribute.Int("purchase.quantity", req.Quantity),
		attribute.Bool("purchase.idempotent", req.IdempotencyKey != ""),
	)

	res, err := c.purchase(ctx, req)

	outcome := purchaseOutcome(res, err)
	observability.PurchasesTotal.WithLabelValues(outcome).Inc()
	span.SetAttributes(attribute.String("purchase.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return nil, err
	}
	if !res.Replayed {
		observability.TicketsSold.Add(float64(res.Booking.Quantity))
		c.logger.WithField("event_id", res.Event.ID).
			WithField("booking_id", res.Booking.ID).
			WithField("quantity", res.Booking.Quantity).
			WithField("tickets_available", res.Event.TicketsAvailable).
			Info("booking committed")
	}
	span.SetStatus(codes.Ok, outcome)
	return res, nil
}

func (c *Coordinator) purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.EventID < 1 {
		return nil, domain.InvalidInput("eventId must be a positive integer")
	}
	if req.Quantity < 1 {
		return nil, domain.InvalidInput("quantity must be at least 1")
	}

	var res *PurchaseResult
	err := c.store.InTx(ctx, func(tx domain.EventTx) error {
		// The unit may be re-run after a serialization failure.
		res = nil

		if req.IdempotencyKey != "" {
			prior, err := tx.BookingByKey(ctx, req.IdempotencyKey)
			if err != nil {
				return err
			}
			if prior != nil {
				ev, err := tx.LockEvent(ctx, prior.EventID)
				if err != nil {
					return err
				}
				res, err = replayResult(req, *prior, ev)
				return err
			}
		}

		ev, err := tx.LockEvent(ctx, req.EventID)
		if err != nil {
			return err
		}

		applied, err := tx.DecrementAvailability(ctx, req.EventID, req.Quantity)
		if err != nil {
			return err
		}
		if !applied {
			return &domain.InsufficientInventoryError{
				EventID:   req.EventID,
				Requested: req.Quantity,
				Available: ev.TicketsAvailable,
			}
		}
		ev.TicketsAvailable -= req.Quantity

		booking := domain.Booking{
			EventID:        req.EventID,
			Quantity:       req.Quantity,
			IdempotencyKey: req.IdempotencyKey,
		}
		if err := tx.InsertBooking(ctx, &booking); err != nil {
			return err
		}

		msg, err := domain.BookingCreatedMessage(booking, ev)
		if err != nil {
			return errors.Wrap(err, "encode booking.created")
		}
		if err := tx.EnqueueOutbox(ctx, msg); err != nil {
			return err
		}

		res = &PurchaseResult{Event: ev, Booking: booking}
		return nil
	})
	if errors.Is(err, domain.ErrDuplicateIntent) {
		// A concurrent delivery of the same intent committed first.
		return c.replay(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (c *Coordinator) replay(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	prior, err := c.store.BookingByKey(ctx, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if prior == nil {
		return nil, errors.Newf("booking for idempotency key %q vanished", req.IdempotencyKey)
	}
	ev, err := c.store.GetEvent(ctx, prior.EventID)
	if err != nil {
		return nil, err
	}
	return replayResult(req, *prior, ev)
}

func replayResult(req PurchaseRequest, prior domain.Booking, ev domain.Event) (*PurchaseResult, error) {
	if prior.EventID != req.EventID || prior.Quantity != req.Quantity {
		return nil, domain.InvalidInput("idempotency key was already used for a different purchase")
	}
	return &PurchaseResult{Event: ev, Booking: prior, Replayed: true}, nil
}

func purchaseOutcome(res *PurchaseResult, err error) string {
	switch {
	case err == nil && res.Replayed:
		return observability.OutcomeReplayed
	case err == nil:
		return observability.OutcomeSucceeded
	case errors.Is(err, domain.ErrEventNotFound):
		return observability.OutcomeNotFound
	case errors.Is(err, domain.ErrInsufficientInventory):
		return observability.OutcomeInsufficient
	case errors.Is(err, domain.ErrInvalidInput):
		return observability.OutcomeInvalid
	default:
		return observability.OutcomeError
	}
}

func (c *Coordinator) CreateEvent(ctx context.Context, name, date string, totalTickets int) (domain.Event, error) {
	ev, err := domain.NormalizeEvent(name, date, totalTickets)
	if err != nil {
		return domain.Event{}, err
	}
	created, err := c.store.CreateEvent(ctx, ev)
	if err != nil {
		return domain.Event{}, err
	}
	c.logger.WithField("event_id", created.ID).WithField("name", created.Name).Info("event created")
	return created, nil
}

func (c *Coordinator) GetEvent(ctx context.Context, id int64) (domain.Event, error) {
	if id < 1 {
		return domain.Event{}, domain.ErrEventNotFound
	}
	return c.store.GetEvent(ctx, id)
}

func (c *Coordinator) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	return c.store.ListEvents(ctx, filter)
}

func (c *Coordinator) ListBookings(ctx context.Context, eventID int64) ([]domain.Booking, error) {
	if _, err := c.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return c.store.ListBookings(ctx, eventID)
}
