package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventStore is the durable inventory. Availability is only ever reduced
// through EventTx.DecrementAvailability inside InTx.
type EventStore interface {
	InTx(ctx context.Context, fn func(tx EventTx) error) error

	CreateEvent(ctx context.Context, ev NewEvent) (Event, error)
	GetEvent(ctx context.Context, id int64) (Event, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]Event, error)
	ListBookings(ctx context.Context, eventID int64) ([]Booking, error)
	BookingByKey(ctx context.Context, key string) (*Booking, error)
}

type EventTx interface {
	// LockEvent reads the event holding an exclusive write intent until the
	// unit ends. Returns ErrEventNotFound when absent.
	LockEvent(ctx context.Context, id int64) (Event, error)
	// DecrementAvailability applies tickets_available -= quantity only when
	// tickets_available >= quantity, as one conditional write.
	DecrementAvailability(ctx context.Context, id int64, quantity int) (bool, error)
	// InsertBooking assigns b.ID and b.CreatedAt. A taken idempotency key
	// yields ErrDuplicateIntent.
	InsertBooking(ctx context.Context, b *Booking) error
	BookingByKey(ctx context.Context, key string) (*Booking, error)
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// OutboxSource feeds the outbox relay.
type OutboxSource interface {
	PendingOutbox(ctx context.Context, limit int) ([]OutboxMessage, error)
	MarkPublished(ctx context.Context, id uuid.UUID, at time.Time) error
}
