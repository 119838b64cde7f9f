package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID               int64  `json:"id"`
	Name             string `json:"name"`
	Date             string `json:"date"`
	TotalTickets     int    `json:"total_tickets"`
	TicketsAvailable int    `json:"tickets_available"`
}

type Booking struct {
	ID             int64     `json:"id"`
	EventID        int64     `json:"event_id"`
	Quantity       int       `json:"quantity"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

type EventFilter struct {
	OnlyAvailable bool
}

// Matches reports whether e passes the filter.
func (f EventFilter) Matches(e Event) bool {
	return !f.OnlyAvailable || e.TicketsAvailable > 0
}

const (
	OutboxStatusNew       = "NEW"
	OutboxStatusPublished = "PUBLISHED"

	EventTypeEventCreated   = "event.created"
	EventTypeBookingCreated = "booking.created"
)

type OutboxMessage struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   int64
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string
	DedupeKey     string
}

func newOutboxMessage(aggregateType string, aggregateID int64, eventType string, body interface{}) (OutboxMessage, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return OutboxMessage{}, err
	}
	id := uuid.New()
	return OutboxMessage{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     time.Now().UTC(),
		Status:        OutboxStatusNew,
		DedupeKey:     id.String(),
	}, nil
}

func EventCreatedMessage(e Event) (OutboxMessage, error) {
	return newOutboxMessage("event", e.ID, EventTypeEventCreated, e)
}

// BookingCreated is the booking.created payload. TicketsAvailable is the
// event's availability right after this booking committed.
type BookingCreated struct {
	Booking          Booking `json:"booking"`
	EventID          int64   `json:"event_id"`
	TicketsAvailable int     `json:"tickets_available"`
}

func BookingCreatedMessage(b Booking, e Event) (OutboxMessage, error) {
	return newOutboxMessage("booking", b.ID, EventTypeBookingCreated, BookingCreated{
		Booking:          b,
		EventID:          e.ID,
		TicketsAvailable: e.TicketsAvailable,
	})
}
