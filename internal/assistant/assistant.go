// Package assistant turns free text into booking proposals and confirms them
// through a reservation.Booker. It never touches inventory itself.
package assistant

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
	"github.com/robertarktes/tigertix/internal/reservation"
)

const helpMessage = "I can help you book tickets. Please say, e.g., 'Book two tickets for Jazz Night.'"

var confirmWords = regexp.MustCompile(`(?i)^(confirm|yes|y|ok|okay|go ahead)$`)

type Proposal struct {
	EventID   int64  `json:"eventId"`
	EventName string `json:"eventName,omitempty"`
	Quantity  int    `json:"quantity"`
	// IntentID is minted once per proposal and becomes the idempotency key
	// of the purchase that confirms it.
	IntentID string `json:"intentId,omitempty"`
}

type Reply struct {
	Message              string          `json:"message"`
	Parsed               *Parsed         `json:"parsed,omitempty"`
	Proposal             *Proposal       `json:"proposal,omitempty"`
	RequiresConfirmation bool            `json:"requires_confirmation"`
	Event                *domain.Event   `json:"event,omitempty"`
	Booking              *domain.Booking `json:"booking,omitempty"`
	From                 string          `json:"from,omitempty"`
}

type Assistant struct {
	booker reservation.Booker
	logger observability.Logger
}

func New(booker reservation.Booker, logger observability.Logger) *Assistant {
	return &Assistant{booker: booker, logger: logger}
}

func (a *Assistant) AvailableEvents(ctx context.Context) ([]domain.Event, error) {
	return a.booker.ListEvents(ctx, domain.EventFilter{OnlyAvailable: true})
}

// Propose answers one utterance. A bare confirmation word together with a
// prior proposal books that proposal directly.
func (a *Assistant) Propose(ctx context.Context, text string, prior *Proposal) (*Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.InvalidInput("text is required")
	}

	if confirmWords.MatchString(text) && prior != nil && prior.EventID > 0 && prior.Quantity > 0 {
		reply, err := a.Confirm(ctx, *prior)
		if err != nil {
			return nil, err
		}
		reply.From = "confirm-in-parse"
		return reply, nil
	}

	events, err := a.AvailableEvents(ctx)
	if err != nil {
		return nil, err
	}
	parsed := Parse(text, events)
	if parsed.Intent != IntentBook || parsed.EventID == nil {
		return &Reply{Message: helpMessage, Parsed: &parsed}, nil
	}

	target, err := a.booker.GetEvent(ctx, *parsed.EventID)
	if err != nil {
		return nil, err
	}
	if target.TicketsAvailable < parsed.Quantity {
		return nil, &domain.InsufficientInventoryError{
			EventID:   target.ID,
			Requested: parsed.Quantity,
			Available: target.TicketsAvailable,
		}
	}

	return &Reply{
		Message: fmt.Sprintf("Confirm booking %d ticket(s) for %q on %s?", parsed.Quantity, target.Name, target.Date),
		Parsed:  &parsed,
		Proposal: &Proposal{
			EventID:   target.ID,
			EventName: target.Name,
			Quantity:  parsed.Quantity,
			IntentID:  uuid.NewString(),
		},
		RequiresConfirmation: true,
	}, nil
}

// Confirm issues exactly one purchase for p. It is not retried here; a
// caller resending the same proposal reuses its IntentID and is deduplicated.
func (a *Assistant) Confirm(ctx context.Context, p Proposal) (*Reply, error) {
	if p.EventID < 1 {
		return nil, domain.InvalidInput("eventId must be a positive integer")
	}
	if p.Quantity < 1 {
		return nil, domain.InvalidInput("quantity must be at least 1")
	}
	if p.IntentID == "" {
		p.IntentID = uuid.NewString()
	}

	res, err := a.booker.Purchase(ctx, reservation.PurchaseRequest{
		EventID:        p.EventID,
		Quantity:       p.Quantity,
		IdempotencyKey: p.IntentID,
	})
	if err != nil {
		a.logger.WithField("event_id", p.EventID).WithField("intent_id", p.IntentID).WithError(err).Warn("booking confirmation failed")
		return nil, err
	}
	return &Reply{
		Message: "Booking confirmed",
		Event:   &res.Event,
		Booking: &res.Booking,
	}, nil
}
