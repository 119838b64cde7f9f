package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/tigertix/internal/domain"
	"github.com/robertarktes/tigertix/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// CatalogRepository is a read-side projection of events built from the
// relayed event stream. It is eventually consistent with the inventory store
// and never used to decide a purchase.
type CatalogRepository struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		coll:   db.Collection("events"),
		logger: logger,
	}
}

type EventDoc struct {
	ID               int64     `bson:"_id"`
	Name             string    `bson:"name"`
	Date             string    `bson:"date"`
	TotalTickets     int       `bson:"total_tickets"`
	TicketsAvailable int       `bson:"tickets_available"`
	UpdatedAt        time.Time `bson:"updated_at"`
}

// UpsertEvent records a created event. Bookings applied before it arrived
// keep their lower availability.
func (c *CatalogRepository) UpsertEvent(ctx context.Context, ev domain.Event) error {
	update := bson.M{
		"$set": bson.M{
			"name":          ev.Name,
			"date":          ev.Date,
			"total_tickets": ev.TotalTickets,
			"updated_at":    time.Now().UTC(),
		},
		"$min": bson.M{"tickets_available": ev.TicketsAvailable},
	}
	_, err := c.coll.UpdateOne(ctx, bson.M{"_id": ev.ID}, update, options.Update().SetUpsert(true))
	if err != nil {
		c.logger.WithField("event_id", ev.ID).WithError(err).Error("failed to upsert catalog event")
		return errors.Wrap(err, "upsert catalog event")
	}
	return nil
}

// ApplyBooking folds a booking.created message into the projection.
// Availability only moves down, so $min makes redelivered and out-of-order
// messages converge.
func (c *CatalogRepository) ApplyBooking(ctx context.Context, b domain.BookingCreated) error {
	update := bson.M{
		"$min": bson.M{"tickets_available": b.TicketsAvailable},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	}
	_, err := c.coll.UpdateOne(ctx, bson.M{"_id": b.EventID}, update, options.Update().SetUpsert(true))
	if err != nil {
		c.logger.WithField("event_id", b.EventID).WithError(err).Error("failed to apply booking to catalog")
		return errors.Wrap(err, "apply booking to catalog")
	}
	return nil
}
