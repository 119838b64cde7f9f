package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/tigertix/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("audit_logs"),
		logger: logger,
	}
}

// AuditLog is one relayed domain event. ID is the broker MessageId, so a
// redelivered message overwrites its own document.
type AuditLog struct {
	ID          string    `bson:"_id"`
	Action      string    `bson:"action"`
	AggregateID int64     `bson:"aggregate_id,omitempty"`
	OccurredAt  time.Time `bson:"occurred_at"`
	RecordedAt  time.Time `bson:"recorded_at"`
	Data        bson.M    `bson:"data"`
}

func (a *AuditLogger) Record(ctx context.Context, entry AuditLog) error {
	if entry.ID == "" {
		return errors.New("audit entry without id")
	}
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}
	_, err := a.coll.ReplaceOne(ctx, bson.M{"_id": entry.ID}, entry, options.Replace().SetUpsert(true))
	if err != nil {
		a.logger.WithField("message_id", entry.ID).WithError(err).Error("failed to upsert audit log")
		return errors.Wrap(err, "upsert audit log")
	}
	return nil
}

func (a *AuditLogger) Get(ctx context.Context, id string) (*AuditLog, error) {
	var entry AuditLog
	err := a.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "get audit log")
	}
	return &entry, nil
}
