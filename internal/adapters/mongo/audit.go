package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
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

type AuditLog struct {
	ID         string    `bson:"_id,omitempty"`
	Action     string    `bson:"action"`
	UserID     string    `bson:"user_id"`
	BookingID  string    `bson:"booking_id"`
	EventID    string    `bson:"event_id"`
	OccurredAt time.Time `bson:"occurred_at"`
	RecordedAt time.Time `bson:"recorded_at"`
	Data       bson.M    `bson:"data"`
}

// LogBookingEvent stores ev once. Redelivered messages hit the same _id and
// leave the first record in place.
func (a *AuditLogger) LogBookingEvent(ctx context.Context, ev domain.BookingEvent) error {
	id := ev.Type + ":" + ev.BookingID
	// _id comes from the upsert filter.
	log := AuditLog{
		Action:     ev.Type,
		UserID:     ev.UserID,
		BookingID:  ev.BookingID,
		EventID:    ev.EventID,
		OccurredAt: ev.OccurredAt,
		RecordedAt: time.Now().UTC(),
		Data: bson.M{
			"quantity":    ev.Quantity,
			"total_price": ev.TotalPrice,
			"status":      string(ev.Status),
		},
	}
	_, err := a.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$setOnInsert": log},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		a.logger.WithError(err).Error("failed to insert audit log")
		return errors.Wrap(err, "insert audit log")
	}
	return nil
}

func (a *AuditLogger) ListForBooking(ctx context.Context, bookingID string) ([]AuditLog, error) {
	cur, err := a.coll.Find(ctx, bson.M{"booking_id": bookingID}, options.Find().SetSort(bson.D{{Key: "occurred_at", Value: 1}}))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	var logs []AuditLog
	if err := cur.All(ctx, &logs); err != nil {
		return nil, errors.WithStack(err)
	}
	return logs, nil
}
