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

const writeConflictCode = 112

// creditTimeout bounds a credit that must complete even after the caller's
// context is done, or the counter stays debited with no booking behind it.
const creditTimeout = 5 * time.Second

// Store keeps events, bookings and users in three collections. Every ticket
// counter change is a single-document conditional update.
type Store struct {
	events   *mongo.Collection
	bookings *mongo.Collection
	users    *mongo.Collection
	logger   observability.Logger
}

func NewStore(db *mongo.Database, logger observability.Logger) *Store {
	return &Store{
		events:   db.Collection("events"),
		bookings: db.Collection("bookings"),
		users:    db.Collection("users"),
		logger:   logger,
	}
}

func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return errors.Wrap(err, "users.email index")
	}
	if _, err := s.bookings.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "user", Value: 1}, {Key: "bookingDate", Value: -1}}},
		{Keys: bson.D{{Key: "event", Value: 1}, {Key: "status", Value: 1}}},
	}); err != nil {
		return errors.Wrap(err, "bookings indexes")
	}
	if _, err := s.events.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "category", Value: 1}, {Key: "date", Value: 1}},
	}); err != nil {
		return errors.Wrap(err, "events index")
	}
	return nil
}

func (s *Store) CreateEvent(ctx context.Context, e domain.Event) error {
	_, err := s.events.InsertOne(ctx, toEventDoc(e))
	if err != nil {
		s.logger.WithError(err).Error("failed to create event")
		return mapErr(err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	var doc EventDoc
	if err := s.events.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.Event{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	filter := bson.M{}
	if f.Category != "" {
		filter["category"] = string(f.Category)
	}
	cur, err := s.events.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "date", Value: 1}}))
	if err != nil {
		return nil, mapErr(err)
	}
	var docs []EventDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapErr(err)
	}
	out := make([]domain.Event, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

// ReplaceEvent is a compare-and-swap on the (capacity, availableTickets) pair.
func (s *Store) ReplaceEvent(ctx context.Context, prev, next domain.Event) error {
	res, err := s.events.ReplaceOne(ctx, bson.M{
		"_id":              prev.ID,
		"capacity":         prev.Capacity,
		"availableTickets": prev.AvailableTickets,
	}, toEventDoc(next))
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		if err := s.mustExist(ctx, s.events, prev.ID); err != nil {
			return err
		}
		return domain.Errorf(domain.ErrConcurrencyConflict, "event %s changed", prev.ID)
	}
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	res, err := s.events.DeleteOne(ctx, bson.M{
		"_id":   id,
		"$expr": bson.M{"$eq": bson.A{"$availableTickets", "$capacity"}},
	})
	if err != nil {
		return mapErr(err)
	}
	if res.DeletedCount == 0 {
		if err := s.mustExist(ctx, s.events, id); err != nil {
			return err
		}
		return domain.Errorf(domain.ErrInvalidState, "event %s has tickets sold", id)
	}
	return nil
}

// ReserveTickets debits the counter with a floor guard in one
// find-and-modify, then records the booking. A failed insert gives the
// tickets back.
func (s *Store) ReserveTickets(ctx context.Context, b domain.Booking) (domain.Event, error) {
	var doc EventDoc
	err := s.events.FindOneAndUpdate(ctx,
		bson.M{"_id": b.EventID, "availableTickets": bson.M{"$gte": b.Quantity}},
		bson.M{"$inc": bson.M{"availableTickets": -b.Quantity}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if err := s.mustExist(ctx, s.events, b.EventID); err != nil {
			return domain.Event{}, err
		}
		return domain.Event{}, domain.Errorf(domain.ErrInsufficientCapacity, "event %s: %d requested", b.EventID, b.Quantity)
	}
	if err != nil {
		return domain.Event{}, mapErr(err)
	}

	if _, err := s.bookings.InsertOne(ctx, toBookingDoc(b)); err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), creditTimeout)
		defer cancel()
		if cerr := s.credit(cctx, b.EventID, b.Quantity); cerr != nil {
			s.logger.WithField("event_id", b.EventID).WithField("quantity", b.Quantity).WithError(cerr).
				Error("failed to return tickets after booking insert failed")
		}
		return domain.Event{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

// CancelBooking flips confirmed to cancelled with a status guard; only the
// caller that wins the flip credits the event.
func (s *Store) CancelBooking(ctx context.Context, id string, at time.Time) (domain.Booking, error) {
	var doc BookingDoc
	err := s.bookings.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": string(domain.BookingConfirmed)},
		bson.M{"$set": bson.M{"status": string(domain.BookingCancelled), "cancelledAt": at}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if err := s.mustExist(ctx, s.bookings, id); err != nil {
			return domain.Booking{}, err
		}
		return domain.Booking{}, domain.Errorf(domain.ErrInvalidState, "booking %s is not confirmed", id)
	}
	if err != nil {
		return domain.Booking{}, mapErr(err)
	}

	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), creditTimeout)
	defer cancel()
	var creditErr error
	for i := 0; i < 3; i++ {
		if creditErr = s.credit(cctx, doc.EventID, doc.Quantity); creditErr == nil {
			break
		}
		select {
		case <-cctx.Done():
		case <-time.After(time.Duration(1<<i) * 50 * time.Millisecond):
			continue
		}
		break
	}
	if creditErr != nil {
		// The booking is cancelled; the reconciler reports the missing tickets.
		s.logger.WithField("booking_id", id).WithField("event_id", doc.EventID).WithError(creditErr).
			Error("failed to credit tickets for cancelled booking")
	}
	return doc.toDomain(), nil
}

func (s *Store) credit(ctx context.Context, eventID string, quantity int) error {
	res, err := s.events.UpdateOne(ctx,
		bson.M{
			"_id":   eventID,
			"$expr": bson.M{"$lte": bson.A{bson.M{"$add": bson.A{"$availableTickets", quantity}}, "$capacity"}},
		},
		bson.M{"$inc": bson.M{"availableTickets": quantity}},
	)
	if err != nil {
		return mapErr(err)
	}
	if res.MatchedCount == 0 {
		s.logger.WithField("event_id", eventID).WithField("quantity", quantity).
			Warn("credit skipped: event missing or already at capacity")
	}
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	var doc BookingDoc
	if err := s.bookings.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.Booking{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	filter := bson.M{}
	if f.UserID != "" {
		filter["user"] = f.UserID
	}
	if f.EventID != "" {
		filter["event"] = f.EventID
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	cur, err := s.bookings.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "bookingDate", Value: -1}}))
	if err != nil {
		return nil, mapErr(err)
	}
	var docs []BookingDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapErr(err)
	}
	out := make([]domain.Booking, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (s *Store) ConfirmedQuantity(ctx context.Context, eventID string) (int, error) {
	cur, err := s.bookings.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"event": eventID, "status": string(domain.BookingConfirmed)}}},
		{{Key: "$group", Value: bson.M{"_id": nil, "total": bson.M{"$sum": "$quantity"}}}},
	})
	if err != nil {
		return 0, mapErr(err)
	}
	var rows []struct {
		Total int `bson:"total"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return 0, mapErr(err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	if _, err := s.users.InsertOne(ctx, toUserDoc(u)); err != nil {
		return errors.Wrapf(mapErr(err), "user %s", u.Email)
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	var doc UserDoc
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return domain.User{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	var doc UserDoc
	if err := s.users.FindOne(ctx, bson.M{"email": email}).Decode(&doc); err != nil {
		return domain.User{}, mapErr(err)
	}
	return doc.toDomain(), nil
}

func (s *Store) mustExist(ctx context.Context, coll *mongo.Collection, id string) error {
	n, err := coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func mapErr(err error) error {
	var se mongo.ServerError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return domain.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return errors.Mark(errors.WithStack(err), domain.ErrAlreadyExists)
	case errors.As(err, &se) && (se.HasErrorCode(writeConflictCode) || se.HasErrorLabel("TransientTransactionError")):
		return errors.Mark(errors.WithStack(err), domain.ErrConcurrencyConflict)
	}
	return errors.WithStack(err)
}
