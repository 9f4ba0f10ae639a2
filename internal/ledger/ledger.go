// Package ledger owns ticket availability and bookings. It guarantees that
// reservations never exceed an event's capacity and that a cancellation
// credits tickets back exactly once.
package ledger

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"github.com/robertarktes/event-ticketing/internal/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Store persists events and bookings. ReserveTickets and CancelBooking must
// each be a single atomic step with respect to every other call touching the
// same event.
type Store interface {
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	GetUser(ctx context.Context, id string) (domain.User, error)
	GetBooking(ctx context.Context, id string) (domain.Booking, error)
	ListBookings(ctx context.Context, filter domain.BookingFilter) ([]domain.Booking, error)
	// ReserveTickets debits b.Quantity from the event's available tickets and
	// stores b. It fails with domain.ErrInsufficientCapacity, leaving nothing
	// changed, when fewer than b.Quantity tickets remain.
	ReserveTickets(ctx context.Context, b domain.Booking) (domain.Event, error)
	// CancelBooking moves a confirmed booking to cancelled and credits its
	// quantity back to the event. domain.ErrInvalidState when the booking is
	// no longer confirmed.
	CancelBooking(ctx context.Context, id string, at time.Time) (domain.Booking, error)
}

// Notifier receives booking state changes after they are stored.
type Notifier interface {
	PublishBookingEvent(ctx context.Context, ev domain.BookingEvent) error
}

type Ledger struct {
	store    Store
	notifier Notifier
	clock    clock.Clock
	retry    retry.Policy
	logger   observability.Logger
	newID    func() string
	tracer   trace.Tracer
}

type Option func(*Ledger)

func WithNotifier(n Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

func WithClock(c clock.Clock) Option {
	return func(l *Ledger) { l.clock = c }
}

func WithLogger(logger observability.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithRetry sets how often a store conflict is retried and the first backoff.
func WithRetry(attempts int, base time.Duration) Option {
	return func(l *Ledger) {
		l.retry.Attempts = attempts
		l.retry.Base = base
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(l *Ledger) { l.newID = fn }
}

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:  store,
		clock:  clock.NewSystem(),
		retry:  retry.Policy{Attempts: 5, Base: 10 * time.Millisecond},
		logger: observability.NewNopLogger(),
		newID:  func() string { return uuid.NewString() },
		tracer: otel.Tracer("ledger"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Reserve books quantity tickets of an event for a user.
func (l *Ledger) Reserve(ctx context.Context, eventID, userID string, quantity int) (domain.Booking, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Reserve", trace.WithAttributes(
		attribute.String("event.id", eventID),
		attribute.Int("quantity", quantity),
	))
	defer span.End()

	var booking domain.Booking
	err := l.retryPolicy("reserve").Do(ctx, func(ctx context.Context) error {
		if quantity < 1 {
			return domain.Invalidf("quantity must be at least 1")
		}
		ev, err := l.store.GetEvent(ctx, eventID)
		if err != nil {
			return errors.Wrapf(err, "event %s", eventID)
		}
		if _, err := l.store.GetUser(ctx, userID); err != nil {
			return errors.Wrapf(err, "user %s", userID)
		}
		b, err := domain.NewBooking(l.newID(), ev, userID, quantity, l.clock.Now())
		if err != nil {
			return err
		}
		if quantity > ev.AvailableTickets {
			return domain.Errorf(domain.ErrInsufficientCapacity, "%d requested, %d available", quantity, ev.AvailableTickets)
		}

		start := time.Now()
		_, err = l.store.ReserveTickets(ctx, b)
		observability.StoreOpDuration.WithLabelValues("reserve").Observe(time.Since(start).Seconds())
		if err != nil {
			return err
		}
		booking = b
		return nil
	})
	observability.ReservationsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		recordError(span, err)
		return domain.Booking{}, err
	}

	span.SetAttributes(attribute.String("booking.id", booking.ID))
	l.logger.WithField("booking_id", booking.ID).WithField("event_id", eventID).Info("booking confirmed")
	l.publish(ctx, domain.BookingConfirmedEvent, booking)
	return booking, nil
}

// Cancel cancels a confirmed booking on behalf of its owner or an admin and
// returns tickets to the event. Cancelling an already cancelled booking
// succeeds without crediting anything.
func (l *Ledger) Cancel(ctx context.Context, bookingID string, p domain.Principal) (domain.Booking, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.Cancel", trace.WithAttributes(
		attribute.String("booking.id", bookingID),
	))
	defer span.End()

	var (
		booking  domain.Booking
		credited bool
	)
	err := l.retryPolicy("cancel").Do(ctx, func(ctx context.Context) error {
		b, err := l.store.GetBooking(ctx, bookingID)
		if err != nil {
			return errors.Wrapf(err, "booking %s", bookingID)
		}
		if !p.CanActFor(b.UserID) {
			return domain.Errorf(domain.ErrForbidden, "booking %s belongs to another user", bookingID)
		}
		switch b.Status {
		case domain.BookingCancelled:
			booking = b
			return nil
		case domain.BookingPending:
			return domain.Errorf(domain.ErrInvalidState, "booking %s is pending", bookingID)
		}

		start := time.Now()
		updated, err := l.store.CancelBooking(ctx, bookingID, l.clock.Now())
		observability.StoreOpDuration.WithLabelValues("cancel").Observe(time.Since(start).Seconds())
		if errors.Is(err, domain.ErrInvalidState) {
			// Someone moved it after our read; look again.
			return domain.Errorf(domain.ErrConcurrencyConflict, "booking %s changed while cancelling", bookingID)
		}
		if err != nil {
			return err
		}
		booking, credited = updated, true
		return nil
	})
	observability.CancellationsTotal.WithLabelValues(outcome(err)).Inc()
	if err != nil {
		recordError(span, err)
		return domain.Booking{}, err
	}

	span.SetAttributes(attribute.Bool("credited", credited))
	if credited {
		l.logger.WithField("booking_id", booking.ID).WithField("event_id", booking.EventID).Info("booking cancelled")
		l.publish(ctx, domain.BookingCancelledEvent, booking)
	}
	return booking, nil
}

// GetBooking returns a booking visible to p.
func (l *Ledger) GetBooking(ctx context.Context, bookingID string, p domain.Principal) (domain.Booking, error) {
	b, err := l.store.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, errors.Wrapf(err, "booking %s", bookingID)
	}
	if !p.CanActFor(b.UserID) {
		return domain.Booking{}, domain.Errorf(domain.ErrForbidden, "booking %s belongs to another user", bookingID)
	}
	return b, nil
}

// ListBookings lists bookings matching filter. Non-admins only ever see
// their own; asking for someone else's is forbidden.
func (l *Ledger) ListBookings(ctx context.Context, p domain.Principal, filter domain.BookingFilter) ([]domain.Booking, error) {
	if !p.IsAdmin() {
		if filter.UserID == "" {
			filter.UserID = p.UserID
		}
		if filter.UserID != p.UserID {
			return nil, domain.Errorf(domain.ErrForbidden, "bookings of user %s", filter.UserID)
		}
	}
	return l.store.ListBookings(ctx, filter)
}

func (l *Ledger) retryPolicy(op string) retry.Policy {
	p := l.retry
	p.OnRetry = func(attempt int, err error) {
		observability.LedgerRetries.WithLabelValues(op).Inc()
		l.logger.WithField("op", op).WithField("attempt", attempt).WithError(err).Debug("retrying after conflict")
	}
	return p
}

func (l *Ledger) publish(ctx context.Context, typ string, b domain.Booking) {
	if l.notifier == nil {
		return
	}
	if err := l.notifier.PublishBookingEvent(ctx, domain.NewBookingEvent(typ, b, l.clock.Now())); err != nil {
		observability.PublishFailures.Inc()
		l.logger.WithField("booking_id", b.ID).WithError(err).Warn("failed to publish " + typ)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	return string(domain.KindOf(err))
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(domain.KindOf(err)))
}
