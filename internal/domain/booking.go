package domain

import (
	"encoding/json"
	"math"
	"time"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCancelled:
		return true
	}
	return false
}

// CanTransition reports whether a booking may move from one status to another.
// cancelled is terminal.
func CanTransition(from, to BookingStatus) bool {
	switch from {
	case BookingPending:
		return to == BookingConfirmed
	case BookingConfirmed:
		return to == BookingCancelled
	}
	return false
}

// Booking is a user's claim on Quantity tickets of an event. Quantity and
// TotalPrice never change after creation; only Status moves.
type Booking struct {
	ID          string        `json:"id"`
	EventID     string        `json:"eventId"`
	UserID      string        `json:"userId"`
	Quantity    int           `json:"quantity"`
	TotalPrice  float64       `json:"totalPrice"`
	Status      BookingStatus `json:"status"`
	BookingDate time.Time     `json:"bookingDate"`
	CancelledAt *time.Time    `json:"cancelledAt,omitempty"`
}

// MarshalJSON also emits purchaseDate, the name the web client reads.
func (b Booking) MarshalJSON() ([]byte, error) {
	type plain Booking
	return json.Marshal(struct {
		plain
		PurchaseDate time.Time `json:"purchaseDate"`
	}{plain(b), b.BookingDate})
}

// NewBooking creates a confirmed booking with the event price snapshotted.
func NewBooking(id string, ev Event, userID string, quantity int, now time.Time) (Booking, error) {
	if quantity < 1 {
		return Booking{}, Invalidf("quantity must be at least 1")
	}
	if userID == "" {
		return Booking{}, Invalidf("userId is required")
	}
	return Booking{
		ID:          id,
		EventID:     ev.ID,
		UserID:      userID,
		Quantity:    quantity,
		TotalPrice:  math.Round(ev.Price*float64(quantity)*100) / 100,
		Status:      BookingConfirmed,
		BookingDate: now,
	}, nil
}

// Transition returns b moved to status to, or ErrInvalidState.
func (b Booking) Transition(to BookingStatus, now time.Time) (Booking, error) {
	if !CanTransition(b.Status, to) {
		return Booking{}, Errorf(ErrInvalidState, "booking %s cannot go from %s to %s", b.ID, b.Status, to)
	}
	b.Status = to
	if to == BookingCancelled {
		at := now
		b.CancelledAt = &at
	}
	return b, nil
}

// BookingFilter selects bookings. Empty fields match everything.
type BookingFilter struct {
	UserID  string
	EventID string
	Status  BookingStatus
}

func (f BookingFilter) Match(b Booking) bool {
	return (f.UserID == "" || f.UserID == b.UserID) &&
		(f.EventID == "" || f.EventID == b.EventID) &&
		(f.Status == "" || f.Status == b.Status)
}

const (
	BookingConfirmedEvent = "booking.confirmed"
	BookingCancelledEvent = "booking.cancelled"
)

// BookingEvent is published after a booking changes state.
type BookingEvent struct {
	Type       string        `json:"type"`
	BookingID  string        `json:"booking_id"`
	EventID    string        `json:"event_id"`
	UserID     string        `json:"user_id"`
	Quantity   int           `json:"quantity"`
	TotalPrice float64       `json:"total_price"`
	Status     BookingStatus `json:"status"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func NewBookingEvent(typ string, b Booking, at time.Time) BookingEvent {
	return BookingEvent{
		Type:       typ,
		BookingID:  b.ID,
		EventID:    b.EventID,
		UserID:     b.UserID,
		Quantity:   b.Quantity,
		TotalPrice: b.TotalPrice,
		Status:     b.Status,
		OccurredAt: at,
	}
}
