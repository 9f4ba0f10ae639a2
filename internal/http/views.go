package http

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/robertarktes/event-ticketing/internal/domain"
)

type bookingView struct {
	ID           string               `json:"id"`
	EventID      string               `json:"eventId"`
	UserID       string               `json:"userId"`
	Quantity     int                  `json:"quantity"`
	TotalPrice   float64              `json:"totalPrice"`
	Status       domain.BookingStatus `json:"status"`
	BookingDate  time.Time            `json:"bookingDate"`
	PurchaseDate time.Time            `json:"purchaseDate"`
	CancelledAt  *time.Time           `json:"cancelledAt,omitempty"`
	Event        *domain.Event        `json:"event,omitempty"`
	User         *domain.PublicUser   `json:"user,omitempty"`
}

func newBookingView(b domain.Booking, ev *domain.Event, user *domain.PublicUser) bookingView {
	return bookingView{
		ID:           b.ID,
		EventID:      b.EventID,
		UserID:       b.UserID,
		Quantity:     b.Quantity,
		TotalPrice:   b.TotalPrice,
		Status:       b.Status,
		BookingDate:  b.BookingDate,
		PurchaseDate: b.BookingDate,
		CancelledAt:  b.CancelledAt,
		Event:        ev,
		User:         user,
	}
}

// eventRequest is the body of POST and PUT /api/events. availableTickets is
// not accepted; it is derived from capacity.
type eventRequest struct {
	Title       *string          `json:"title"`
	Description *string          `json:"description"`
	Date        *eventDate       `json:"date"`
	Location    *string          `json:"location"`
	ImageURL    *string          `json:"imageUrl"`
	Price       *float64         `json:"price"`
	Category    *domain.Category `json:"category"`
	Capacity    *int             `json:"capacity"`
}

func (r eventRequest) input() domain.EventInput {
	in := domain.EventInput{Capacity: r.Capacity}
	if r.Title != nil {
		in.Title = *r.Title
	}
	if r.Description != nil {
		in.Description = *r.Description
	}
	if r.Date != nil {
		in.Date = time.Time(*r.Date)
	}
	if r.Location != nil {
		in.Location = *r.Location
	}
	if r.ImageURL != nil {
		in.ImageURL = *r.ImageURL
	}
	if r.Price != nil {
		in.Price = *r.Price
	}
	if r.Category != nil {
		in.Category = *r.Category
	}
	return in
}

func (r eventRequest) update() domain.EventUpdate {
	u := domain.EventUpdate{
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		ImageURL:    r.ImageURL,
		Price:       r.Price,
		Category:    r.Category,
		Capacity:    r.Capacity,
	}
	if r.Date != nil {
		d := time.Time(*r.Date)
		u.Date = &d
	}
	return u
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04", "2006-01-02"}

// eventDate accepts RFC 3339 timestamps as well as the date and
// datetime-local values HTML forms produce.
type eventDate time.Time

func (d *eventDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return domain.Invalidf("date must be a string")
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			*d = eventDate(t.UTC())
			return nil
		}
	}
	return domain.Invalidf("unrecognised date %q", s)
}
