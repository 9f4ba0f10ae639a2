package mongo

import (
	"time"

	"github.com/robertarktes/event-ticketing/internal/domain"
)

type EventDoc struct {
	ID               string    `bson:"_id"`
	Title            string    `bson:"title"`
	Description      string    `bson:"description"`
	Date             time.Time `bson:"date"`
	Location         string    `bson:"location"`
	ImageURL         string    `bson:"imageUrl"`
	Price            float64   `bson:"price"`
	Category         string    `bson:"category"`
	Capacity         int       `bson:"capacity"`
	AvailableTickets int       `bson:"availableTickets"`
	CreatedBy        string    `bson:"createdBy,omitempty"`
	CreatedAt        time.Time `bson:"createdAt"`
	UpdatedAt        time.Time `bson:"updatedAt"`
}

type BookingDoc struct {
	ID          string     `bson:"_id"`
	EventID     string     `bson:"event"`
	UserID      string     `bson:"user"`
	Quantity    int        `bson:"quantity"`
	TotalPrice  float64    `bson:"totalPrice"`
	Status      string     `bson:"status"`
	BookingDate time.Time  `bson:"bookingDate"`
	CancelledAt *time.Time `bson:"cancelledAt,omitempty"`
}

type UserDoc struct {
	ID        string    `bson:"_id"`
	Name      string    `bson:"name"`
	Email     string    `bson:"email"`
	Password  string    `bson:"password"`
	Role      string    `bson:"role"`
	CreatedAt time.Time `bson:"createdAt"`
}

func toEventDoc(e domain.Event) EventDoc {
	return EventDoc{
		ID:               e.ID,
		Title:            e.Title,
		Description:      e.Description,
		Date:             e.Date,
		Location:         e.Location,
		ImageURL:         e.ImageURL,
		Price:            e.Price,
		Category:         string(e.Category),
		Capacity:         e.Capacity,
		AvailableTickets: e.AvailableTickets,
		CreatedBy:        e.CreatedBy,
		CreatedAt:        e.CreatedAt,
		UpdatedAt:        e.UpdatedAt,
	}
}

func (d EventDoc) toDomain() domain.Event {
	return domain.Event{
		ID:               d.ID,
		Title:            d.Title,
		Description:      d.Description,
		Date:             d.Date.UTC(),
		Location:         d.Location,
		ImageURL:         d.ImageURL,
		Price:            d.Price,
		Category:         domain.Category(d.Category),
		Capacity:         d.Capacity,
		AvailableTickets: d.AvailableTickets,
		CreatedBy:        d.CreatedBy,
		CreatedAt:        d.CreatedAt.UTC(),
		UpdatedAt:        d.UpdatedAt.UTC(),
	}
}

func toBookingDoc(b domain.Booking) BookingDoc {
	return BookingDoc{
		ID:          b.ID,
		EventID:     b.EventID,
		UserID:      b.UserID,
		Quantity:    b.Quantity,
		TotalPrice:  b.TotalPrice,
		Status:      string(b.Status),
		BookingDate: b.BookingDate,
		CancelledAt: b.CancelledAt,
	}
}

func (d BookingDoc) toDomain() domain.Booking {
	b := domain.Booking{
		ID:          d.ID,
		EventID:     d.EventID,
		UserID:      d.UserID,
		Quantity:    d.Quantity,
		TotalPrice:  d.TotalPrice,
		Status:      domain.BookingStatus(d.Status),
		BookingDate: d.BookingDate.UTC(),
	}
	if d.CancelledAt != nil {
		at := d.CancelledAt.UTC()
		b.CancelledAt = &at
	}
	return b
}

func toUserDoc(u domain.User) UserDoc {
	return UserDoc{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Password:  u.PasswordHash,
		Role:      string(u.Role),
		CreatedAt: u.CreatedAt,
	}
}

func (d UserDoc) toDomain() domain.User {
	return domain.User{
		ID:           d.ID,
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.Password,
		Role:         domain.Role(d.Role),
		CreatedAt:    d.CreatedAt.UTC(),
	}
}
