package domain

import (
	"strings"
	"time"
)

type Category string

const (
	CategoryMusic    Category = "Music"
	CategorySports   Category = "Sports"
	CategoryArts     Category = "Arts"
	CategoryBusiness Category = "Business"
	CategoryFood     Category = "Food"
	CategoryOther    Category = "Other"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryMusic, CategorySports, CategoryArts, CategoryBusiness, CategoryFood, CategoryOther:
		return true
	}
	return false
}

const (
	DefaultCapacity = 100
	DefaultImageURL = "https://via.placeholder.com/150"
)

// Event is a ticketed occurrence. AvailableTickets is owned by the reservation
// ledger; catalog edits only ever shift it together with Capacity.
type Event struct {
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Description      string    `json:"description"`
	Date             time.Time `json:"date"`
	Location         string    `json:"location"`
	ImageURL         string    `json:"imageUrl"`
	Price            float64   `json:"price"`
	Category         Category  `json:"category"`
	Capacity         int       `json:"capacity"`
	AvailableTickets int       `json:"availableTickets"`
	CreatedBy        string    `json:"createdBy,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Sold is the number of tickets held by confirmed bookings.
func (e Event) Sold() int {
	return e.Capacity - e.AvailableTickets
}

type EventInput struct {
	Title       string
	Description string
	Date        time.Time
	Location    string
	ImageURL    string
	Price       float64
	Category    Category
	Capacity    *int
}

// EventUpdate carries the fields an admin may change. Nil means unchanged.
type EventUpdate struct {
	Title       *string
	Description *string
	Date        *time.Time
	Location    *string
	ImageURL    *string
	Price       *float64
	Category    *Category
	Capacity    *int
}

func NewEvent(id string, in EventInput, createdBy string, now time.Time) (Event, error) {
	capacity := DefaultCapacity
	if in.Capacity != nil {
		capacity = *in.Capacity
	}
	imageURL := in.ImageURL
	if imageURL == "" {
		imageURL = DefaultImageURL
	}
	e := Event{
		ID:               id,
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		Date:             in.Date,
		Location:         in.Location,
		ImageURL:         imageURL,
		Price:            in.Price,
		Category:         in.Category,
		Capacity:         capacity,
		AvailableTickets: capacity,
		CreatedBy:        createdBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := e.validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// Apply returns e with u applied. A capacity change moves AvailableTickets by
// the same delta; capacity can never drop below the tickets already sold.
func (e Event) Apply(u EventUpdate, now time.Time) (Event, error) {
	next := e
	if u.Title != nil {
		next.Title = strings.TrimSpace(*u.Title)
	}
	if u.Description != nil {
		next.Description = *u.Description
	}
	if u.Date != nil {
		next.Date = *u.Date
	}
	if u.Location != nil {
		next.Location = *u.Location
	}
	if u.ImageURL != nil {
		next.ImageURL = *u.ImageURL
	}
	if u.Price != nil {
		next.Price = *u.Price
	}
	if u.Category != nil {
		next.Category = *u.Category
	}
	if u.Capacity != nil && *u.Capacity != e.Capacity {
		if *u.Capacity < e.Sold() {
			return Event{}, Errorf(ErrInvalidState, "capacity %d is below %d tickets already sold", *u.Capacity, e.Sold())
		}
		next.AvailableTickets += *u.Capacity - e.Capacity
		next.Capacity = *u.Capacity
	}
	if err := next.validate(); err != nil {
		return Event{}, err
	}
	next.UpdatedAt = now
	return next, nil
}

func (e Event) validate() error {
	switch {
	case e.Title == "":
		return Invalidf("title is required")
	case e.Description == "":
		return Invalidf("description is required")
	case e.Date.IsZero():
		return Invalidf("date is required")
	case e.Location == "":
		return Invalidf("location is required")
	case e.Price < 0:
		return Invalidf("price must not be negative")
	case !e.Category.Valid():
		return Invalidf("unknown category %q", e.Category)
	case e.Capacity < 1:
		return Invalidf("capacity must be at least 1")
	case e.AvailableTickets < 0 || e.AvailableTickets > e.Capacity:
		return Errorf(ErrInvalidState, "available tickets %d outside [0, %d]", e.AvailableTickets, e.Capacity)
	}
	return nil
}

// EventFilter selects events. An empty Category matches all.
type EventFilter struct {
	Category Category
}

func (f EventFilter) Match(e Event) bool {
	return f.Category == "" || f.Category == e.Category
}
