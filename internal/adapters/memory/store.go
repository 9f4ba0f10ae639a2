// Package memory is an in-process store. Each event has its own mutex held
// across the read-check-write of its ticket counter.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robertarktes/event-ticketing/internal/domain"
)

type Store struct {
	mu       sync.RWMutex
	events   map[string]domain.Event
	bookings map[string]domain.Booking
	users    map[string]domain.User
	emails   map[string]string
	locks    map[string]*sync.Mutex
}

func NewStore() *Store {
	return &Store{
		events:   make(map[string]domain.Event),
		bookings: make(map[string]domain.Booking),
		users:    make(map[string]domain.User),
		emails:   make(map[string]string),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) eventLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Store) CreateEvent(ctx context.Context, e domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[e.ID]; ok {
		return domain.Errorf(domain.ErrAlreadyExists, "event %s", e.ID)
	}
	s.events[e.ID] = e
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[id]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	return e, nil
}

func (s *Store) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Event{}
	for _, e := range s.events {
		if f.Match(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (s *Store) ReplaceEvent(ctx context.Context, prev, next domain.Event) error {
	l := s.eventLock(prev.ID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.events[prev.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Capacity != prev.Capacity || cur.AvailableTickets != prev.AvailableTickets {
		return domain.Errorf(domain.ErrConcurrencyConflict, "event %s changed", prev.ID)
	}
	s.events[prev.ID] = next
	return nil
}

func (s *Store) DeleteEvent(ctx context.Context, id string) error {
	l := s.eventLock(id)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	if e.Sold() > 0 {
		return domain.Errorf(domain.ErrInvalidState, "event %s has %d tickets sold", id, e.Sold())
	}
	delete(s.events, id)
	return nil
}

func (s *Store) ReserveTickets(ctx context.Context, b domain.Booking) (domain.Event, error) {
	l := s.eventLock(b.EventID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.events[b.EventID]
	if !ok {
		return domain.Event{}, domain.ErrNotFound
	}
	if e.AvailableTickets < b.Quantity {
		return domain.Event{}, domain.Errorf(domain.ErrInsufficientCapacity, "%d requested, %d available", b.Quantity, e.AvailableTickets)
	}
	e.AvailableTickets -= b.Quantity
	s.events[e.ID] = e
	s.bookings[b.ID] = b
	return e, nil
}

func (s *Store) CancelBooking(ctx context.Context, id string, at time.Time) (domain.Booking, error) {
	s.mu.RLock()
	b, ok := s.bookings[id]
	s.mu.RUnlock()
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}

	l := s.eventLock(b.EventID)
	l.Lock()
	defer l.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	b = s.bookings[id]
	next, err := b.Transition(domain.BookingCancelled, at)
	if err != nil {
		return domain.Booking{}, err
	}
	if e, ok := s.events[b.EventID]; ok {
		e.AvailableTickets += b.Quantity
		if e.AvailableTickets > e.Capacity {
			return domain.Booking{}, domain.Errorf(domain.ErrInvalidState, "event %s would exceed capacity", e.ID)
		}
		s.events[e.ID] = e
	}
	s.bookings[id] = next
	return next, nil
}

func (s *Store) GetBooking(ctx context.Context, id string) (domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, domain.ErrNotFound
	}
	return b, nil
}

func (s *Store) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []domain.Booking{}
	for _, b := range s.bookings {
		if f.Match(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BookingDate.After(out[j].BookingDate) })
	return out, nil
}

func (s *Store) ConfirmedQuantity(ctx context.Context, eventID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := 0
	for _, b := range s.bookings {
		if b.EventID == eventID && b.Status == domain.BookingConfirmed {
			total += b.Quantity
		}
	}
	return total, nil
}

func (s *Store) CreateUser(ctx context.Context, u domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := strings.ToLower(u.Email)
	if _, ok := s.emails[email]; ok {
		return domain.Errorf(domain.ErrAlreadyExists, "user %s", u.Email)
	}
	s.users[u.ID] = u
	s.emails[email] = u.ID
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emails[strings.ToLower(email)]
	if !ok {
		return domain.User{}, domain.ErrNotFound
	}
	return s.users[id], nil
}
