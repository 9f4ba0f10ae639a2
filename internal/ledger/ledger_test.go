package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/adapters/memory"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/ledger"
)

var now = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store    *memory.Store
	ledger   *ledger.Ledger
	notifier *recordingNotifier
}

func newFixture(t *testing.T, capacity int, users ...string) fixture {
	t.Helper()
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.CreateEvent(ctx, domain.Event{
		ID: "e1", Title: "Show", Price: 12.5, Category: domain.CategoryArts,
		Capacity: capacity, AvailableTickets: capacity,
	}); err != nil {
		t.Fatal(err)
	}
	for _, u := range users {
		if err := store.CreateUser(ctx, domain.User{ID: u, Email: u + "@example.com", Role: domain.RoleUser}); err != nil {
			t.Fatal(err)
		}
	}
	n := &recordingNotifier{}
	l := ledger.New(store, ledger.WithClock(clock.NewFixed(now)), ledger.WithNotifier(n), ledger.WithRetry(5, time.Microsecond))
	return fixture{store: store, ledger: l, notifier: n}
}

func (f fixture) available(t *testing.T) int {
	t.Helper()
	e, err := f.store.GetEvent(context.Background(), "e1")
	if err != nil {
		t.Fatal(err)
	}
	if e.AvailableTickets < 0 || e.AvailableTickets > e.Capacity {
		t.Fatalf("availability %d outside [0, %d]", e.AvailableTickets, e.Capacity)
	}
	return e.AvailableTickets
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.BookingEvent
}

func (n *recordingNotifier) PublishBookingEvent(ctx context.Context, ev domain.BookingEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, ev)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.events))
	for i, ev := range n.events {
		out[i] = ev.Type
	}
	return out
}

func TestLedger_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("confirms and debits", func(t *testing.T) {
		f := newFixture(t, 10, "u1")
		b, err := f.ledger.Reserve(ctx, "e1", "u1", 3)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if b.Status != domain.BookingConfirmed || b.Quantity != 3 || b.TotalPrice != 37.5 {
			t.Errorf("unexpected booking %+v", b)
		}
		if !b.BookingDate.Equal(now) {
			t.Errorf("expected booking date %v, got %v", now, b.BookingDate)
		}
		if got := f.available(t); got != 7 {
			t.Errorf("expected 7 available, got %d", got)
		}
		if types := f.notifier.types(); len(types) != 1 || types[0] != domain.BookingConfirmedEvent {
			t.Errorf("expected one confirmed event, got %v", types)
		}
	})

	t.Run("insufficient capacity leaves counter unchanged", func(t *testing.T) {
		f := newFixture(t, 2, "u1")
		_, err := f.ledger.Reserve(ctx, "e1", "u1", 3)
		if !errors.Is(err, domain.ErrInsufficientCapacity) {
			t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
		}
		if got := f.available(t); got != 2 {
			t.Errorf("expected 2 available, got %d", got)
		}
		bookings, _ := f.store.ListBookings(ctx, domain.BookingFilter{})
		if len(bookings) != 0 {
			t.Errorf("expected no bookings, got %d", len(bookings))
		}
	})

	t.Run("unknown event", func(t *testing.T) {
		f := newFixture(t, 2, "u1")
		if _, err := f.ledger.Reserve(ctx, "nope", "u1", 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("unknown user", func(t *testing.T) {
		f := newFixture(t, 2)
		if _, err := f.ledger.Reserve(ctx, "e1", "ghost", 1); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
		if got := f.available(t); got != 2 {
			t.Errorf("expected 2 available, got %d", got)
		}
	})

	t.Run("invalid quantity", func(t *testing.T) {
		f := newFixture(t, 2, "u1")
		if _, err := f.ledger.Reserve(ctx, "e1", "u1", 0); !errors.Is(err, domain.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestLedger_ConcurrentReserveNeverOversells(t *testing.T) {
	const capacity, callers = 25, 100
	users := make([]string, callers)
	for i := range users {
		users[i] = "u" + string(rune('A'+i%26)) + string(rune('a'+i/26))
	}
	f := newFixture(t, capacity, users...)

	var (
		wg                sync.WaitGroup
		mu                sync.Mutex
		succeeded, failed int
	)
	for _, u := range users {
		wg.Add(1)
		go func(u string) {
			defer wg.Done()
			_, err := f.ledger.Reserve(context.Background(), "e1", u, 1)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, domain.ErrInsufficientCapacity):
				failed++
			default:
				t.Errorf("unexpected error %v", err)
			}
		}(u)
	}
	wg.Wait()

	if succeeded != capacity || failed != callers-capacity {
		t.Fatalf("expected %d successes and %d failures, got %d and %d", capacity, callers-capacity, succeeded, failed)
	}
	if got := f.available(t); got != 0 {
		t.Fatalf("expected 0 available, got %d", got)
	}
}

func TestLedger_Cancel(t *testing.T) {
	ctx := context.Background()
	owner := domain.Principal{UserID: "u1", Role: domain.RoleUser}

	t.Run("restores quantity once", func(t *testing.T) {
		f := newFixture(t, 10, "u1")
		b, err := f.ledger.Reserve(ctx, "e1", "u1", 4)
		if err != nil {
			t.Fatal(err)
		}

		cancelled, err := f.ledger.Cancel(ctx, b.ID, owner)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if cancelled.Status != domain.BookingCancelled || cancelled.Quantity != 4 {
			t.Errorf("unexpected booking %+v", cancelled)
		}
		if got := f.available(t); got != 10 {
			t.Errorf("expected 10 available, got %d", got)
		}

		again, err := f.ledger.Cancel(ctx, b.ID, owner)
		if err != nil {
			t.Fatalf("expected idempotent cancel, got %v", err)
		}
		if again.Status != domain.BookingCancelled {
			t.Errorf("expected cancelled, got %s", again.Status)
		}
		if got := f.available(t); got != 10 {
			t.Errorf("expected no double credit, got %d available", got)
		}
		if types := f.notifier.types(); len(types) != 2 || types[1] != domain.BookingCancelledEvent {
			t.Errorf("expected confirmed+cancelled events only, got %v", types)
		}
	})

	t.Run("forbidden for another user", func(t *testing.T) {
		f := newFixture(t, 10, "u1", "u2")
		b, err := f.ledger.Reserve(ctx, "e1", "u1", 2)
		if err != nil {
			t.Fatal(err)
		}
		_, err = f.ledger.Cancel(ctx, b.ID, domain.Principal{UserID: "u2", Role: domain.RoleUser})
		if !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("expected ErrForbidden, got %v", err)
		}
		stored, _ := f.store.GetBooking(ctx, b.ID)
		if stored.Status != domain.BookingConfirmed {
			t.Errorf("expected booking still confirmed, got %s", stored.Status)
		}
		if got := f.available(t); got != 8 {
			t.Errorf("expected 8 available, got %d", got)
		}
	})

	t.Run("admin may cancel any booking", func(t *testing.T) {
		f := newFixture(t, 10, "u1")
		b, err := f.ledger.Reserve(ctx, "e1", "u1", 2)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.Cancel(ctx, b.ID, domain.Principal{UserID: "root", Role: domain.RoleAdmin}); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if got := f.available(t); got != 10 {
			t.Errorf("expected 10 available, got %d", got)
		}
	})

	t.Run("pending is invalid state", func(t *testing.T) {
		f := newFixture(t, 10, "u1")
		pending := domain.Booking{ID: "p1", EventID: "e1", UserID: "u1", Quantity: 1, Status: domain.BookingPending}
		if _, err := f.store.ReserveTickets(ctx, pending); err != nil {
			t.Fatal(err)
		}
		if _, err := f.ledger.Cancel(ctx, "p1", owner); !errors.Is(err, domain.ErrInvalidState) {
			t.Fatalf("expected ErrInvalidState, got %v", err)
		}
	})

	t.Run("unknown booking", func(t *testing.T) {
		f := newFixture(t, 10, "u1")
		if _, err := f.ledger.Cancel(ctx, "missing", owner); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("concurrent cancels credit once", func(t *testing.T) {
		f := newFixture(t, 10, "u1")
		b, err := f.ledger.Reserve(ctx, "e1", "u1", 5)
		if err != nil {
			t.Fatal(err)
		}
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.ledger.Cancel(ctx, b.ID, owner); err != nil {
					t.Errorf("unexpected error %v", err)
				}
			}()
		}
		wg.Wait()
		if got := f.available(t); got != 10 {
			t.Fatalf("expected 10 available, got %d", got)
		}
	})
}

func TestLedger_CapacityScenario(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2, "u1", "u2")

	b1, err := f.ledger.Reserve(ctx, "e1", "u1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if got := f.available(t); got != 0 {
		t.Fatalf("expected 0 available, got %d", got)
	}
	if _, err := f.ledger.Reserve(ctx, "e1", "u2", 1); !errors.Is(err, domain.ErrInsufficientCapacity) {
		t.Fatalf("expected ErrInsufficientCapacity, got %v", err)
	}
	if _, err := f.ledger.Cancel(ctx, b1.ID, domain.Principal{UserID: "u1", Role: domain.RoleUser}); err != nil {
		t.Fatal(err)
	}
	if got := f.available(t); got != 2 {
		t.Fatalf("expected 2 available, got %d", got)
	}
	if _, err := f.ledger.Reserve(ctx, "e1", "u2", 1); err != nil {
		t.Fatalf("expected reservation to succeed, got %v", err)
	}
	if got := f.available(t); got != 1 {
		t.Fatalf("expected 1 available, got %d", got)
	}
}

func TestLedger_ListBookings(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 10, "u1", "u2")
	for _, u := range []string{"u1", "u1", "u2"} {
		if _, err := f.ledger.Reserve(ctx, "e1", u, 1); err != nil {
			t.Fatal(err)
		}
	}

	user := domain.Principal{UserID: "u1", Role: domain.RoleUser}
	own, err := f.ledger.ListBookings(ctx, user, domain.BookingFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(own) != 2 {
		t.Errorf("expected 2 own bookings, got %d", len(own))
	}

	if _, err := f.ledger.ListBookings(ctx, user, domain.BookingFilter{UserID: "u2"}); !errors.Is(err, domain.ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}

	all, err := f.ledger.ListBookings(ctx, domain.Principal{UserID: "root", Role: domain.RoleAdmin}, domain.BookingFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 bookings, got %d", len(all))
	}
}

// conflictingStore loses the first few races on purpose.
type conflictingStore struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
}

func (s *conflictingStore) ReserveTickets(ctx context.Context, b domain.Booking) (domain.Event, error) {
	s.mu.Lock()
	if s.conflicts > 0 {
		s.conflicts--
		s.mu.Unlock()
		return domain.Event{}, domain.ErrConcurrencyConflict
	}
	s.mu.Unlock()
	return s.Store.ReserveTickets(ctx, b)
}

func TestLedger_RetriesConflicts(t *testing.T) {
	ctx := context.Background()
	base := newFixture(t, 3, "u1")

	t.Run("succeeds after retries", func(t *testing.T) {
		store := &conflictingStore{Store: base.store, conflicts: 2}
		l := ledger.New(store, ledger.WithRetry(5, time.Microsecond))
		if _, err := l.Reserve(ctx, "e1", "u1", 1); err != nil {
			t.Fatalf("expected success after retries, got %v", err)
		}
		if got := base.available(t); got != 2 {
			t.Errorf("expected 2 available, got %d", got)
		}
	})

	t.Run("surfaces conflict when exhausted", func(t *testing.T) {
		store := &conflictingStore{Store: base.store, conflicts: 10}
		l := ledger.New(store, ledger.WithRetry(3, time.Microsecond))
		if _, err := l.Reserve(ctx, "e1", "u1", 1); !errors.Is(err, domain.ErrConcurrencyConflict) {
			t.Fatalf("expected ErrConcurrencyConflict, got %v", err)
		}
		if got := base.available(t); got != 2 {
			t.Errorf("expected 2 available, got %d", got)
		}
	})
}
