package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/event-ticketing/internal/adapters/memory"
	"github.com/robertarktes/event-ticketing/internal/catalog"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/idempotency"
	"github.com/robertarktes/event-ticketing/internal/identity"
	"github.com/robertarktes/event-ticketing/internal/ledger"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"golang.org/x/crypto/bcrypt"
)

type testAPI struct {
	t      *testing.T
	router *chi.Mux
}

type options struct {
	limiter Limiter
	idemp   Replayer
}

func newTestAPI(t *testing.T, opts options) *testAPI {
	t.Helper()
	store := memory.NewStore()
	clk := clock.NewFixed(time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC))
	logger := observability.NewNopLogger()

	ids := identity.NewService(store, identity.Config{
		Secret:           "test-secret",
		TokenTTL:         time.Hour,
		BcryptCost:       bcrypt.MinCost,
		AllowAdminSignup: true,
	}, clk)
	h := NewHandlers(
		catalog.NewService(store, clk),
		ids,
		ledger.New(store, ledger.WithClock(clk), ledger.WithLogger(logger)),
		map[string]Check{"store": func(context.Context) error { return nil }},
		logger,
	)
	return &testAPI{t: t, router: SetupRouter(h, ids, logger, opts.limiter, opts.idemp)}
}

func (a *testAPI) do(method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) register(name, email, role string) identity.Session {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/users/register", "", map[string]string{
		"name": name, "email": email, "password": "secret123", "role": role,
	})
	if rec.Code != http.StatusCreated {
		a.t.Fatalf("register %s: expected 201, got %d: %s", email, rec.Code, rec.Body)
	}
	var s identity.Session
	decode(a.t, rec, &s)
	return s
}

func (a *testAPI) createEvent(adminToken string, capacity int) domain.Event {
	a.t.Helper()
	rec := a.do(http.MethodPost, "/api/events", adminToken, map[string]interface{}{
		"title": "Jazz Night", "description": "Live quartet", "date": "2025-07-01T20:00",
		"location": "Blue Room", "price": 12.5, "category": "Music", "capacity": capacity,
		"availableTickets": 9999,
	})
	if rec.Code != http.StatusCreated {
		a.t.Fatalf("create event: expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var ev domain.Event
	decode(a.t, rec, &ev)
	return ev
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", rec.Body, err)
	}
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) domain.Kind {
	t.Helper()
	var e errorResponse
	decode(t, rec, &e)
	if e.Error == "" {
		t.Errorf("error response without message: %s", rec.Body)
	}
	return e.Code
}

func TestAPI_BookingFlow(t *testing.T) {
	api := newTestAPI(t, options{})
	admin := api.register("Admin", "admin@example.com", "admin")
	alice := api.register("Alice", "alice@example.com", "")
	bob := api.register("Bob", "bob@example.com", "")

	ev := api.createEvent(admin.Token, 2)
	if ev.AvailableTickets != 2 || ev.Capacity != 2 {
		t.Fatalf("expected availability derived from capacity, got %+v", ev)
	}

	rec := api.do(http.MethodPost, "/api/bookings", alice.Token, map[string]interface{}{"eventId": ev.ID, "quantity": 2})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}
	var booking bookingView
	decode(t, rec, &booking)
	if booking.Status != domain.BookingConfirmed || booking.TotalPrice != 25 || booking.UserID != alice.User.ID {
		t.Errorf("unexpected booking %+v", booking)
	}
	if booking.Event == nil || booking.Event.AvailableTickets != 0 || booking.User == nil || booking.User.Email != "alice@example.com" {
		t.Errorf("expected embedded event and user, got %+v", booking)
	}
	if !booking.PurchaseDate.Equal(booking.BookingDate) {
		t.Errorf("purchaseDate must mirror bookingDate")
	}

	rec = api.do(http.MethodPost, "/api/bookings", bob.Token, map[string]interface{}{"eventId": ev.ID, "quantity": 1})
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != domain.KindInsufficientCapacity {
		t.Fatalf("expected 400 insufficient_capacity, got %d: %s", rec.Code, rec.Body)
	}

	rec = api.do(http.MethodDelete, "/api/bookings/"+booking.ID, bob.Token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's booking, got %d", rec.Code)
	}

	for i := 0; i < 2; i++ {
		rec = api.do(http.MethodDelete, "/api/bookings/"+booking.ID, alice.Token, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("cancel %d: expected 200, got %d: %s", i, rec.Code, rec.Body)
		}
	}

	rec = api.do(http.MethodGet, "/api/events/"+ev.ID, "", nil)
	var got domain.Event
	decode(t, rec, &got)
	if got.AvailableTickets != 2 {
		t.Fatalf("expected tickets credited once, got %d available", got.AvailableTickets)
	}

	rec = api.do(http.MethodPost, "/api/bookings", bob.Token, map[string]interface{}{"eventId": ev.ID, "quantity": 1})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 after cancellation, got %d: %s", rec.Code, rec.Body)
	}
}

func TestAPI_Bookings(t *testing.T) {
	api := newTestAPI(t, options{})
	admin := api.register("Admin", "admin@example.com", "admin")
	alice := api.register("Alice", "alice@example.com", "")
	bob := api.register("Bob", "bob@example.com", "")
	ev := api.createEvent(admin.Token, 10)

	rec := api.do(http.MethodPost, "/api/bookings", alice.Token, map[string]interface{}{"eventId": ev.ID, "quantity": 1})
	var booking bookingView
	decode(t, rec, &booking)

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   interface{}
		status int
		code   domain.Kind
	}{
		{"own list", http.MethodGet, "/api/bookings", alice.Token, nil, http.StatusOK, ""},
		{"own list by path", http.MethodGet, "/api/bookings/user/" + alice.User.ID, alice.Token, nil, http.StatusOK, ""},
		{"other user's list", http.MethodGet, "/api/bookings/user/" + alice.User.ID, bob.Token, nil, http.StatusForbidden, domain.KindForbidden},
		{"other user's list by query", http.MethodGet, "/api/bookings?userId=" + alice.User.ID, bob.Token, nil, http.StatusForbidden, domain.KindForbidden},
		{"admin list", http.MethodGet, "/api/bookings?userId=" + alice.User.ID, admin.Token, nil, http.StatusOK, ""},
		{"get own", http.MethodGet, "/api/bookings/" + booking.ID, alice.Token, nil, http.StatusOK, ""},
		{"get other's", http.MethodGet, "/api/bookings/" + booking.ID, bob.Token, nil, http.StatusForbidden, domain.KindForbidden},
		{"get missing", http.MethodGet, "/api/bookings/missing", alice.Token, nil, http.StatusNotFound, domain.KindNotFound},
		{"cancel missing", http.MethodDelete, "/api/bookings/missing", alice.Token, nil, http.StatusNotFound, domain.KindNotFound},
		{"book for someone else", http.MethodPost, "/api/bookings", bob.Token, map[string]interface{}{"eventId": ev.ID, "userId": alice.User.ID, "quantity": 1}, http.StatusForbidden, domain.KindForbidden},
		{"admin books for user", http.MethodPost, "/api/bookings", admin.Token, map[string]interface{}{"eventId": ev.ID, "userId": bob.User.ID, "quantity": 1}, http.StatusCreated, ""},
		{"zero quantity", http.MethodPost, "/api/bookings", bob.Token, map[string]interface{}{"eventId": ev.ID, "quantity": 0}, http.StatusBadRequest, domain.KindInvalidInput},
		{"unknown event", http.MethodPost, "/api/bookings", bob.Token, map[string]interface{}{"eventId": "nope", "quantity": 1}, http.StatusNotFound, domain.KindNotFound},
		{"bad status filter", http.MethodGet, "/api/bookings?status=lost", alice.Token, nil, http.StatusBadRequest, domain.KindInvalidInput},
		{"no token", http.MethodGet, "/api/bookings", "", nil, http.StatusUnauthorized, domain.KindUnauthenticated},
		{"bad token", http.MethodGet, "/api/bookings", "not-a-jwt", nil, http.StatusUnauthorized, domain.KindUnauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(tt.method, tt.path, tt.token, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body)
			}
			if tt.code != "" {
				if got := errorCode(t, rec); got != tt.code {
					t.Errorf("expected code %s, got %s", tt.code, got)
				}
			}
		})
	}

	rec = api.do(http.MethodGet, "/api/bookings", alice.Token, nil)
	var list []bookingView
	decode(t, rec, &list)
	if len(list) != 1 || list[0].ID != booking.ID {
		t.Errorf("expected only alice's booking, got %+v", list)
	}
}

func TestAPI_Events(t *testing.T) {
	api := newTestAPI(t, options{})
	admin := api.register("Admin", "admin@example.com", "admin")
	alice := api.register("Alice", "alice@example.com", "")
	ev := api.createEvent(admin.Token, 5)

	rec := api.do(http.MethodPost, "/api/events", alice.Token, map[string]interface{}{"title": "x"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
	}

	rec = api.do(http.MethodGet, "/api/events?category=Music", "", nil)
	var events []domain.Event
	decode(t, rec, &events)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	rec = api.do(http.MethodGet, "/api/events?category=Opera", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown category, got %d", rec.Code)
	}

	if rec := api.do(http.MethodPost, "/api/bookings", alice.Token, map[string]interface{}{"eventId": ev.ID, "quantity": 3}); rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body)
	}

	rec = api.do(http.MethodPut, "/api/events/"+ev.ID, admin.Token, map[string]interface{}{"capacity": 2})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != domain.KindInvalidState {
		t.Fatalf("expected 409 shrinking below sold, got %d: %s", rec.Code, rec.Body)
	}

	rec = api.do(http.MethodPut, "/api/events/"+ev.ID, admin.Token, map[string]interface{}{"capacity": 8, "title": "Late Jazz"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}
	var updated domain.Event
	decode(t, rec, &updated)
	if updated.Capacity != 8 || updated.AvailableTickets != 5 || updated.Title != "Late Jazz" {
		t.Errorf("unexpected event %+v", updated)
	}

	rec = api.do(http.MethodDelete, "/api/events/"+ev.ID, admin.Token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 deleting an event with sales, got %d", rec.Code)
	}

	empty := api.createEvent(admin.Token, 3)
	if rec := api.do(http.MethodDelete, "/api/events/"+empty.ID, admin.Token, nil); rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/api/events/"+empty.ID, "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAPI_Users(t *testing.T) {
	api := newTestAPI(t, options{})
	alice := api.register("Alice", "alice@example.com", "")

	rec := api.do(http.MethodPost, "/api/users/register", "", map[string]string{"name": "A", "email": "alice@example.com", "password": "secret123"})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != domain.KindAlreadyExists {
		t.Fatalf("expected 409 already_exists, got %d: %s", rec.Code, rec.Body)
	}

	rec = api.do(http.MethodPost, "/api/users/login", "", map[string]string{"email": "alice@example.com", "password": "wrong-pass"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	rec = api.do(http.MethodPost, "/api/users/login", "", map[string]string{"email": "alice@example.com", "password": "secret123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/users/profile", nil)
	req.Header.Set("x-auth-token", alice.Token)
	out := httptest.NewRecorder()
	api.router.ServeHTTP(out, req)
	if out.Code != http.StatusOK {
		t.Fatalf("expected 200 with x-auth-token, got %d", out.Code)
	}
	if bytes.Contains(out.Body.Bytes(), []byte("password")) {
		t.Errorf("profile leaked password material: %s", out.Body)
	}

	rec = api.do(http.MethodPost, "/api/users/register", "", []byte("{"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed body, got %d", rec.Code)
	}
}

type memReplayStore struct {
	mu    sync.Mutex
	resp  map[string]idempotency.Response
	locks map[string]bool
}

func (m *memReplayStore) Get(ctx context.Context, key string) (*idempotency.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.resp[key]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *memReplayStore) Set(ctx context.Context, key string, resp idempotency.Response, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resp[key] = resp
	return nil
}

func (m *memReplayStore) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locks[key] {
		return false, nil
	}
	m.locks[key] = true
	return true, nil
}

func (m *memReplayStore) Release(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, key)
	return nil
}

func TestAPI_IdempotentBooking(t *testing.T) {
	store := &memReplayStore{resp: map[string]idempotency.Response{}, locks: map[string]bool{}}
	api := newTestAPI(t, options{idemp: idempotency.NewIdempotency(store, time.Hour)})
	admin := api.register("Admin", "admin@example.com", "admin")
	alice := api.register("Alice", "alice@example.com", "")
	ev := api.createEvent(admin.Token, 10)

	body := map[string]interface{}{"eventId": ev.ID, "quantity": 2}
	first := api.do(http.MethodPost, "/api/bookings", alice.Token, body, "Idempotency-Key", "booking-key-0001")
	second := api.do(http.MethodPost, "/api/bookings", alice.Token, body, "Idempotency-Key", "booking-key-0001")
	if first.Code != http.StatusCreated || second.Code != http.StatusCreated {
		t.Fatalf("expected 201 twice, got %d and %d", first.Code, second.Code)
	}
	if second.Header().Get("Idempotent-Replayed") != "true" {
		t.Errorf("expected replay header")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("expected identical bodies:\n%s\n%s", first.Body, second.Body)
	}

	rec := api.do(http.MethodGet, "/api/events/"+ev.ID, "", nil)
	var got domain.Event
	decode(t, rec, &got)
	if got.AvailableTickets != 8 {
		t.Fatalf("expected a single debit, got %d available", got.AvailableTickets)
	}

	rec = api.do(http.MethodPost, "/api/bookings", alice.Token, body, "Idempotency-Key", "short")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for short key, got %d", rec.Code)
	}
}

type denyLimiter struct{ err error }

func (d denyLimiter) Allow(ctx context.Context, key string) (bool, error) {
	return false, d.err
}

func TestAPI_RateLimit(t *testing.T) {
	api := newTestAPI(t, options{limiter: denyLimiter{}})
	rec := api.do(http.MethodGet, "/api/events", "", nil)
	if rec.Code != http.StatusTooManyRequests || errorCode(t, rec) != domain.KindRateLimited {
		t.Fatalf("expected 429 rate_limited, got %d: %s", rec.Code, rec.Body)
	}
	if rec := api.do(http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("health checks are not rate limited, got %d", rec.Code)
	}
	if rec := api.do(http.MethodGet, "/readyz", "", nil); rec.Code != http.StatusOK {
		t.Errorf("expected ready, got %d", rec.Code)
	}
}

func TestAPI_RateLimiterFailureAllows(t *testing.T) {
	api := newTestAPI(t, options{limiter: denyLimiter{err: context.DeadlineExceeded}})
	if rec := api.do(http.MethodGet, "/api/events", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 when limiter is down, got %d", rec.Code)
	}
}
