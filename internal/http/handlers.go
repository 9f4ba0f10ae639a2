package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/robertarktes/event-ticketing/internal/catalog"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/identity"
	"github.com/robertarktes/event-ticketing/internal/ledger"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// Check reports whether a dependency is ready to serve.
type Check func(ctx context.Context) error

type Handlers struct {
	catalog  *catalog.Service
	identity *identity.Service
	ledger   *ledger.Ledger
	checks   map[string]Check
	logger   observability.Logger
}

func NewHandlers(catalog *catalog.Service, identity *identity.Service, ledger *ledger.Ledger, checks map[string]Check, logger observability.Logger) *Handlers {
	return &Handlers{
		catalog:  catalog,
		identity: identity,
		ledger:   ledger,
		checks:   checks,
		logger:   logger,
	}
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name     string      `json:"name"`
		Email    string      `json:"email"`
		Password string      `json:"password"`
		Role     domain.Role `json:"role"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := h.identity.Register(r.Context(), identity.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	session, err := h.identity.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handlers) Profile(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	user, err := h.identity.Profile(r.Context(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (h *Handlers) ListEvents(w http.ResponseWriter, r *http.Request) {
	filter := domain.EventFilter{Category: domain.Category(r.URL.Query().Get("category"))}
	events, err := h.catalog.ListEvents(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handlers) GetEvent(w http.ResponseWriter, r *http.Request) {
	ev, err := h.catalog.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handlers) CreateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := PrincipalFrom(r.Context())
	ev, err := h.catalog.CreateEvent(r.Context(), req.input(), p.UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

func (h *Handlers) UpdateEvent(w http.ResponseWriter, r *http.Request) {
	var req eventRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	ev, err := h.catalog.UpdateEvent(r.Context(), chi.URLParam(r, "id"), req.update())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handlers) DeleteEvent(w http.ResponseWriter, r *http.Request) {
	if err := h.catalog.DeleteEvent(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	h.listBookings(w, r, r.URL.Query().Get("userId"))
}

func (h *Handlers) ListUserBookings(w http.ResponseWriter, r *http.Request) {
	h.listBookings(w, r, chi.URLParam(r, "userId"))
}

func (h *Handlers) listBookings(w http.ResponseWriter, r *http.Request, userID string) {
	p, _ := PrincipalFrom(r.Context())
	filter := domain.BookingFilter{
		UserID:  userID,
		EventID: r.URL.Query().Get("eventId"),
		Status:  domain.BookingStatus(r.URL.Query().Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, r, domain.Invalidf("unknown status %q", filter.Status))
		return
	}
	bookings, err := h.ledger.ListBookings(r.Context(), p, filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.bookingViews(r.Context(), bookings))
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	b, err := h.ledger.GetBooking(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.bookingViews(r.Context(), []domain.Booking{b})[0])
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req struct {
		EventID  string `json:"eventId"`
		UserID   string `json:"userId"`
		Quantity int    `json:"quantity"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, _ := PrincipalFrom(r.Context())
	if req.UserID == "" {
		req.UserID = p.UserID
	}
	if !p.CanActFor(req.UserID) {
		writeError(w, r, domain.Errorf(domain.ErrForbidden, "cannot book for user %s", req.UserID))
		return
	}
	if req.EventID == "" {
		writeError(w, r, domain.Invalidf("eventId is required"))
		return
	}

	b, err := h.ledger.Reserve(r.Context(), req.EventID, req.UserID, req.Quantity)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, h.bookingViews(r.Context(), []domain.Booking{b})[0])
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	p, _ := PrincipalFrom(r.Context())
	b, err := h.ledger.Cancel(r.Context(), chi.URLParam(r, "id"), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, h.bookingViews(r.Context(), []domain.Booking{b})[0])
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	failed := map[string]string{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			h.logger.WithField("dependency", name).WithError(err).Warn("readiness check failed")
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "unavailable", "failed": failed})
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

// bookingViews embeds each booking's event and owner. Lookups that fail
// leave the field out instead of failing the response.
func (h *Handlers) bookingViews(ctx context.Context, bookings []domain.Booking) []bookingView {
	events := map[string]*domain.Event{}
	users := map[string]*domain.PublicUser{}
	logger := observability.LoggerFrom(ctx, h.logger)

	out := make([]bookingView, 0, len(bookings))
	for _, b := range bookings {
		ev, ok := events[b.EventID]
		if !ok {
			if e, err := h.catalog.GetEvent(ctx, b.EventID); err == nil {
				ev = &e
			} else {
				logger.WithField("event_id", b.EventID).WithError(err).Debug("booking event lookup failed")
			}
			events[b.EventID] = ev
		}
		user, ok := users[b.UserID]
		if !ok {
			if u, err := h.identity.Profile(ctx, b.UserID); err == nil {
				user = &u
			} else {
				logger.WithField("user_id", b.UserID).WithError(err).Debug("booking user lookup failed")
			}
			users[b.UserID] = user
		}
		out = append(out, newBookingView(b, ev, user))
	}
	return out
}
