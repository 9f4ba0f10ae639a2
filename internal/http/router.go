package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

// SetupRouter wires the API. rl and idemp may be nil, which disables rate
// limiting and idempotent replay.
func SetupRouter(h *Handlers, auth Authenticator, logger observability.Logger, rl Limiter, idemp Replayer) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	requireAuth := AuthMiddleware(auth)
	replay := func(r chi.Router) chi.Router { return r }
	if idemp != nil {
		replay = func(r chi.Router) chi.Router { return r.With(IdempotencyMiddleware(idemp)) }
	}

	r.Route("/api", func(r chi.Router) {
		if rl != nil {
			r.Use(RateLimitMiddleware(rl))
		}

		r.Route("/users", func(r chi.Router) {
			replay(r).Post("/register", h.Register)
			r.Post("/login", h.Login)
			r.With(requireAuth).Get("/profile", h.Profile)
		})

		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Get("/{id}", h.GetEvent)
			r.Group(func(r chi.Router) {
				r.Use(requireAuth, RequireAdmin)
				replay(r).Post("/", h.CreateEvent)
				r.Put("/{id}", h.UpdateEvent)
				r.Delete("/{id}", h.DeleteEvent)
			})
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Use(requireAuth)
			r.Get("/", h.ListBookings)
			r.Get("/user/{userId}", h.ListUserBookings)
			r.Get("/{id}", h.GetBooking)
			replay(r).Post("/", h.CreateBooking)
			r.Delete("/{id}", h.CancelBooking)
		})
	})

	return r
}
