package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_request_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	ReservationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_reservations_total",
			Help: "Reserve calls by outcome",
		},
		[]string{"outcome"},
	)

	CancellationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_cancellations_total",
			Help: "Cancel calls by outcome",
		},
		[]string{"outcome"},
	)

	LedgerRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_ledger_retries_total",
			Help: "Operations retried after a concurrency conflict",
		},
		[]string{"op"},
	)

	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ticketing_store_op_seconds",
			Help:    "Duration of ledger store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	PublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_publish_failures_total",
			Help: "Booking events that could not be published",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ticketing_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	AvailabilityDrift = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ticketing_availability_drift",
			Help: "availableTickets minus (capacity - confirmed quantity), per event",
		},
		[]string{"event_id"},
	)

	AuditEventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ticketing_audit_events_total",
			Help: "Booking events handled by the audit consumer",
		},
		[]string{"result"},
	)
)
