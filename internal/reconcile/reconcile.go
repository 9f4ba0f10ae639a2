// Package reconcile compares each event's ticket counter with the sum of its
// confirmed bookings. It only reports: repairing a counter while
// reservations are running could oversell.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
	"golang.org/x/sync/errgroup"
)

type Store interface {
	ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, error)
	ConfirmedQuantity(ctx context.Context, eventID string) (int, error)
}

// Drift describes an event whose counter disagrees with its bookings.
// Delta is AvailableTickets minus the expected value: positive means
// tickets were over-credited, negative means they were lost.
//
// The counter and the bookings are read at different moments, so a
// reservation in flight can show up as a one-off drift. Persistent is set
// when the previous Check saw the same delta for the event.
type Drift struct {
	EventID    string
	Capacity   int
	Available  int
	Confirmed  int
	Delta      int
	Persistent bool
}

type Reconciler struct {
	store       Store
	logger      observability.Logger
	concurrency int

	mu   sync.Mutex
	last map[string]int
}

func New(store Store, logger observability.Logger) *Reconciler {
	return &Reconciler{store: store, logger: logger, concurrency: 8, last: map[string]int{}}
}

// Check inspects every event once and returns the ones that drifted. Only
// persistent drifts are logged as warnings and exported on the gauge.
func (r *Reconciler) Check(ctx context.Context) ([]Drift, error) {
	events, err := r.store.ListEvents(ctx, domain.EventFilter{})
	if err != nil {
		return nil, errors.Wrap(err, "list events")
	}

	var (
		mu     sync.Mutex
		drifts []Drift
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, ev := range events {
		ev := ev
		g.Go(func() error {
			confirmed, err := r.store.ConfirmedQuantity(gctx, ev.ID)
			if err != nil {
				return errors.Wrapf(err, "confirmed quantity for event %s", ev.ID)
			}
			delta := ev.AvailableTickets - (ev.Capacity - confirmed)
			if delta == 0 {
				observability.AvailabilityDrift.WithLabelValues(ev.ID).Set(0)
				return nil
			}
			mu.Lock()
			drifts = append(drifts, Drift{
				EventID:   ev.ID,
				Capacity:  ev.Capacity,
				Available: ev.AvailableTickets,
				Confirmed: confirmed,
				Delta:     delta,
			})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	seen := make(map[string]int, len(drifts))
	for i := range drifts {
		d := &drifts[i]
		prev, ok := r.last[d.EventID]
		d.Persistent = ok && prev == d.Delta
		seen[d.EventID] = d.Delta
	}
	r.last = seen
	r.mu.Unlock()

	for _, d := range drifts {
		entry := r.logger.WithField("event_id", d.EventID).
			WithField("available", d.Available).
			WithField("confirmed", d.Confirmed).
			WithField("capacity", d.Capacity).
			WithField("delta", d.Delta)
		if !d.Persistent {
			entry.Debug("availability drift seen once; rechecking next tick")
			continue
		}
		observability.AvailabilityDrift.WithLabelValues(d.EventID).Set(float64(d.Delta))
		entry.Warn("availability drift detected")
	}
	return drifts, nil
}

// Run checks on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			drifts, err := r.Check(ctx)
			if err != nil {
				r.logger.WithError(err).Error("reconciliation failed")
				continue
			}
			r.logger.WithField("drifted", len(drifts)).Debug("reconciliation finished")
		}
	}
}
