// Package catalog manages event metadata. Ticket availability is only ever
// shifted alongside capacity here; reservations go through the ledger.
package catalog

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-ticketing/internal/clock"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/retry"
)

type Store interface {
	CreateEvent(ctx context.Context, e domain.Event) error
	GetEvent(ctx context.Context, id string) (domain.Event, error)
	ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error)
	// ReplaceEvent stores next only if capacity and availability still match
	// prev, otherwise domain.ErrConcurrencyConflict.
	ReplaceEvent(ctx context.Context, prev, next domain.Event) error
	// DeleteEvent refuses with domain.ErrInvalidState while tickets are sold.
	DeleteEvent(ctx context.Context, id string) error
}

type Service struct {
	store Store
	clock clock.Clock
	retry retry.Policy
}

func NewService(store Store, clk clock.Clock) *Service {
	return &Service{
		store: store,
		clock: clk,
		retry: retry.Policy{Attempts: 5, Base: 10 * time.Millisecond},
	}
}

func (s *Service) ListEvents(ctx context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, domain.Invalidf("unknown category %q", filter.Category)
	}
	return s.store.ListEvents(ctx, filter)
}

func (s *Service) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	e, err := s.store.GetEvent(ctx, id)
	if err != nil {
		return domain.Event{}, errors.Wrapf(err, "event %s", id)
	}
	return e, nil
}

func (s *Service) CreateEvent(ctx context.Context, in domain.EventInput, createdBy string) (domain.Event, error) {
	e, err := domain.NewEvent(uuid.NewString(), in, createdBy, s.clock.Now())
	if err != nil {
		return domain.Event{}, err
	}
	if err := s.store.CreateEvent(ctx, e); err != nil {
		return domain.Event{}, errors.Wrap(err, "create event")
	}
	return e, nil
}

func (s *Service) UpdateEvent(ctx context.Context, id string, u domain.EventUpdate) (domain.Event, error) {
	var updated domain.Event
	err := s.retry.Do(ctx, func(ctx context.Context) error {
		cur, err := s.store.GetEvent(ctx, id)
		if err != nil {
			return errors.Wrapf(err, "event %s", id)
		}
		next, err := cur.Apply(u, s.clock.Now())
		if err != nil {
			return err
		}
		if err := s.store.ReplaceEvent(ctx, cur, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	return updated, err
}

func (s *Service) DeleteEvent(ctx context.Context, id string) error {
	return errors.Wrapf(s.store.DeleteEvent(ctx, id), "event %s", id)
}
