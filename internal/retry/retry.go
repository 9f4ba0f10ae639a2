package retry

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

// Policy retries operations that lost an optimistic-concurrency race.
type Policy struct {
	Attempts int
	Base     time.Duration
	// OnRetry is called before each retry with the attempt number (1-based).
	OnRetry func(attempt int, err error)
}

// Do runs fn until it succeeds, fails with anything other than
// domain.ErrConcurrencyConflict, or the attempts run out. Backoff doubles.
func (p Policy) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		if i == attempts-1 {
			break
		}
		if p.OnRetry != nil {
			p.OnRetry(i+1, err)
		}
		backoff := time.Duration(1<<i) * p.Base
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case <-time.After(backoff):
		}
	}
	return errors.Wrapf(err, "gave up after %d attempts", attempts)
}
