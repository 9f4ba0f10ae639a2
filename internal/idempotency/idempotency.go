// Package idempotency replays the stored response of a write request that
// is retried with the same Idempotency-Key.
package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
)

const MinKeyLength = 16

// ErrInFlight means an earlier request with the same key has not finished.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

type Response struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

type Store interface {
	Get(ctx context.Context, key string) (*Response, error)
	Set(ctx context.Context, key string, resp Response, ttl time.Duration) error
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type Idempotency struct {
	store   Store
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(store Store, ttl time.Duration) *Idempotency {
	return &Idempotency{store: store, ttl: ttl, lockTTL: 30 * time.Second}
}

// Key scopes a client key to the caller and the route so two users cannot
// replay each other's responses.
func Key(clientKey, userID, method, path string) (string, error) {
	if len(clientKey) < MinKeyLength {
		return "", domain.Invalidf("Idempotency-Key must be at least %d characters", MinKeyLength)
	}
	return userID + ":" + method + ":" + path + ":" + clientKey, nil
}

// Begin returns the stored response for key if there is one. Otherwise it
// claims the key; the caller must follow with Finish or Abort.
func (i *Idempotency) Begin(ctx context.Context, key string) (*Response, error) {
	resp, err := i.store.Get(ctx, key)
	if err != nil || resp != nil {
		return resp, err
	}
	ok, err := i.store.Acquire(ctx, key, i.lockTTL)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, errors.Mark(ErrInFlight, domain.ErrInvalidState)
	}

	// A request holding the claim may have finished between Get and Acquire.
	resp, err = i.store.Get(ctx, key)
	if err != nil || resp != nil {
		if rerr := i.store.Release(ctx, key); rerr != nil && err == nil {
			err = rerr
		}
		return resp, err
	}
	return nil, nil
}

// Finish stores resp and releases the claim. Server errors are not stored
// so the client can retry them.
func (i *Idempotency) Finish(ctx context.Context, key string, resp Response) error {
	if resp.Status < 500 {
		if err := i.store.Set(ctx, key, resp, i.ttl); err != nil {
			return err
		}
	}
	return i.store.Release(ctx, key)
}

func (i *Idempotency) Abort(ctx context.Context, key string) error {
	return i.store.Release(ctx, key)
}
