// Package retry re-runs idempotent reads against flaky backends.
//
// Writes must not go through here unless they are guarded by a uniqueness
// constraint: a timed-out INSERT may have committed.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stadiumpark/parking/internal/domain"
)

type Policy struct {
	MaxRetries      uint64
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

var DefaultPolicy = Policy{
	MaxRetries:      2,
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     500 * time.Millisecond,
}

// businessErrors are answers, not failures; retrying them cannot help.
var businessErrors = []error{
	domain.ErrCapacityExceeded,
	domain.ErrCapacityBelowCommitted,
	domain.ErrHoldNotFound,
	domain.ErrHoldExpired,
	domain.ErrDuplicateExternalSession,
	domain.ErrReservationNotFound,
	domain.ErrInventoryNotFound,
	domain.ErrEventNotFound,
	domain.ErrLotNotFound,
	domain.ErrNotOnSale,
	domain.ErrInPersonDisabled,
	domain.ErrInvalidMetadata,
	domain.ErrInvalidInput,
	context.Canceled,
	context.DeadlineExceeded,
}

func Transient(err error) bool {
	if err == nil {
		return false
	}
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}

// Read calls op until it succeeds, returns a non-transient error, the
// policy's retries run out, or ctx is done.
func Read[T any](ctx context.Context, p Policy, op func(context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.MaxElapsedTime = 0

	return backoff.RetryWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !Transient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithContext(backoff.WithMaxRetries(b, p.MaxRetries), ctx))
}
