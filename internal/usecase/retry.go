package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gateway-reconciler/internal/domain"
)

// RetryPolicy bounds the optimistic-lock retry loop around a reconciliation step.
type RetryPolicy struct {
	MaxAttempts int
	Initial     time.Duration
	Max         time.Duration
	// OnConflict, when set, is called before each backoff with the failed attempt number.
	OnConflict func(attempt int, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 5, Initial: 50 * time.Millisecond, Max: 2 * time.Second}
}

// Retry runs fn until it succeeds or returns an error other than domain.ErrStaleObject.
// Conflicts are retried with exponential backoff; when attempts run out the last
// conflict is returned wrapped in domain.ErrRetriesExhausted.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	delay := p.Initial

	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx)
		if err == nil || !errors.Is(err, domain.ErrStaleObject) {
			return err
		}
		if attempt >= attempts {
			break
		}
		if p.OnConflict != nil {
			p.OnConflict(attempt, err)
		}
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			delay *= 2
			if p.Max > 0 && delay > p.Max {
				delay = p.Max
			}
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", domain.ErrRetriesExhausted, attempts, err)
}
