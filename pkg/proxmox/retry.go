package proxmox

import (
	"context"
	"math/rand"
	"time"
)

const (
	retryBase       = 500 * time.Millisecond
	retryFactor     = 2
	retryCap        = 8 * time.Second
	retryMaxAttempt = 4
)

// backoff returns the delay before retry attempt n (1-indexed), capped and
// jittered by +/-20% to avoid synchronized retries across hosts.
func backoff(attempt int) time.Duration {
	d := retryBase
	for i := 1; i < attempt; i++ {
		d *= retryFactor
		if d > retryCap {
			d = retryCap
			break
		}
	}
	jitter := 0.2 - rand.Float64()*0.4
	return time.Duration(float64(d) * (1 + jitter))
}

// withRetry calls op up to retryMaxAttempt times, retrying only when op
// returns an error classified Retryable by pkg/ferrors. Non-retryable
// errors (AuthFailed, domain 4xx) return immediately on first failure.
func withRetry(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; attempt <= retryMaxAttempt; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		if !retryable(err) || attempt == retryMaxAttempt {
			return err
		}

		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
