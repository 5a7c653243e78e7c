// Package retry unifies the exchange client's retry loops into a single
// policy object, per the "ad-hoc retry loops" redesign note: one
// {max_retries, base_delay, classifier} used by the historical fetch.
// The stream's reconnect loop uses its own fixed delay.
package retry

import (
	"context"
	"math"
	"time"

	"candlecache/internal/errs"
)

// Policy is a reusable exponential-backoff retry policy. Delay for
// attempt N is BaseDelay * 2^N, matching the original service's
// `2 ** attempt` seconds backoff.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Classify   func(error) errs.Kind
}

// DefaultClassify returns the kind err is tagged with; an untagged error
// is classified as errs.KindTransient and so is retried. Every other
// tagged kind fails without retry.
func DefaultClassify(err error) errs.Kind {
	if err == nil {
		return errs.KindUnknown
	}
	k := errs.KindOf(err)
	if k == errs.KindUnknown {
		return errs.KindTransient
	}
	return k
}

// New builds a Policy with the given max retries and base delay, using
// DefaultClassify.
func New(maxRetries int, baseDelay time.Duration) Policy {
	return Policy{MaxRetries: maxRetries, BaseDelay: baseDelay, Classify: DefaultClassify}
}

// Delay returns the backoff delay before retry attempt N (1-indexed).
func (p Policy) Delay(attempt int) time.Duration {
	return time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
}

// Do runs fn, retrying on transient errors up to MaxRetries times with
// exponential backoff. Permanent errors fail immediately. The last
// error is returned if all retries are exhausted.
func (p Policy) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	classify := p.Classify
	if classify == nil {
		classify = DefaultClassify
	}

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if classify(err) != errs.KindTransient {
			return err
		}
		if attempt == p.MaxRetries {
			break
		}

		select {
		case <-time.After(p.Delay(attempt + 1)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return lastErr
}
