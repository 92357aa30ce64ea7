package engine

import (
	"context"
	"math"
	"time"
)

// RetryPolicy controls how retryable errors are retried.
type RetryPolicy struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int

	// BaseDelay is the delay before the first retry. Throttled errors use
	// five times this value, conflicts twice.
	BaseDelay time.Duration

	// MaxDelay caps a single delay.
	MaxDelay time.Duration
}

// DefaultRetryPolicy retries three times starting at one second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   time.Minute,
	}
}

// RetryNotify is called before each retry.
type RetryNotify func(attempt int, err error, delay time.Duration)

// Retry runs fn until it succeeds, returns a non-retryable error, or the
// retries are used up. The last error is returned.
func (p RetryPolicy) Retry(ctx context.Context, fn func(ctx context.Context) error, notify RetryNotify) error {
	var err error
	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt >= p.MaxRetries {
			return err
		}

		delay := p.Backoff(attempt, err)
		if notify != nil {
			notify(attempt+1, err, delay)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return NewTransientError("retry cancelled", ctx.Err())
		}
	}
	return err
}

// Backoff returns the exponential delay before retry number attempt+1.
func (p RetryPolicy) Backoff(attempt int, err error) time.Duration {
	base := p.BaseDelay
	switch {
	case IsThrottled(err):
		base *= 5
	case IsConflict(err):
		base *= 2
	}

	delay := base * time.Duration(math.Pow(2, float64(attempt)))
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}
