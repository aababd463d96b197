package model

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds how often a provider error is retried.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries twice with a short exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     2 * time.Second,
	}
}

// ErrPermanent marks provider errors that must not be retried. Wrap it with
// fmt.Errorf("...: %w", ErrPermanent) in adapters.
var ErrPermanent = errors.New("permanent model error")

// CompleteWithRetry calls Complete, retrying provider errors with exponential
// backoff up to policy.MaxRetries times. Context errors and ErrPermanent are
// returned immediately. It reports the number of attempts made.
func CompleteWithRetry(ctx context.Context, m Model, req Request, policy RetryPolicy) (*Response, int, error) {
	eb := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		eb.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		eb.MaxInterval = policy.MaxInterval
	}
	eb.MaxElapsedTime = 0

	retries := policy.MaxRetries
	if retries < 0 {
		retries = 0
	}

	var (
		resp     *Response
		attempts int
	)
	op := func() error {
		attempts++
		r, err := Complete(ctx, m, req)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrPermanent) {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return nil, attempts, err
	}
	return resp, attempts, nil
}
