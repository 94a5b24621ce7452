package phidias

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryPolicy bounds the per-page retry loop.
type RetryPolicy struct {
	// MaxRetries is the number of attempts after the first one.
	MaxRetries uint64
	BaseDelay  time.Duration
	// MaxDelay caps a single wait, Retry-After included. Zero means no cap.
	MaxDelay time.Duration
	// AttemptTimeout bounds each request. Zero means no per-attempt bound.
	AttemptTimeout time.Duration
}

// RetryingClient wraps a Client with per-attempt timeouts and exponential
// backoff for ErrUnavailable and ErrRateLimited. Other errors are returned
// at once.
type RetryingClient struct {
	next   Client
	policy RetryPolicy
}

func NewRetryingClient(next Client, policy RetryPolicy) *RetryingClient {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 100 * time.Millisecond
	}
	return &RetryingClient{next: next, policy: policy}
}

func (c *RetryingClient) FetchStudents(ctx context.Context, req PageRequest) (*Page, error) {
	return c.do(ctx, func(ctx context.Context) (*Page, error) {
		return c.next.FetchStudents(ctx, req)
	})
}

func (c *RetryingClient) FetchTracking(ctx context.Context, trackingID string, req PageRequest) (*Page, error) {
	return c.do(ctx, func(ctx context.Context) (*Page, error) {
		return c.next.FetchTracking(ctx, trackingID, req)
	})
}

func (c *RetryingClient) do(ctx context.Context, fetch func(context.Context) (*Page, error)) (*Page, error) {
	var (
		page *Page
		hint time.Duration
	)

	backoff := c.backoff(&hint)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := c.attemptContext(ctx)
		defer cancel()

		p, err := fetch(attemptCtx)
		if err == nil {
			page = p
			return nil
		}

		// An attempt timing out while the run is still alive is an
		// upstream failure.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = &StatusError{Err: ErrUnavailable}
		}
		if !Retryable(err) {
			return err
		}

		var se *StatusError
		if errors.As(err, &se) {
			hint = se.RetryAfter
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

func (c *RetryingClient) attemptContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.policy.AttemptTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.policy.AttemptTimeout)
}

// backoff is exponential with jitter, stretched to honor a Retry-After
// hint left by the previous attempt.
func (c *RetryingClient) backoff(hint *time.Duration) retry.Backoff {
	b := retry.NewExponential(c.policy.BaseDelay)
	b = retry.WithJitterPercent(20, b)
	if c.policy.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.policy.MaxDelay, b)
	}
	b = retry.WithMaxRetries(c.policy.MaxRetries, b)

	return retry.BackoffFunc(func() (time.Duration, bool) {
		d, stop := b.Next()
		if stop {
			return 0, true
		}
		if *hint > d {
			d = *hint
			if c.policy.MaxDelay > 0 && d > c.policy.MaxDelay {
				d = c.policy.MaxDelay
			}
		}
		*hint = 0
		return d, false
	})
}
