package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/mkoskin/inflow/internal/errors"
)

// HTTPError carries a non-2xx response through the retry layer so the
// classifier can decide on the status code.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d: %s", e.Status, e.Body)
}

// Policy is the retry schedule for one outbound service.
type Policy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// Delay returns the backoff before retry n (1-based), capped at MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	d := p.InitialDelay
	for i := 1; i < n; i++ {
		d = time.Duration(float64(d) * p.BackoffFactor)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Caller wraps outbound calls to one service with retries and the
// service's circuit breaker.
type Caller struct {
	Service string
	Breaker *Breaker
	Policy  Policy
	Log     *slog.Logger

	// Sleep is overridable in tests. Defaults to a context-aware sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Do invokes fn, retrying transient failures per the policy. A tripped
// breaker short-circuits with a service-unavailable error without
// invoking fn. The last error is returned when retries are exhausted.
func (c *Caller) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	sleep := c.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var err error
	for attempt := 1; attempt <= c.Policy.MaxRetries+1; attempt++ {
		if !c.Breaker.Allow() {
			return errors.NewServiceUnavailable(c.Service)
		}

		err = fn(ctx)
		if err == nil {
			c.Breaker.Success()
			return nil
		}

		if countsAgainstBreaker(err) {
			c.Breaker.Failure()
		}

		if !Retryable(err) || attempt > c.Policy.MaxRetries {
			return err
		}

		delay := c.Policy.Delay(attempt)
		// Rate limits get an extra backoff step on top of the schedule.
		if isRateLimited(err) {
			delay = time.Duration(float64(delay) * c.Policy.BackoffFactor)
			if delay > c.Policy.MaxDelay {
				delay = c.Policy.MaxDelay
			}
		}

		if c.Log != nil {
			c.Log.Warn("retrying call",
				"service", c.Service, "op", op,
				"attempt", attempt, "delay", delay, "error", err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

// Retryable classifies an error as worth retrying: timeouts, connection
// failures, rate limits and server errors. Client errors and anything
// unrecognized are permanent.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if stderrors.Is(err, context.Canceled) {
		return false
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		if httpErr.Status == 429 {
			return true
		}
		return httpErr.Status >= 500
	}

	return false
}

// IsTimeout reports whether the error is a timeout. Timeouts are the one
// failure mode where the remote side may have acted, so callers treat
// them differently from plain failures.
func IsTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// countsAgainstBreaker excludes client errors from tripping the circuit:
// a 4xx means the service is healthy and the request was wrong.
func countsAgainstBreaker(err error) bool {
	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return httpErr.Status >= 500 || httpErr.Status == 429
	}
	return true
}

func isRateLimited(err error) bool {
	var httpErr *HTTPError
	return stderrors.As(err, &httpErr) && httpErr.Status == 429
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
