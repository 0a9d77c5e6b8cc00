package resilience

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/mkoskin/inflow/internal/errors"
)

// timeoutErr implements net.Error with Timeout() true.
type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func newTestCaller(trip int) (*Caller, *[]time.Duration) {
	reg := NewRegistry(trip, time.Minute)
	var slept []time.Duration
	c := &Caller{
		Service: "test_service",
		Breaker: reg.Get("test_service"),
		Policy: Policy{
			MaxRetries:    3,
			InitialDelay:  time.Second,
			MaxDelay:      30 * time.Second,
			BackoffFactor: 2.0,
		},
		Sleep: func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		},
	}
	return c, &slept
}

func TestRetryable(t *testing.T) {
	var nerr net.Error = timeoutErr{}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, false},
		{"net error", nerr, true},
		{"wrapped net error", fmt.Errorf("post: %w", nerr), true},
		{"http 429", &HTTPError{Status: 429}, true},
		{"http 500", &HTTPError{Status: 500}, true},
		{"http 503", &HTTPError{Status: 503}, true},
		{"http 400", &HTTPError{Status: 400}, false},
		{"http 401", &HTTPError{Status: 401}, false},
		{"http 404", &HTTPError{Status: 404}, false},
		{"unrecognized", fmt.Errorf("malformed payload"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Retryable(tt.err); got != tt.want {
				t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(context.DeadlineExceeded) {
		t.Error("DeadlineExceeded should be a timeout")
	}
	if !IsTimeout(fmt.Errorf("post: %w", timeoutErr{})) {
		t.Error("wrapped net timeout should be a timeout")
	}
	if IsTimeout(&HTTPError{Status: 500}) {
		t.Error("http 500 is not a timeout")
	}
	if IsTimeout(fmt.Errorf("other")) {
		t.Error("plain error is not a timeout")
	}
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{InitialDelay: time.Second, MaxDelay: 10 * time.Second, BackoffFactor: 2.0}

	tests := []struct {
		n    int
		want time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{6, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.n); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.n, got, tt.want)
		}
	}
}

func TestDo_RetriesThenSucceeds(t *testing.T) {
	c, slept := newTestCaller(10)

	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return &HTTPError{Status: 500}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
	if len(*slept) != 2 || (*slept)[0] != time.Second || (*slept)[1] != 2*time.Second {
		t.Errorf("slept = %v, want [1s 2s]", *slept)
	}
	if c.Breaker.State() != StateClosed {
		t.Errorf("breaker state = %s, want closed", c.Breaker.State())
	}
}

func TestDo_NonRetryableReturnsImmediately(t *testing.T) {
	c, slept := newTestCaller(10)

	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &HTTPError{Status: 400}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if len(*slept) != 0 {
		t.Errorf("slept = %v, want none", *slept)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	c, _ := newTestCaller(10)

	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return &HTTPError{Status: 503}
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	// Initial attempt plus MaxRetries
	if calls != 4 {
		t.Errorf("calls = %d, want 4", calls)
	}
}

func TestDo_RateLimitGetsExtraBackoff(t *testing.T) {
	c, slept := newTestCaller(10)

	calls := 0
	_ = c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		if calls == 1 {
			return &HTTPError{Status: 429}
		}
		return nil
	})

	// Schedule says 1s for the first retry; 429 doubles it
	if len(*slept) != 1 || (*slept)[0] != 2*time.Second {
		t.Errorf("slept = %v, want [2s]", *slept)
	}
}

func TestDo_OpenBreakerShortCircuits(t *testing.T) {
	c, _ := newTestCaller(2)

	// Trip the breaker
	for i := 0; i < 1; i++ {
		_ = c.Do(context.Background(), "op", func(ctx context.Context) error {
			return &HTTPError{Status: 400} // non-retryable, but 400 never counts
		})
	}
	if c.Breaker.State() != StateClosed {
		t.Fatalf("breaker state = %s, want closed after 400s", c.Breaker.State())
	}

	// Server errors do count
	_ = c.Do(context.Background(), "op", func(ctx context.Context) error {
		return &HTTPError{Status: 500}
	})
	if c.Breaker.State() != StateOpen {
		t.Fatalf("breaker state = %s, want open", c.Breaker.State())
	}

	// Short-circuit: fn never invoked
	calls := 0
	err := c.Do(context.Background(), "op", func(ctx context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, errors.ErrServiceUnavailable) {
		t.Fatalf("err = %v, want SERVICE_UNAVAILABLE", err)
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestDo_ClientErrorsDoNotTripBreaker(t *testing.T) {
	c, _ := newTestCaller(2)

	for i := 0; i < 5; i++ {
		_ = c.Do(context.Background(), "op", func(ctx context.Context) error {
			return &HTTPError{Status: 404}
		})
	}
	if c.Breaker.State() != StateClosed {
		t.Errorf("breaker state = %s, want closed", c.Breaker.State())
	}
}
