package resilience

import (
	"testing"
	"time"
)

// testClock is an adjustable clock for breaker tests.
type testClock struct {
	t time.Time
}

func (c *testClock) now() time.Time          { return c.t }
func (c *testClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreaker(trip int, recovery time.Duration) (*Breaker, *testClock) {
	clock := &testClock{t: time.Unix(1700000000, 0)}
	reg := NewRegistryWithClock(trip, recovery, clock.now)
	return reg.Get("test_service"), clock
}

func TestBreaker_TripsAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	if b.State() != StateClosed {
		t.Fatalf("initial state = %s, want closed", b.State())
	}

	b.Failure()
	b.Failure()
	if b.State() != StateClosed {
		t.Fatalf("state after 2 failures = %s, want closed", b.State())
	}
	if !b.Allow() {
		t.Fatal("Allow() = false while closed")
	}

	b.Failure()
	if b.State() != StateOpen {
		t.Fatalf("state after 3 failures = %s, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("Allow() = true while open")
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b, _ := newTestBreaker(3, time.Minute)

	b.Failure()
	b.Failure()
	b.Success()
	b.Failure()
	b.Failure()

	// Failures are consecutive, not cumulative
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.Failure()
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}

	// Before the recovery window nothing is admitted
	clock.advance(30 * time.Second)
	if b.Allow() {
		t.Fatal("Allow() = true before recovery window")
	}

	// After the window one probe is admitted
	clock.advance(31 * time.Second)
	if !b.Allow() {
		t.Fatal("Allow() = false after recovery window")
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("state = %s, want half_open", b.State())
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.Failure()
	clock.advance(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe not admitted")
	}

	// Probe fails: circuit re-opens and the recovery window restarts
	b.Failure()
	if b.State() != StateOpen {
		t.Fatalf("state = %s, want open", b.State())
	}
	if b.Allow() {
		t.Fatal("Allow() = true right after probe failure")
	}

	clock.advance(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe not re-admitted after second window")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(1, time.Minute)

	b.Failure()
	clock.advance(2 * time.Minute)
	if !b.Allow() {
		t.Fatal("probe not admitted")
	}

	b.Success()
	if b.State() != StateClosed {
		t.Fatalf("state = %s, want closed", b.State())
	}
	if !b.Allow() {
		t.Fatal("Allow() = false after recovery")
	}
}

func TestRegistry_SharedBreakerPerService(t *testing.T) {
	reg := NewRegistry(5, time.Minute)

	a := reg.Get("llm_api")
	b := reg.Get("llm_api")
	if a != b {
		t.Error("Get returned distinct breakers for the same service")
	}

	other := reg.Get("rtm_api")
	if a == other {
		t.Error("distinct services share a breaker")
	}

	snap := reg.Snapshot()
	if len(snap) != 2 {
		t.Fatalf("snapshot size = %d, want 2", len(snap))
	}
	if snap["llm_api"] != StateClosed || snap["rtm_api"] != StateClosed {
		t.Errorf("snapshot = %v", snap)
	}
}
