package governor

import (
	"errors"
	"sync"
	"testing"
	"time"

	"ex-feedsync/pkg/feed"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.now
}

func (c *fakeClock) Advance(step time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.now = c.now.Add(step)
}

func newTestGovernor(clock *fakeClock) *Governor {
	return New(
		WithClock(clock.Now),
		WithMinInterval(2*time.Second),
		WithFailureThreshold(3),
		WithCooldown(30*time.Second),
	)
}

func TestTryAcquireEnforcesMinInterval(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	governor := newTestGovernor(clock)

	first := governor.TryAcquire()
	clock.Advance(time.Second)
	second := governor.TryAcquire()
	if !first || second {
		t.Fatalf("TryAcquire pair = (%v, %v), want (true, false)", first, second)
	}

	clock.Advance(time.Second)
	if !governor.TryAcquire() {
		t.Fatal("TryAcquire after full interval = false, want true")
	}
	if got := governor.State().LastRequestAt; !got.Equal(clock.Now()) {
		t.Fatalf("last request = %v, want %v", got, clock.Now())
	}
}

func TestAcquireReportsReason(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	governor := newTestGovernor(clock)

	if err := governor.Acquire(); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := governor.Acquire(); !errors.Is(err, feed.ErrThrottled) {
		t.Fatalf("second Acquire error = %v, want ErrThrottled", err)
	}

	for index := 0; index < 3; index++ {
		governor.RecordFailure()
	}
	clock.Advance(5 * time.Second)
	if err := governor.Acquire(); !errors.Is(err, feed.ErrCircuitOpen) {
		t.Fatalf("Acquire with open circuit error = %v, want ErrCircuitOpen", err)
	}
}

func TestCircuitOpensAtThresholdAndCloses(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	governor := newTestGovernor(clock)

	governor.RecordFailure()
	governor.RecordFailure()
	if governor.IsOpen() {
		t.Fatal("IsOpen after 2 failures = true, want false")
	}
	if got := governor.State().ConsecutiveFailures; got != 2 {
		t.Fatalf("consecutive failures = %d, want 2", got)
	}

	governor.RecordFailure()
	if !governor.IsOpen() {
		t.Fatal("IsOpen after 3 failures = false, want true")
	}
	if governor.TryAcquire() {
		t.Fatal("TryAcquire with open circuit = true, want false")
	}

	clock.Advance(29 * time.Second)
	if !governor.IsOpen() {
		t.Fatal("IsOpen before cooldown elapsed = false, want true")
	}

	clock.Advance(time.Second)
	if governor.IsOpen() {
		t.Fatal("IsOpen after cooldown = true, want false")
	}
	state := governor.State()
	if state.ConsecutiveFailures != 0 {
		t.Fatalf("consecutive failures = %d, want 0", state.ConsecutiveFailures)
	}
	if state.CircuitOpenUntil != nil {
		t.Fatalf("circuit open until = %v, want nil", state.CircuitOpenUntil)
	}
	if !governor.TryAcquire() {
		t.Fatal("TryAcquire after cooldown = false, want true")
	}
}

func TestRecordSuccessResetsFailures(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	governor := newTestGovernor(clock)

	governor.Record(errors.New("boom"))
	governor.Record(errors.New("boom"))
	governor.Record(nil)
	governor.Record(errors.New("boom"))
	governor.Record(errors.New("boom"))

	if governor.IsOpen() {
		t.Fatal("success between failures should keep the circuit closed")
	}
	if got := governor.State().ConsecutiveFailures; got != 2 {
		t.Fatalf("consecutive failures = %d, want 2", got)
	}
}

func TestZeroMinIntervalNeverThrottles(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	governor := New(WithClock(clock.Now), WithMinInterval(0))
	for index := 0; index < 5; index++ {
		if !governor.TryAcquire() {
			t.Fatalf("TryAcquire #%d = false, want true", index)
		}
	}
}
