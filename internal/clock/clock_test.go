package clock_test

import (
	"testing"
	"time"

	"pkt.systems/amqtx/internal/clock"
)

func TestRealNowUsesUTC(t *testing.T) {
	t.Parallel()

	now := clock.Real{}.Now()
	if loc := now.Location(); loc != time.UTC {
		t.Fatalf("expected UTC location, got %v", loc)
	}
	if delta := time.Since(now); delta < 0 || delta > time.Second {
		t.Fatalf("unexpected Now delta: %v", delta)
	}
}

func TestRealAfterDeliversOnce(t *testing.T) {
	t.Parallel()

	ch := clock.Real{}.After(10 * time.Millisecond)
	select {
	case <-ch:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("After did not trigger within timeout")
	}
}

func TestRealSleepSleepsAtLeastDuration(t *testing.T) {
	t.Parallel()

	start := time.Now()
	clock.Real{}.Sleep(5 * time.Millisecond)
	if elapsed := time.Since(start); elapsed < 5*time.Millisecond {
		t.Fatalf("sleep duration too short: %v", elapsed)
	}
}

func TestManualAdvanceFiresDueTimers(t *testing.T) {
	t.Parallel()

	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	manual := clock.NewManual(start)
	ch := manual.After(50 * time.Millisecond)
	if manual.Pending() != 1 {
		t.Fatalf("expected one pending timer, got %d", manual.Pending())
	}
	manual.Advance(20 * time.Millisecond)
	select {
	case <-ch:
		t.Fatal("timer fired before its deadline")
	default:
	}
	now := manual.Advance(40 * time.Millisecond)
	select {
	case fired := <-ch:
		if !fired.Equal(now) {
			t.Fatalf("expected fire time %v, got %v", now, fired)
		}
	default:
		t.Fatal("timer did not fire after advancing past its deadline")
	}
	if manual.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", manual.Pending())
	}
}
