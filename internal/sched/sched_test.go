package sched

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.viam.com/test"
)

// advanceUntil nudges the mock clock in small steps until count reaches
// want, so a timer armed just after a coarse Add still fires.
func advanceUntil(t *testing.T, mock *clock.Mock, count *int64, want int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for atomic.LoadInt64(count) < want {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d ticks (got %d)", want, atomic.LoadInt64(count))
		}
		mock.Add(time.Millisecond)
	}
}

func TestRateMonotonicTicksAtFixedRate(t *testing.T) {
	mock := clock.NewMock()
	var count int64
	r := RateMonotonic(context.Background(), mock, 100*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt64(&count, 1)
	})
	defer r.Stop()

	advanceUntil(t, mock, &count, 5)
	test.That(t, atomic.LoadInt64(&count), test.ShouldBeGreaterThanOrEqualTo, int64(5))
}

func TestStopHaltsFutureTicks(t *testing.T) {
	mock := clock.NewMock()
	var count int64
	r := RateMonotonic(context.Background(), mock, 100*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt64(&count, 1)
	})
	advanceUntil(t, mock, &count, 1)
	r.Stop()
	before := atomic.LoadInt64(&count)
	mock.Add(500 * time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	test.That(t, atomic.LoadInt64(&count), test.ShouldEqual, before)
}

func TestDelayedTicksOncePerPeriod(t *testing.T) {
	mock := clock.NewMock()
	var count int64
	r := Delayed(context.Background(), mock, 200*time.Millisecond, func(ctx context.Context) {
		atomic.AddInt64(&count, 1)
	})
	defer r.Stop()

	advanceUntil(t, mock, &count, 2)
	test.That(t, atomic.LoadInt64(&count), test.ShouldBeGreaterThanOrEqualTo, int64(2))
}
