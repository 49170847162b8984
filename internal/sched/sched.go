// Package sched runs the firmware's cooperating periodic tasks: a
// rate-monotonic, non-drifting runner for the control task, and simple
// fixed-delay runners for the weight, operator, and telemetry tasks.
// Each task is a background goroutine tracked by a sync.WaitGroup and
// started via go.viam.com/utils's panic-capturing Go.
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	goutils "go.viam.com/utils"
)

// Runner is a started periodic task; Stop blocks until its goroutine has
// exited.
type Runner struct {
	cancel  context.CancelFunc
	workers sync.WaitGroup
}

// Stop cancels the task and waits for its goroutine to exit. Callers are
// responsible for driving the actuator to 0% from within fn when ctx is
// done, before returning.
func (r *Runner) Stop() {
	r.cancel()
	r.workers.Wait()
}

// RateMonotonic starts fn on a fixed-rate, non-drifting schedule: each
// tick's deadline is computed from the task's start time plus N*period,
// so a slow tick does not push later ticks later. clk is injected so tests
// can run the schedule deterministically; production callers pass
// clock.New().
func RateMonotonic(ctx context.Context, clk clock.Clock, period time.Duration, fn func(ctx context.Context)) *Runner {
	runCtx, cancel := context.WithCancel(ctx)
	r := &Runner{cancel: cancel}
	r.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer r.workers.Done()
		start := clk.Now()
		n := int64(1)
		for {
			next := start.Add(time.Duration(n) * period)
			timer := clk.Timer(next.Sub(clk.Now()))
			select {
			case <-runCtx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			fn(runCtx)
			n++
		}
	})
	return r
}

// Delayed starts fn on a simple fixed-delay schedule: the next tick is
// period after the previous tick finished, with no drift correction.
func Delayed(ctx context.Context, clk clock.Clock, period time.Duration, fn func(ctx context.Context)) *Runner {
	runCtx, cancel := context.WithCancel(ctx)
	r := &Runner{cancel: cancel}
	r.workers.Add(1)
	goutils.PanicCapturingGo(func() {
		defer r.workers.Done()
		timer := clk.Timer(period)
		defer timer.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-timer.C:
			}
			fn(runCtx)
			timer.Reset(period)
		}
	})
	return r
}
