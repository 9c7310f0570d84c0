// Package poll runs fixed-cadence refresh work.
package poll

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	Ticks   uint64
	Skipped uint64
}

// Loop calls Fn once at start and then on every Interval tick until the
// context passed to Run is done. At most one Fn call is in flight: a tick
// that fires while the previous call is still running is dropped, not queued.
type Loop struct {
	Name     string
	Interval time.Duration
	Fn       func(ctx context.Context)

	inFlight atomic.Bool
	ticks    atomic.Uint64
	skipped  atomic.Uint64
}

// Run blocks until ctx is done and any in-flight call has returned.
func (l *Loop) Run(ctx context.Context) {
	var wg sync.WaitGroup
	defer wg.Wait()

	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()

	l.tick(ctx, &wg)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.tick(ctx, &wg)
		}
	}
}

func (l *Loop) tick(ctx context.Context, wg *sync.WaitGroup) {
	if !l.inFlight.CompareAndSwap(false, true) {
		l.skipped.Add(1)
		slog.Debug("tick skipped, previous refresh still in flight", "loop", l.Name)
		return
	}
	l.ticks.Add(1)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer l.inFlight.Store(false)
		l.Fn(ctx)
	}()
}

func (l *Loop) Stats() Stats {
	return Stats{Ticks: l.ticks.Load(), Skipped: l.skipped.Load()}
}
