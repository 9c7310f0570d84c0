package alerts

import (
	"sync"
	"time"
)

// Timer is the part of *time.Timer the flag needs.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc in production.
type AfterFunc func(d time.Duration, f func()) Timer

func realAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// Flag is the transient "new alert" indicator. Raise sets it and schedules
// it to clear after the window; raising again before then restarts the
// window, so the flag stays set until one window after the last raise.
type Flag struct {
	window    time.Duration
	afterFunc AfterFunc

	mu     sync.Mutex
	active bool
	gen    uint64
	timer  Timer
}

func NewFlag(window time.Duration) *Flag {
	return NewFlagWithTimer(window, realAfterFunc)
}

func NewFlagWithTimer(window time.Duration, afterFunc AfterFunc) *Flag {
	return &Flag{window: window, afterFunc: afterFunc}
}

func (f *Flag) Raise() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gen++
	gen := f.gen
	f.active = true
	if f.timer != nil {
		f.timer.Stop()
	}
	// A clear scheduled by an earlier raise may already be running; the
	// generation check makes it a no-op.
	f.timer = f.afterFunc(f.window, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.gen == gen {
			f.active = false
			f.timer = nil
		}
	})
}

func (f *Flag) Active() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

// Stop clears the flag and cancels the pending timer.
func (f *Flag) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.gen++
	f.active = false
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
}
