package timectrl

import (
	"sync"
	"time"
)

// SimClock is an interface for accessing simulation time. The event loop and
// the transport engine depend on this rather than on a concrete controller.
type SimClock interface {
	// Now returns the current simulation time.
	Now() time.Time
	// Since returns the simulated time elapsed since the clock's start.
	Since() time.Duration
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime paces every advance against the wall clock.
	RealTime Mode = iota
	// Accelerated jumps straight to the requested time.
	Accelerated
)

func (m Mode) String() string {
	if m == RealTime {
		return "realtime"
	}
	return "accelerated"
}

// TimeController owns simulation time for a single campaign. Time only moves
// forward and only when AdvanceTo is called.
type TimeController struct {
	mu        sync.RWMutex
	StartTime time.Time
	Mode      Mode

	currentTime time.Time

	listeners []func(time.Time)

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

// NewTimeController constructs a controller positioned at start.
func NewTimeController(start time.Time, mode Mode) *TimeController {
	return &TimeController{
		StartTime:   start,
		Mode:        mode,
		currentTime: start,
		sleep:       time.Sleep,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() time.Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// Since returns the offset of the current time from StartTime. Implements SimClock.
func (tc *TimeController) Since() time.Duration {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime.Sub(tc.StartTime)
}

// AddListener registers a callback invoked after every advance.
func (tc *TimeController) AddListener(fn func(time.Time)) {
	tc.mu.Lock()
	tc.listeners = append(tc.listeners, fn)
	tc.mu.Unlock()
}

// AdvanceTo moves simulation time forward to t. Requests to go backwards are
// ignored. In RealTime mode the call blocks for the simulated delta.
func (tc *TimeController) AdvanceTo(t time.Time) {
	tc.mu.Lock()
	if !t.After(tc.currentTime) {
		tc.mu.Unlock()
		return
	}
	delta := t.Sub(tc.currentTime)
	tc.currentTime = t
	listeners := append([]func(time.Time){}, tc.listeners...)
	sleep := tc.sleep
	mode := tc.Mode
	tc.mu.Unlock()

	if mode == RealTime && sleep != nil {
		sleep(delta)
	}

	// Notify outside the lock so listeners may read the clock.
	for _, fn := range listeners {
		fn(t)
	}
}
