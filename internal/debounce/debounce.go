// Package debounce collapses bursts of calls into a single trailing-edge call
// carrying the most recent value.
package debounce

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultWait is the quiet period used when callers have no preference.
const DefaultWait = 100 * time.Millisecond

// Debouncer delays fn until wait has elapsed without a new Call. Each Call
// resets the pending timer and replaces the pending value.
type Debouncer[T any] struct {
	mu      sync.Mutex
	fireMu  sync.Mutex
	clock   clockwork.Clock
	wait    time.Duration
	fn      func(T)
	timer   clockwork.Timer
	pending T
	gen     uint64
	stopped bool
}

// New returns a Debouncer that invokes fn. A zero or negative wait disables
// debouncing: every Call invokes fn synchronously.
func New[T any](clock clockwork.Clock, wait time.Duration, fn func(T)) *Debouncer[T] {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Debouncer[T]{clock: clock, wait: wait, fn: fn}
}

// Call schedules fn(v) for when the wait window elapses.
func (d *Debouncer[T]) Call(v T) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	if d.wait <= 0 {
		d.mu.Unlock()
		d.fireMu.Lock()
		defer d.fireMu.Unlock()
		d.fn(v)
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.gen++
	gen := d.gen
	d.pending = v
	d.timer = d.clock.AfterFunc(d.wait, func() { d.fire(gen) })
	d.mu.Unlock()
}

func (d *Debouncer[T]) fire(gen uint64) {
	// fireMu keeps deliveries for one debouncer serialized and in order.
	d.fireMu.Lock()
	defer d.fireMu.Unlock()

	d.mu.Lock()
	if d.stopped || gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	v := d.pending
	var zero T
	d.pending = zero
	d.timer = nil
	d.mu.Unlock()

	d.fn(v)
}

// Pending reports whether a call is waiting for its window to elapse.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Stop cancels any pending call. Later calls are dropped.
func (d *Debouncer[T]) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
