// Package clock provides the hub-wide monotonic time source.
// All hub timestamps are float64 seconds relative to a clock epoch,
// so timestamps from two clocks are comparable only when the clocks
// share the same epoch.
package clock

import (
	"sync"
	"time"
)

// Clock measures elapsed seconds since its epoch using the runtime's
// monotonic reading. The epoch is fixed at construction and is never
// re-based by Now.
type Clock struct {
	mu    sync.RWMutex
	epoch time.Time
}

func New() *Clock {
	return &Clock{epoch: time.Now()}
}

// NewAt returns a clock with an explicit epoch.
func NewAt(epoch time.Time) *Clock {
	return &Clock{epoch: epoch}
}

// Now returns seconds elapsed since the epoch. Successive calls are
// non-decreasing because the subtraction uses the monotonic reading
// captured in the epoch.
func (c *Clock) Now() float64 {
	c.mu.RLock()
	epoch := c.epoch
	c.mu.RUnlock()
	return time.Since(epoch).Seconds()
}

// Epoch returns the reference point of this clock.
func (c *Clock) Epoch() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.epoch
}

// AlignEpoch adopts the given reference point, typically obtained from
// another Clock on the same machine via Epoch. After alignment the two
// clocks report the same Now values without any network exchange.
func (c *Clock) AlignEpoch(epoch time.Time) {
	c.mu.Lock()
	c.epoch = epoch
	c.mu.Unlock()
}

var global = New()

// Global returns the process-wide clock shared by hub services that do
// not carry their own.
func Global() *Clock {
	return global
}
