package slot

import (
	"context"
	"sync"
	"time"
)

// Mode describes how the Clock advances slots.
type Mode int

const (
	// RealTime advances one slot per slot duration of wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run.
	Accelerated
)

// Clock drives slot-synchronous processing. It advances the current slot
// tick by tick, notifying registered listeners on each new slot. Listeners
// run on the clock goroutine, one slot at a time; the per-slot work they do
// is expected to fit within the slot duration in RealTime mode.
type Clock struct {
	mu      sync.RWMutex
	mode    Mode
	current Point

	listeners []func(Point)
}

// NewClock constructs a clock starting at the given slot.
func NewClock(start Point, mode Mode) *Clock {
	start.check()
	return &Clock{mode: mode, current: start}
}

// Now returns the slot most recently delivered to listeners, or the start
// slot before the clock has run.
func (c *Clock) Now() Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// AddListener registers a callback invoked on every slot. Listeners must be
// registered before Start.
func (c *Clock) AddListener(fn func(Point)) {
	c.listeners = append(c.listeners, fn)
}

// Start runs the clock for numSlots slots in a separate goroutine, invoking
// listeners in registration order on each slot. It returns a channel that is
// closed when the run completes or the context is cancelled.
func (c *Clock) Start(ctx context.Context, numSlots uint32) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		var ticker *time.Ticker
		if c.mode == RealTime {
			ticker = time.NewTicker(c.Now().Duration())
			defer ticker.Stop()
		}

		sl := c.Now()
		for i := uint32(0); i < numSlots; i++ {
			if ticker != nil {
				select {
				case <-ticker.C:
				case <-ctx.Done():
					return
				}
			} else if ctx.Err() != nil {
				return
			}

			c.mu.Lock()
			c.current = sl
			c.mu.Unlock()

			for _, fn := range c.listeners {
				fn(sl)
			}
			sl = sl.Next()
		}
	}()
	return done
}
