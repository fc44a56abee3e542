package replay

import (
	"sync"
	"time"
)

// VirtualClock tracks replay time. It only moves forward: feeding it an older
// timestamp leaves the clock where it is, so out-of-order rows cannot rewind
// holding-cost calculations.
type VirtualClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewVirtualClock starts the clock at the given origin.
func NewVirtualClock(origin time.Time) *VirtualClock {
	return &VirtualClock{now: origin}
}

// Advance moves the clock to t when t is later than the current virtual time
// and returns the resulting time.
func (c *VirtualClock) Advance(t time.Time) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.After(c.now) {
		c.now = t
	}
	return c.now
}

// Now returns the current virtual time.
func (c *VirtualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}
