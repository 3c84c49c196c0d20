package hal

import (
	"sync/atomic"
	"time"
)

// SystemClock counts milliseconds since it was created.
type SystemClock struct {
	start time.Time
}

func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) Millis() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

func (c *SystemClock) Sleep(ms uint32) {
	time.Sleep(time.Duration(ms) * time.Millisecond)
}

// ManualClock only moves when told to. Sleep advances it, so code that waits
// on the clock runs instantly against a simulated plant.
type ManualClock struct {
	now atomic.Uint32
}

func NewManualClock(start uint32) *ManualClock {
	c := &ManualClock{}
	c.now.Store(start)
	return c
}

func (c *ManualClock) Millis() uint32    { return c.now.Load() }
func (c *ManualClock) Sleep(ms uint32)   { c.now.Add(ms) }
func (c *ManualClock) Advance(ms uint32) { c.now.Add(ms) }
func (c *ManualClock) Set(ms uint32)     { c.now.Store(ms) }
