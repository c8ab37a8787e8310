// Package clock provides the simulation and calendar time sources used by
// the recorder.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is the time source consumed by sampling and session naming.
type Clock interface {
	// NowMs is the monotonic simulation time in milliseconds.
	NowMs() int64
	// CalendarNow is the wall-clock date and time.
	CalendarNow() time.Time
}

// Sim is a simulation clock advanced explicitly by the host.
// It is safe for concurrent use.
type Sim struct {
	ms  atomic.Int64
	now func() time.Time
}

// NewSim creates a simulation clock starting at startMs. Calendar time comes
// from time.Now.
func NewSim(startMs int64) *Sim {
	c := &Sim{now: time.Now}
	c.ms.Store(startMs)
	return c
}

// NewSimWithCalendar creates a simulation clock with a custom calendar source.
func NewSimWithCalendar(startMs int64, now func() time.Time) *Sim {
	c := NewSim(startMs)
	if now != nil {
		c.now = now
	}
	return c
}

// NowMs returns the current simulation time.
func (c *Sim) NowMs() int64 {
	return c.ms.Load()
}

// Set moves the clock to ms. The clock never rewinds; earlier values are ignored.
func (c *Sim) Set(ms int64) {
	for {
		cur := c.ms.Load()
		if ms <= cur {
			return
		}
		if c.ms.CompareAndSwap(cur, ms) {
			return
		}
	}
}

// CalendarNow returns the calendar time.
func (c *Sim) CalendarNow() time.Time {
	return c.now()
}

// System derives simulation time from the process monotonic clock.
type System struct {
	start time.Time
}

// NewSystem creates a clock whose simulation time starts at zero now.
func NewSystem() *System {
	return &System{start: time.Now()}
}

// NowMs returns the milliseconds elapsed since the clock was created.
func (c *System) NowMs() int64 {
	return time.Since(c.start).Milliseconds()
}

// CalendarNow returns the local wall-clock time.
func (c *System) CalendarNow() time.Time {
	return time.Now()
}
