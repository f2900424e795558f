// Package bannertest provides a simulated clock for tests that drive
// banner timers without waiting on the wall clock.
package bannertest

import (
	"sync"
	"time"

	"github.com/d9705996/rollcall/internal/banner"
)

// Clock is a manually advanced banner.Clock. Callbacks run synchronously
// inside Advance, on the caller's goroutine, in due-time order.
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*timer
}

var _ banner.Clock = (*Clock)(nil)

// NewClock returns a clock reading start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

type timer struct {
	c    *Clock
	due  time.Time
	seq  int
	f    func()
	done bool
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

// Now returns the simulated time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run once the clock has advanced by d.
func (c *Clock) AfterFunc(d time.Duration, f func()) banner.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{c: c, due: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer that comes due.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.popDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		c.now = next.due
		c.mu.Unlock()
		next.f()
	}
}

func (c *Clock) popDueLocked(target time.Time) *timer {
	idx := -1
	for i, t := range c.timers {
		if t.done || t.due.After(target) {
			continue
		}
		if idx < 0 || t.due.Before(c.timers[idx].due) ||
			(t.due.Equal(c.timers[idx].due) && t.seq < c.timers[idx].seq) {
			idx = i
		}
	}
	// Drop finished timers while we hold the lock.
	live := c.timers[:0]
	var next *timer
	for i, t := range c.timers {
		if i == idx {
			t.done = true
			next = t
			continue
		}
		if !t.done {
			live = append(live, t)
		}
	}
	clear(c.timers[len(live):])
	c.timers = live
	return next
}

// Pending returns the number of scheduled callbacks not yet fired or stopped.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}
