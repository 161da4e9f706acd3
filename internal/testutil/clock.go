// Package testutil holds shared test helpers.
package testutil

import (
	"sort"
	"sync"
	"time"

	"github.com/splitpot/splitpot/internal/session"
)

// ManualClock is a session.Clock driven explicitly by tests. Timers fire
// synchronously inside Advance, which makes debounce and retry windows
// deterministic.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock *ManualClock
	at    time.Time
	fn    func()
	fired bool
}

// NewManualClock starts a clock at an arbitrary fixed instant.
func NewManualClock() *ManualClock {
	return &ManualClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the clock's current instant.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules fn to run once the clock has advanced by d.
func (c *ManualClock) AfterFunc(d time.Duration, fn func()) session.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves the clock forward and fires every due timer in order.
// Callbacks run outside the clock's lock so they may schedule new timers;
// timers that become due within the same advance also fire.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		due := c.takeDueLocked(target)
		if len(due) == 0 {
			break
		}
		c.mu.Unlock()
		for _, t := range due {
			t.fn()
		}
		c.mu.Lock()
	}
	c.now = target
	c.mu.Unlock()
}

// takeDueLocked removes and returns timers due at or before target,
// earliest first, and moves the clock to the latest fire time so callbacks
// observing Now see consistent progress.
func (c *ManualClock) takeDueLocked(target time.Time) []*manualTimer {
	var due []*manualTimer
	var rest []*manualTimer
	for _, t := range c.timers {
		if !t.at.After(target) {
			due = append(due, t)
		} else {
			rest = append(rest, t)
		}
	}
	c.timers = rest
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fired = true
		if t.at.After(c.now) {
			c.now = t.at
		}
	}
	return due
}

// Stop cancels the timer, reporting whether it had not fired yet.
func (t *manualTimer) Stop() bool {
	c := t.clock
	c.mu.Lock()
	defer c.mu.Unlock()
	if t.fired {
		return false
	}
	for i, pending := range c.timers {
		if pending == t {
			c.timers = append(c.timers[:i], c.timers[i+1:]...)
			return true
		}
	}
	return false
}
