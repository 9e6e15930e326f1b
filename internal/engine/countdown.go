package engine

import (
	"sync"
	"time"

	"github.com/playperu/questhunt/internal/clock"
)

// Countdowns runs best-effort timers keyed by user id that fire when an
// active item runs out. Lazy reconciliation on read stays authoritative: a
// missed or late timer never lets an expired item take effect.
type Countdowns struct {
	clock clock.Clock
	fire  func(key string)

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

func NewCountdowns(clk clock.Clock, fire func(key string)) *Countdowns {
	return &Countdowns{
		clock:  clk,
		fire:   fire,
		timers: make(map[string]*time.Timer),
	}
}

// Start schedules fire(key) at the given instant, replacing any countdown
// already running for key.
func (c *Countdowns) Start(key string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if old, ok := c.timers[key]; ok {
		old.Stop()
	}

	var t *time.Timer
	t = time.AfterFunc(max(at.Sub(c.clock.Now()), 0), func() {
		c.mu.Lock()
		current, ok := c.timers[key]
		if ok && current == t {
			delete(c.timers, key)
		}
		c.mu.Unlock()
		if ok && current == t {
			c.fire(key)
		}
	})
	c.timers[key] = t
}

func (c *Countdowns) Stop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.timers[key]; ok {
		t.Stop()
		delete(c.timers, key)
	}
}

// Pending returns the number of running countdowns.
func (c *Countdowns) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// Close stops every countdown; later Starts are ignored.
func (c *Countdowns) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	for key, t := range c.timers {
		t.Stop()
		delete(c.timers, key)
	}
}
