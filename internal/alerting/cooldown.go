package alerting

import (
	"sync"
	"time"
)

// cooldownMap tracks the last firing per (ruleType, venueID). It is
// process-lifetime, venue-scoped state; losing it on restart only means an
// alert may re-fire once. Check-and-set is atomic per key so two
// near-simultaneous cycles cannot both fire the same suppressed alert.
type cooldownMap struct {
	mu        sync.Mutex
	lastFired map[string]time.Time
}

func newCooldownMap() *cooldownMap {
	return &cooldownMap{lastFired: make(map[string]time.Time)}
}

// shouldFire reports whether the rule may fire now, and if so records the
// firing in the same critical section.
func (c *cooldownMap) shouldFire(key string, cooldown time.Duration, now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	last, fired := c.lastFired[key]
	if fired && cooldown > 0 && now.Sub(last) < cooldown {
		return false
	}
	c.lastFired[key] = now
	return true
}

// reset clears all cooldown state.
func (c *cooldownMap) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFired = make(map[string]time.Time)
}
