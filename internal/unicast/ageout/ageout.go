// Package ageout evicts idle per-peer connection state, generalized
// from the teacher's Connection.keepaliveLoop ticker pattern
// (internal/quantum/connection.go) into a table-wide sweep over many
// peers rather than one ticker per connection (spec §4.3).
package ageout

import (
	"sync"
	"time"

	"github.com/aetherflow/unicast/internal/unicast/addr"
	"github.com/aetherflow/unicast/internal/unicast/scheduler"
)

// ExpiredFunc is invoked once per peer whose idle time exceeds the
// configured timeout. It runs on the sweep goroutine; implementations
// that need to touch connection tables must do their own locking.
type ExpiredFunc func(a addr.Addr)

// Cache tracks the last-seen time for each peer and periodically
// reports the ones that have gone idle.
type Cache struct {
	mu      sync.Mutex
	timeout time.Duration
	seen    map[addr.Addr]time.Time
	expired ExpiredFunc

	sched scheduler.Scheduler
	sweep scheduler.Task
}

// New creates a Cache with the given idle timeout and sweep interval.
// expired is called for each peer aged out by a sweep.
func New(sched scheduler.Scheduler, timeout, sweepInterval time.Duration, expired ExpiredFunc) *Cache {
	c := &Cache{
		timeout: timeout,
		seen:    make(map[addr.Addr]time.Time),
		expired: expired,
		sched:   sched,
	}
	c.sweep = sched.SchedulePeriodic(sweepInterval, c.runSweep)
	return c
}

// Touch records activity from a, resetting its idle clock. Callers
// provide now so sweeps remain deterministic under test.
func (c *Cache) Touch(a addr.Addr, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seen[a] = now
}

// Remove drops a from the cache without invoking expired, for use when
// a connection is torn down through a path other than idle timeout
// (e.g. a view change, spec §4.7).
func (c *Cache) Remove(a addr.Addr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.seen, a)
}

// DropMembers removes every tracked peer that is present in members,
// returning the ones removed. Only non-members are ever inserted into
// the cache (spec §4.3); when a view change makes a tracked peer a
// member, membership itself now guarantees its liveness, so its
// age-out entry is no longer needed (spec §4.7).
func (c *Cache) DropMembers(members map[addr.Addr]struct{}) []addr.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()

	var removed []addr.Addr
	for a := range c.seen {
		if _, ok := members[a]; ok {
			delete(c.seen, a)
			removed = append(removed, a)
		}
	}
	return removed
}

// Size returns the number of tracked peers.
func (c *Cache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// SetTimeout changes the idle timeout applied by future sweeps.
func (c *Cache) SetTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeout = d
}

// Stop cancels the periodic sweep.
func (c *Cache) Stop() {
	c.sweep.Cancel()
}

func (c *Cache) runSweep() {
	now := time.Now()

	c.mu.Lock()
	var expired []addr.Addr
	for a, last := range c.seen {
		if now.Sub(last) >= c.timeout {
			delete(c.seen, a)
			expired = append(expired, a)
		}
	}
	c.mu.Unlock()

	if c.expired == nil {
		return
	}
	for _, a := range expired {
		c.expired(a)
	}
}
