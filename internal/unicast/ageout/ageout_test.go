package ageout

import (
	"sync"
	"testing"
	"time"

	"github.com/aetherflow/unicast/internal/unicast/addr"
	"github.com/aetherflow/unicast/internal/unicast/scheduler"
)

func TestSweepExpiresIdlePeer(t *testing.T) {
	sched := scheduler.New()
	defer sched.Stop()

	var mu sync.Mutex
	var expired []addr.Addr

	c := New(sched, 20*time.Millisecond, 10*time.Millisecond, func(a addr.Addr) {
		mu.Lock()
		expired = append(expired, a)
		mu.Unlock()
	})
	defer c.Stop()

	peer := addr.Addr{Host: "10.0.0.1:9000"}
	c.Touch(peer, time.Now())

	time.Sleep(80 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(expired) != 1 || expired[0] != peer {
		t.Fatalf("expected peer to age out exactly once, got %v", expired)
	}
}

func TestTouchResetsIdleClock(t *testing.T) {
	sched := scheduler.New()
	defer sched.Stop()

	var count int
	c := New(sched, 30*time.Millisecond, 10*time.Millisecond, func(a addr.Addr) {
		count++
	})
	defer c.Stop()

	peer := addr.Addr{Host: "10.0.0.2:9000"}
	c.Touch(peer, time.Now())

	// Keep refreshing faster than the timeout so it never ages out.
	for i := 0; i < 4; i++ {
		time.Sleep(15 * time.Millisecond)
		c.Touch(peer, time.Now())
	}

	if count != 0 {
		t.Fatalf("expected continually-touched peer not to expire, got %d expirations", count)
	}
}

func TestDropMembersRemovesOnlyNewMembers(t *testing.T) {
	sched := scheduler.New()
	defer sched.Stop()

	c := New(sched, time.Hour, time.Hour, nil)
	defer c.Stop()

	a1 := addr.Addr{Host: "a"}
	a2 := addr.Addr{Host: "b"}
	a3 := addr.Addr{Host: "c"}
	c.Touch(a1, time.Now())
	c.Touch(a2, time.Now())
	c.Touch(a3, time.Now())

	members := map[addr.Addr]struct{}{a1: {}}
	removed := c.DropMembers(members)

	if len(removed) != 1 || removed[0] != a1 {
		t.Fatalf("expected only a1 dropped, got %v", removed)
	}
	if c.Size() != 2 {
		t.Fatalf("expected 2 peers remaining, got %d", c.Size())
	}
}

func TestRemoveDropsWithoutExpiring(t *testing.T) {
	sched := scheduler.New()
	defer sched.Stop()

	called := false
	c := New(sched, time.Hour, time.Hour, func(addr.Addr) { called = true })
	defer c.Stop()

	peer := addr.Addr{Host: "x"}
	c.Touch(peer, time.Now())
	c.Remove(peer)

	if c.Size() != 0 {
		t.Fatalf("expected cache empty after explicit remove, got %d", c.Size())
	}
	if called {
		t.Fatal("expected explicit remove not to invoke expired callback")
	}
}
