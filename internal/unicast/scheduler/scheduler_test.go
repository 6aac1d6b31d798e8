package scheduler

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestScheduleOnceFires(t *testing.T) {
	s := New()
	defer s.Stop()

	var fired int32
	s.ScheduleOnce(10*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 1 {
		t.Fatalf("expected callback to fire once, got %d", fired)
	}
}

func TestScheduleOnceCancel(t *testing.T) {
	s := New()
	defer s.Stop()

	var fired int32
	task := s.ScheduleOnce(50*time.Millisecond, func() {
		atomic.AddInt32(&fired, 1)
	})
	task.Cancel()

	time.Sleep(100 * time.Millisecond)
	if atomic.LoadInt32(&fired) != 0 {
		t.Fatalf("expected cancelled callback not to fire, got %d", fired)
	}
}

func TestSchedulePeriodicFiresRepeatedly(t *testing.T) {
	s := New()
	defer s.Stop()

	var count int32
	task := s.SchedulePeriodic(10*time.Millisecond, func() {
		atomic.AddInt32(&count, 1)
	})
	time.Sleep(55 * time.Millisecond)
	task.Cancel()

	got := atomic.LoadInt32(&count)
	if got < 2 {
		t.Fatalf("expected periodic task to fire multiple times, got %d", got)
	}

	time.Sleep(30 * time.Millisecond)
	after := atomic.LoadInt32(&count)
	if after != got {
		t.Fatalf("periodic task fired after cancel: before=%d after=%d", got, after)
	}
}
