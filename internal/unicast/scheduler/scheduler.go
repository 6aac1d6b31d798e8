// Package scheduler provides the one-shot and periodic timer facility
// the engine uses for retransmission and age-out sweeps. It is the
// scheduled-task facility spec.md §1 calls an external collaborator,
// generalized from the repeated time.NewTicker/time.Timer pattern in
// the teacher's Connection.sendLoop/reliabilityLoop/keepaliveLoop into
// a single reusable, cancellable component.
package scheduler

import (
	"sync"
	"time"
)

// Task is a handle to a scheduled callback. Cancel is idempotent.
type Task interface {
	Cancel()
}

// Scheduler arms one-shot and periodic callbacks. Implementations must
// be safe for concurrent use: the engine schedules retransmit timers
// from many sender goroutines at once (spec §5).
type Scheduler interface {
	// ScheduleOnce invokes fn once after d elapses.
	ScheduleOnce(d time.Duration, fn func()) Task

	// SchedulePeriodic invokes fn every d until cancelled.
	SchedulePeriodic(d time.Duration, fn func()) Task

	// Stop refuses new tasks. Tasks scheduled before Stop are not
	// cancelled by it; they run unless cancelled through their own Task.
	Stop()
}

// TimerScheduler is the default Scheduler, backed by the standard
// library's time.Timer/time.Ticker.
type TimerScheduler struct {
	mu      sync.Mutex
	stopped bool
}

// New returns a ready-to-use TimerScheduler.
func New() *TimerScheduler {
	return &TimerScheduler{}
}

type timerTask struct {
	timer *time.Timer
}

func (t *timerTask) Cancel() {
	t.timer.Stop()
}

type tickerTask struct {
	stop chan struct{}
	once sync.Once
}

func (t *tickerTask) Cancel() {
	t.once.Do(func() { close(t.stop) })
}

// ScheduleOnce implements Scheduler.
func (s *TimerScheduler) ScheduleOnce(d time.Duration, fn func()) Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return &timerTask{timer: time.NewTimer(0)}
	}

	timer := time.AfterFunc(d, fn)
	return &timerTask{timer: timer}
}

// SchedulePeriodic implements Scheduler.
func (s *TimerScheduler) SchedulePeriodic(d time.Duration, fn func()) Task {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return &tickerTask{stop: closedChan()}
	}
	s.mu.Unlock()

	task := &tickerTask{stop: make(chan struct{})}
	go func() {
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-task.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
	return task
}

// Stop cancels all further scheduling: later ScheduleOnce and
// SchedulePeriodic calls return inert tasks. Timers and periodic tasks
// armed before Stop are not cancelled and keep firing, so fn must
// tolerate running after Stop returns.
func (s *TimerScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}
