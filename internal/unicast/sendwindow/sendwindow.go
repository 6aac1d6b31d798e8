// Package sendwindow implements the per-peer send window: the ordered
// buffer of unacknowledged messages with a retransmit timer per entry,
// generalized from internal/quantum/reliability.SendBuffer (which
// tracked RTT/RTO and fast-retransmit for a single dialed connection)
// into the simpler, spec-mandated fixed-backoff-list model of spec §4.1:
// no RTT estimation, no congestion window, just a configured timeout
// list that plateaus on its last entry.
package sendwindow

import (
	"fmt"
	"sync"
	"time"

	"github.com/aetherflow/unicast/internal/unicast/message"
	"github.com/aetherflow/unicast/internal/unicast/scheduler"
	"go.uber.org/zap"
)

// DefaultTimeouts is the default retransmit interval list (ms),
// matching spec §4.1: geometric growth then a plateau.
var DefaultTimeouts = []time.Duration{
	400 * time.Millisecond,
	800 * time.Millisecond,
	1600 * time.Millisecond,
	3200 * time.Millisecond,
}

// RetransmitFunc is invoked each time an entry's timer fires.
type RetransmitFunc func(seqno uint64, m *message.Message)

type entry struct {
	msg     *message.Message
	task    scheduler.Task
	attempt int
}

// SendWindow is the ordered map of (seqno -> unacked message) for one peer.
type SendWindow struct {
	mu sync.Mutex

	timeouts    []time.Duration
	scheduler   scheduler.Scheduler
	retransmit  RetransmitFunc
	logger      *zap.Logger
	entries     map[uint64]*entry
}

// New creates a SendWindow. timeouts defaults to DefaultTimeouts when empty.
func New(sched scheduler.Scheduler, timeouts []time.Duration, retransmit RetransmitFunc, logger *zap.Logger) *SendWindow {
	if len(timeouts) == 0 {
		timeouts = DefaultTimeouts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SendWindow{
		timeouts:   timeouts,
		scheduler:  sched,
		retransmit: retransmit,
		logger:     logger,
		entries:    make(map[uint64]*entry),
	}
}

// Add inserts (seqno, msg) and arms its first retransmit timer.
// Re-inserting an existing seqno is a logic error: the engine's
// per-peer lock (spec §4.5 step 5) is what makes this safe to assert.
func (w *SendWindow) Add(seqno uint64, m *message.Message) {
	w.mu.Lock()
	if _, exists := w.entries[seqno]; exists {
		w.mu.Unlock()
		w.logger.Error("sendwindow: duplicate seqno insert", zap.Uint64("seqno", seqno))
		panic(fmt.Sprintf("sendwindow: seqno %d already present", seqno))
	}
	e := &entry{msg: m}
	w.entries[seqno] = e
	w.arm(seqno, e)
	w.mu.Unlock()
}

func (w *SendWindow) arm(seqno uint64, e *entry) {
	d := w.timeoutFor(e.attempt)
	e.task = w.scheduler.ScheduleOnce(d, func() { w.onFire(seqno) })
}

func (w *SendWindow) timeoutFor(attempt int) time.Duration {
	idx := attempt
	if idx >= len(w.timeouts) {
		idx = len(w.timeouts) - 1
	}
	return w.timeouts[idx]
}

func (w *SendWindow) onFire(seqno uint64) {
	w.mu.Lock()
	e, ok := w.entries[seqno]
	if !ok {
		w.mu.Unlock()
		return
	}
	e.attempt++
	msg := e.msg
	w.mu.Unlock()

	if w.retransmit != nil {
		w.retransmit(seqno, msg)
	}

	w.mu.Lock()
	_, stillPresent := w.entries[seqno]
	w.mu.Unlock()
	if stillPresent {
		w.arm(seqno, e)
	}
}

// Ack removes every entry with seqno' <= seqno (cumulative ACK
// semantics, spec §4.1) and cancels their timers.
func (w *SendWindow) Ack(seqno uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for s, e := range w.entries {
		if s <= seqno {
			if e.task != nil {
				e.task.Cancel()
			}
			delete(w.entries, s)
		}
	}
}

// Reset cancels all timers and empties the window.
func (w *SendWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, e := range w.entries {
		if e.task != nil {
			e.task.Cancel()
		}
	}
	w.entries = make(map[uint64]*entry)
}

// Lowest returns the smallest seqno and its message, or (0, nil, false)
// if the window is empty. Used to answer handle_resend_first (spec §4.6).
func (w *SendWindow) Lowest() (uint64, *message.Message, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var lowest uint64
	var found *entry
	for s, e := range w.entries {
		if found == nil || s < lowest {
			lowest = s
			found = e
		}
	}
	if found == nil {
		return 0, nil, false
	}
	return lowest, found.msg, true
}

// Len returns the number of unacknowledged entries (used for the
// num_unacked_msgs counter, spec §6).
func (w *SendWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
