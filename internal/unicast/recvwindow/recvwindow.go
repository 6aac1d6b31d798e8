// Package recvwindow implements the per-peer receive window: a
// gap-free reassembly buffer with a next-to-deliver cursor and an OOB
// fast path, generalized from
// internal/quantum/reliability.ReceiveBuffer (which only distinguished
// duplicate/ordered/out-of-order) into the three-way result spec §4.2
// requires, plus the OOB extraction the teacher's buffer never needed.
package recvwindow

import (
	"sync"
	"sync/atomic"

	"github.com/aetherflow/unicast/internal/unicast/message"
)

// AddResult classifies the outcome of Add.
type AddResult int

const (
	// NEW means the message was buffered or is immediately deliverable.
	NEW AddResult = iota
	// DuplicatePending means the seqno is >= next_to_remove but was
	// already buffered by an earlier arrival.
	DuplicatePending
	// DuplicateDelivered means the seqno is < next_to_remove: it was
	// already delivered upward. The caller must still ACK it (spec §4.6
	// duplicate-delivered ACK rule) to avoid deadlocking a sender whose
	// earlier ACK was lost.
	DuplicateDelivered
)

type slot struct {
	msg          *message.Message
	deliveredOOB bool
}

// ReceiveWindow reassembles one peer's incoming stream into order.
type ReceiveWindow struct {
	mu           sync.Mutex
	nextToRemove uint64
	buf          map[uint64]*slot

	// Processing is the mutual-exclusion token, not a mutex: it admits
	// exactly one drainer into the regular-drain loop at a time (spec
	// §4.2, invariant 4). CompareAndSwap(false, true) to acquire, Store(false) to release.
	Processing atomic.Bool
}

// New creates a ReceiveWindow starting at initialSeqno (the seqno of
// the peer's first DATA).
func New(initialSeqno uint64) *ReceiveWindow {
	return &ReceiveWindow{
		nextToRemove: initialSeqno,
		buf:          make(map[uint64]*slot),
	}
}

// Add inserts seqno/m and classifies the result per spec §4.2.
func (w *ReceiveWindow) Add(seqno uint64, m *message.Message) AddResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	if seqno < w.nextToRemove {
		return DuplicateDelivered
	}
	if _, exists := w.buf[seqno]; exists {
		return DuplicatePending
	}
	w.buf[seqno] = &slot{msg: m}
	return NEW
}

// RemoveMany extracts the contiguous prefix starting at next_to_remove
// and advances the cursor past it.
func (w *ReceiveWindow) RemoveMany() []*message.Message {
	w.mu.Lock()
	defer w.mu.Unlock()

	var out []*message.Message
	for {
		s, ok := w.buf[w.nextToRemove]
		if !ok {
			break
		}
		if !s.deliveredOOB {
			out = append(out, s.msg)
		}
		delete(w.buf, w.nextToRemove)
		w.nextToRemove++
	}
	return out
}

// RemoveOOBMessages returns every buffered OOB message with seqno >=
// next_to_remove, marking it delivered-OOB so the regular drain skips
// redelivering it, but leaving it in the buffer so it still counts as a
// gap filler for contiguity (spec §4.2). Returns the highest seqno
// touched, or -1 if none.
func (w *ReceiveWindow) RemoveOOBMessages() (highest int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	highest = -1
	for seqno, s := range w.buf {
		if seqno < w.nextToRemove || s.deliveredOOB || !s.msg.IsOOB() {
			continue
		}
		s.deliveredOOB = true
		if int64(seqno) > highest {
			highest = int64(seqno)
		}
	}
	return highest
}

// HasPendingRegular reports whether the message at next_to_remove is
// already buffered, i.e. whether a regular-drain pass (RemoveMany)
// would advance the cursor right now (spec §4.2
// has_messages_to_remove). The entry there may be an OOB message that
// was already delivered, which RemoveMany passes over without returning.
func (w *ReceiveWindow) HasPendingRegular() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.buf[w.nextToRemove]
	return ok
}

// NextToRemove returns the current delivery cursor.
func (w *ReceiveWindow) NextToRemove() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextToRemove
}

// BufferedCount returns the number of entries currently buffered
// (including delivered-OOB gap fillers), for the
// num_msgs_in_recv_windows counter (spec §6).
func (w *ReceiveWindow) BufferedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.buf)
}

// Reset empties the window. Processing is left untouched: callers reset
// a window only when replacing or destroying the owning ReceiverEntry,
// never while a drain is in flight.
func (w *ReceiveWindow) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = make(map[uint64]*slot)
}
