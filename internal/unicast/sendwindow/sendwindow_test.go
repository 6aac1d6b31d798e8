package sendwindow

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/aetherflow/unicast/internal/unicast/message"
	"github.com/aetherflow/unicast/internal/unicast/scheduler"
)

func TestAddThenAckCancelsTimer(t *testing.T) {
	sched := scheduler.New()
	defer sched.Stop()

	var retransmits int32
	w := New(sched, []time.Duration{20 * time.Millisecond}, func(seqno uint64, m *message.Message) {
		atomic.AddInt32(&retransmits, 1)
	}, nil)

	w.Add(1, &message.Message{Payload: []byte("hi")})
	w.Ack(1)

	time.Sleep(60 * time.Millisecond)
	if atomic.LoadInt32(&retransmits) != 0 {
		t.Fatalf("expected no retransmit after ack, got %d", retransmits)
	}
	if w.Len() != 0 {
		t.Fatalf("expected empty window after ack, got %d entries", w.Len())
	}
}

func TestCumulativeAck(t *testing.T) {
	sched := scheduler.New()
	defer sched.Stop()

	w := New(sched, []time.Duration{time.Second}, func(uint64, *message.Message) {}, nil)
	for i := uint64(1); i <= 5; i++ {
		w.Add(i, &message.Message{Payload: []byte{byte(i)}})
	}

	w.Ack(3)
	if w.Len() != 2 {
		t.Fatalf("expected 2 entries left after ack(3), got %d", w.Len())
	}

	lowest, _, ok := w.Lowest()
	if !ok || lowest != 4 {
		t.Fatalf("expected lowest remaining seqno to be 4, got %d (ok=%v)", lowest, ok)
	}
}

func TestRetransmitBackoffPlateaus(t *testing.T) {
	sched := scheduler.New()
	defer sched.Stop()

	var fires int32
	w := New(sched, []time.Duration{5 * time.Millisecond, 10 * time.Millisecond}, func(uint64, *message.Message) {
		atomic.AddInt32(&fires, 1)
	}, nil)

	w.Add(1, &message.Message{Payload: []byte("x")})
	time.Sleep(80 * time.Millisecond)
	w.Ack(1)

	got := atomic.LoadInt32(&fires)
	if got < 3 {
		t.Fatalf("expected several retransmissions within 80ms given a 5/10ms backoff, got %d", got)
	}
}

func TestResetCancelsAllTimers(t *testing.T) {
	sched := scheduler.New()
	defer sched.Stop()

	var fires int32
	w := New(sched, []time.Duration{10 * time.Millisecond}, func(uint64, *message.Message) {
		atomic.AddInt32(&fires, 1)
	}, nil)

	for i := uint64(1); i <= 3; i++ {
		w.Add(i, &message.Message{})
	}
	w.Reset()

	time.Sleep(50 * time.Millisecond)
	if atomic.LoadInt32(&fires) != 0 {
		t.Fatalf("expected no fires after reset, got %d", fires)
	}
	if w.Len() != 0 {
		t.Fatalf("expected empty window after reset, got %d", w.Len())
	}
}

func TestLowestOnEmptyWindow(t *testing.T) {
	sched := scheduler.New()
	defer sched.Stop()

	w := New(sched, nil, func(uint64, *message.Message) {}, nil)
	if _, _, ok := w.Lowest(); ok {
		t.Fatal("expected Lowest to report not-found on empty window")
	}
}
