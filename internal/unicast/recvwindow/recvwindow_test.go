package recvwindow

import (
	"testing"

	"github.com/aetherflow/unicast/internal/unicast/message"
)

func TestAddNewInOrder(t *testing.T) {
	w := New(1)
	if got := w.Add(1, &message.Message{Payload: []byte("a")}); got != NEW {
		t.Fatalf("expected NEW, got %v", got)
	}

	msgs := w.RemoveMany()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message delivered, got %d", len(msgs))
	}
	if w.NextToRemove() != 2 {
		t.Fatalf("expected cursor at 2, got %d", w.NextToRemove())
	}
}

func TestAddOutOfOrderThenFillGap(t *testing.T) {
	w := New(1)
	if got := w.Add(3, &message.Message{}); got != NEW {
		t.Fatalf("expected NEW for seqno 3, got %v", got)
	}
	if msgs := w.RemoveMany(); len(msgs) != 0 {
		t.Fatalf("expected nothing deliverable with gap at 1,2, got %d", len(msgs))
	}

	w.Add(1, &message.Message{})
	w.Add(2, &message.Message{})

	msgs := w.RemoveMany()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages delivered once gap fills, got %d", len(msgs))
	}
	if w.NextToRemove() != 4 {
		t.Fatalf("expected cursor at 4, got %d", w.NextToRemove())
	}
}

func TestDuplicatePending(t *testing.T) {
	w := New(1)
	w.Add(2, &message.Message{})
	if got := w.Add(2, &message.Message{}); got != DuplicatePending {
		t.Fatalf("expected DuplicatePending, got %v", got)
	}
}

func TestDuplicateDelivered(t *testing.T) {
	w := New(1)
	w.Add(1, &message.Message{})
	w.RemoveMany()

	if got := w.Add(1, &message.Message{}); got != DuplicateDelivered {
		t.Fatalf("expected DuplicateDelivered, got %v", got)
	}
}

func TestRemoveOOBMessagesReturnsHighestAndIsIdempotent(t *testing.T) {
	w := New(1)
	oob := &message.Message{}
	oob.SetFlag(message.OOB)
	w.Add(2, oob)
	w.Add(5, oob)

	if highest := w.RemoveOOBMessages(); highest != 5 {
		t.Fatalf("expected highest OOB seqno 5, got %d", highest)
	}
	if highest := w.RemoveOOBMessages(); highest != -1 {
		t.Fatalf("expected no new OOB messages on second call, got %d", highest)
	}

	// The OOB messages are still gap fillers for regular delivery, but
	// having already been delivered out-of-band they must not be
	// redelivered by the regular drain.
	w.Add(1, &message.Message{})
	w.Add(3, &message.Message{})
	w.Add(4, &message.Message{})
	msgs := w.RemoveMany()
	if len(msgs) != 3 {
		t.Fatalf("expected 3 not-yet-delivered messages, got %d", len(msgs))
	}
	if w.NextToRemove() != 6 {
		t.Fatalf("expected cursor to advance past all 5 contiguous entries, got %d", w.NextToRemove())
	}
}

func TestBufferedCount(t *testing.T) {
	w := New(1)
	w.Add(2, &message.Message{})
	w.Add(3, &message.Message{})
	if w.BufferedCount() != 2 {
		t.Fatalf("expected 2 buffered, got %d", w.BufferedCount())
	}
}

func TestResetClearsBuffer(t *testing.T) {
	w := New(1)
	w.Add(2, &message.Message{})
	w.Add(3, &message.Message{})
	w.Reset()
	if w.BufferedCount() != 0 {
		t.Fatalf("expected empty buffer after reset, got %d", w.BufferedCount())
	}
}

func TestProcessingTokenMutualExclusion(t *testing.T) {
	w := New(1)
	if !w.Processing.CompareAndSwap(false, true) {
		t.Fatal("expected to acquire processing token")
	}
	if w.Processing.CompareAndSwap(false, true) {
		t.Fatal("expected second acquire to fail while token held")
	}
	w.Processing.Store(false)
	if !w.Processing.CompareAndSwap(false, true) {
		t.Fatal("expected to reacquire token after release")
	}
}
