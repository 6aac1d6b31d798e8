package transport

import (
	"sync"
	"testing"
	"time"

	"github.com/aetherflow/unicast/internal/unicast/addr"
)

func TestSendReceiveRoundTrip(t *testing.T) {
	server, err := Listen("udp", "127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("listen server: %v", err)
	}
	defer server.Close()

	client, err := Listen("udp", "127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("listen client: %v", err)
	}
	defer client.Close()

	received := make(chan []byte, 1)
	var fromAddr addr.Addr
	var mu sync.Mutex

	if err := server.Start(func(from addr.Addr, frame []byte) {
		mu.Lock()
		fromAddr = from
		mu.Unlock()
		received <- frame
	}); err != nil {
		t.Fatalf("start server: %v", err)
	}
	if err := client.Start(func(addr.Addr, []byte) {}); err != nil {
		t.Fatalf("start client: %v", err)
	}

	if err := client.Send(server.LocalAddr(), []byte("hello")); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case frame := <-received:
		if string(frame) != "hello" {
			t.Fatalf("expected %q, got %q", "hello", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	mu.Lock()
	defer mu.Unlock()
	if fromAddr.IsZero() {
		t.Fatal("expected a non-zero source address")
	}

	stats := server.Statistics()
	if stats.PacketsReceived != 1 || stats.BytesReceived != 5 {
		t.Fatalf("unexpected receive stats: %+v", stats)
	}
}

func TestSendToZeroAddrFails(t *testing.T) {
	tr, err := Listen("udp", "127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer tr.Close()

	if err := tr.Send(addr.Addr{}, []byte("x")); err == nil {
		t.Fatal("expected error sending to zero address")
	}
}

func TestCloseUnblocksReadLoop(t *testing.T) {
	tr, err := Listen("udp", "127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := tr.Start(func(addr.Addr, []byte) {}); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- tr.Close() }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("close returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("close did not return; read loop likely stuck")
	}
}
