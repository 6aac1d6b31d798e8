package tracing

import (
	"context"
	"errors"
	"testing"
)

func TestDisabledTracerIsNoOp(t *testing.T) {
	tr, err := New(&Config{Enable: false}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if tr.IsEnabled() {
		t.Fatal("expected disabled tracer")
	}

	ctx, span := tr.StartForGUUID(context.Background(), "send", "abc123", "10.0.0.1:9000")
	if ctx == nil || span == nil {
		t.Fatal("expected a non-nil context and span even when disabled")
	}

	// None of these should panic on a disabled tracer.
	tr.AddEvent(ctx, "retransmit")
	tr.SetAttributes(ctx)
	tr.RecordError(ctx, errors.New("boom"))

	if got := tr.GetTraceID(ctx); got != "" {
		t.Fatalf("expected empty trace id when disabled, got %q", got)
	}
	if got := tr.GetSpanID(ctx); got != "" {
		t.Fatalf("expected empty span id when disabled, got %q", got)
	}

	if err := tr.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown of disabled tracer should be a no-op, got %v", err)
	}
}

func TestUnsupportedExporterErrors(t *testing.T) {
	_, err := New(&Config{Enable: true, Exporter: "not-a-real-exporter"}, nil)
	if err == nil {
		t.Fatal("expected error for unsupported exporter")
	}
}
