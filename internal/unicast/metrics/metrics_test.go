package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// A single Collector is constructed for the whole test file since
// promauto registers against the default registry and a second
// same-named registration would panic.
var c = New("unicast_test", "engine")

func TestRecordSendUpdatesCounters(t *testing.T) {
	before := testutil.ToFloat64(c.MsgsSent)
	c.RecordSend(128)
	if got := testutil.ToFloat64(c.MsgsSent); got != before+1 {
		t.Fatalf("expected MsgsSent to increment by 1, got delta %v", got-before)
	}
	if got := testutil.ToFloat64(c.BytesSent); got < 128 {
		t.Fatalf("expected BytesSent to include 128, got %v", got)
	}
}

func TestSetUnackedMsgsPerPeer(t *testing.T) {
	c.SetUnackedMsgs("10.0.0.1:9000", 7)
	if got := testutil.ToFloat64(c.UnackedMsgs.WithLabelValues("10.0.0.1:9000")); got != 7 {
		t.Fatalf("expected 7 unacked msgs, got %v", got)
	}
}

func TestRecordRetransmitAndViewChange(t *testing.T) {
	beforeX := testutil.ToFloat64(c.Retransmits)
	beforeV := testutil.ToFloat64(c.ViewChangesTotal)

	c.RecordRetransmit()
	c.RecordViewChange()

	if got := testutil.ToFloat64(c.Retransmits); got != beforeX+1 {
		t.Fatalf("expected retransmits to increment by 1, got delta %v", got-beforeX)
	}
	if got := testutil.ToFloat64(c.ViewChangesTotal); got != beforeV+1 {
		t.Fatalf("expected view changes to increment by 1, got delta %v", got-beforeV)
	}
}
