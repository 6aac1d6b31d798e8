// Package metrics exposes the engine's per-instance counters to
// Prometheus, generalized from internal/gateway/metrics.Metrics (which
// wires promauto CounterVec/GaugeVec/HistogramVec under a
// Namespace/Subsystem) into the fixed set of counters spec §6 names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds every counter and gauge the engine reports.
type Collector struct {
	MsgsSent       prometheus.Counter
	MsgsReceived   prometheus.Counter
	BytesSent      prometheus.Counter
	BytesReceived  prometheus.Counter
	AcksSent       prometheus.Counter
	AcksReceived   prometheus.Counter
	Retransmits    prometheus.Counter

	UndeliveredMsgs    prometheus.Gauge
	UnackedMsgs        *prometheus.GaugeVec
	MsgsInRecvWindows  *prometheus.GaugeVec

	ConnectionsActive prometheus.Gauge
	ViewChangesTotal  prometheus.Counter
	ConnectionsAgedOut prometheus.Counter
}

// New wires every counter under namespace/subsystem, matching the
// teacher's NewMetrics constructor shape.
func New(namespace, subsystem string) *Collector {
	return &Collector{
		MsgsSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "num_msgs_sent", Help: "Total number of unicast messages sent",
		}),
		MsgsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "num_msgs_received", Help: "Total number of unicast messages received",
		}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "num_bytes_sent", Help: "Total number of payload bytes sent",
		}),
		BytesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "num_bytes_received", Help: "Total number of payload bytes received",
		}),
		AcksSent: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "num_acks_sent", Help: "Total number of ACKs sent, including piggybacked ones",
		}),
		AcksReceived: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "num_acks_received", Help: "Total number of ACKs received, including piggybacked ones",
		}),
		Retransmits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "num_xmits", Help: "Total number of retransmitted messages",
		}),
		UndeliveredMsgs: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "undelivered_msgs", Help: "Messages received but not yet delivered upward, across all peers",
		}),
		UnackedMsgs: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "num_unacked_msgs", Help: "Unacknowledged messages in a peer's send window",
		}, []string{"peer"}),
		MsgsInRecvWindows: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "num_msgs_in_recv_windows", Help: "Messages buffered in a peer's receive window awaiting a gap fill",
		}, []string{"peer"}),
		ConnectionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connections_active", Help: "Number of peers with an open send or receive table entry",
		}),
		ViewChangesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "view_changes_total", Help: "Total number of membership view changes processed",
		}),
		ConnectionsAgedOut: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem,
			Name: "connections_aged_out_total", Help: "Total number of peer connections evicted by the age-out cache",
		}),
	}
}

// RecordSend updates counters for one outbound DATA message.
func (c *Collector) RecordSend(payloadBytes int) {
	c.MsgsSent.Inc()
	c.BytesSent.Add(float64(payloadBytes))
}

// RecordReceive updates counters for one inbound DATA message.
func (c *Collector) RecordReceive(payloadBytes int) {
	c.MsgsReceived.Inc()
	c.BytesReceived.Add(float64(payloadBytes))
}

// RecordAckSent increments the ACK-sent counter, whether the ACK rode
// a standalone ACK frame or piggybacked on a DATA frame.
func (c *Collector) RecordAckSent() {
	c.AcksSent.Inc()
}

// RecordAckReceived increments the ACK-received counter.
func (c *Collector) RecordAckReceived() {
	c.AcksReceived.Inc()
}

// RecordRetransmit increments the retransmit counter.
func (c *Collector) RecordRetransmit() {
	c.Retransmits.Inc()
}

// SetUnackedMsgs reports the current send-window depth for a peer.
func (c *Collector) SetUnackedMsgs(peer string, n int) {
	c.UnackedMsgs.WithLabelValues(peer).Set(float64(n))
}

// SetMsgsInRecvWindow reports the current receive-window depth for a peer.
func (c *Collector) SetMsgsInRecvWindow(peer string, n int) {
	c.MsgsInRecvWindows.WithLabelValues(peer).Set(float64(n))
}

// SetUndeliveredMsgs reports the engine-wide undelivered count.
func (c *Collector) SetUndeliveredMsgs(n int) {
	c.UndeliveredMsgs.Set(float64(n))
}

// SetConnectionsActive reports the current connection-table size.
func (c *Collector) SetConnectionsActive(n int) {
	c.ConnectionsActive.Set(float64(n))
}

// RecordViewChange increments the view-change counter.
func (c *Collector) RecordViewChange() {
	c.ViewChangesTotal.Inc()
}

// RecordAgedOut increments the age-out eviction counter.
func (c *Collector) RecordAgedOut() {
	c.ConnectionsAgedOut.Inc()
}
