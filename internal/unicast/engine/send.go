package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aetherflow/unicast/internal/unicast/addr"
	"github.com/aetherflow/unicast/internal/unicast/message"
	"github.com/aetherflow/unicast/internal/unicast/sendwindow"
	"github.com/aetherflow/unicast/internal/unicast/wire"
	"github.com/aetherflow/unicast/pkg/guuid"
)

// allocConnID hands out a connection identifier unique to this Engine
// instance. The counter is seeded from the time this Engine was
// constructed (see New) rather than zero, so a process that restarts
// and reconnects to a peer that never evicted its old ReceiverEntry
// gets a conn_id that peer has not already seen: restart detection in
// getOrUpdateReceiver keys entirely on conn_id changing, never on its
// magnitude, so the only requirement is "different from last time",
// not "monotonic across the process's lifetime" (spec §9 Open
// Question: conn_id allocation is process-local and need not survive
// restart as a literal counter, only as a value distinct from it).
func (e *Engine) allocConnID() uint64 {
	return e.lastConnID.Add(1)
}

// getOrCreateSender returns the SenderEntry for dest, creating one with
// a freshly allocated conn_id and the first seqno if none exists yet.
func (e *Engine) getOrCreateSender(dest addr.Addr) *senderEntry {
	e.sendMu.RLock()
	entry, ok := e.sendTable[dest]
	e.sendMu.RUnlock()
	if ok {
		return entry
	}

	e.sendMu.Lock()
	defer e.sendMu.Unlock()
	if entry, ok := e.sendTable[dest]; ok {
		return entry
	}

	entry = &senderEntry{
		nextSeqno: DefaultFirstSeqno,
		connID:    e.allocConnID(),
	}
	entry.window = sendwindow.New(e.scheduler, e.timeouts, func(seqno uint64, m *message.Message) {
		e.retransmit(dest, seqno, m)
	}, e.logger)
	e.sendTable[dest] = entry
	return entry
}

// Send transmits m to m.Dest, assigning it the next seqno in that
// peer's stream and arming its retransmit timer (spec §4.5). Multicast
// destinations bypass the reliability layer entirely: there is no
// per-peer SenderEntry to address a group with.
func (e *Engine) Send(ctx context.Context, m *message.Message) error {
	if guuid.GUUID(m.TraceID).IsZero() {
		if id, err := guuid.NewV7(); err == nil {
			m.TraceID = [16]byte(id)
		}
	}

	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartForGUUID(ctx, "unicast.send", traceIDString(m.TraceID), m.Dest.String())
		defer span.End()
	}

	if m.Dest.IsMulticast() {
		return e.sendRaw(m.Dest, wire.Header{Type: wire.DATA}, flagsForMessage(m), m.Payload)
	}

	if e.ageoutCache != nil && !e.isMember(m.Dest) {
		e.ageoutCache.Touch(m.Dest, time.Now())
	}

	entry := e.getOrCreateSender(m.Dest)

	entry.mu.Lock()
	seqno := entry.nextSeqno
	entry.nextSeqno++
	connID := entry.connID
	first := seqno == DefaultFirstSeqno
	entry.mu.Unlock()

	h := wire.Header{
		Type:   wire.DATA,
		Seqno:  seqno,
		ConnID: connID,
		First:  first,
	}
	if slot := pendingSlotFrom(ctx); slot != nil {
		if ack, ok := slot.take(m.Dest); ok {
			h.Ack = ack
		}
	}

	m.SetUnicastHeader(h)
	entry.window.Add(seqno, m)

	if err := e.sendRaw(m.Dest, h, flagsForMessage(m), m.Payload); err != nil {
		// m is already in the send window, so its retransmit timer resends
		// it; the failure is logged, not returned.
		e.logger.Warn("engine: send failed, leaving it to the retransmitter", zap.String("peer", m.Dest.String()), zap.Uint64("seqno", seqno), zap.Error(err))
	}

	e.stats.msgsSent.Add(1)
	e.stats.bytesSent.Add(uint64(m.Len()))
	if h.HasAck() {
		e.stats.acksSent.Add(1)
	}

	if e.metrics != nil {
		e.metrics.RecordSend(m.Len())
		if h.HasAck() {
			e.metrics.RecordAckSent()
		}
		e.metrics.SetUnackedMsgs(m.Dest.String(), entry.window.Len())
	}
	return nil
}

func (e *Engine) sendRaw(dest addr.Addr, h wire.Header, flags byte, payload []byte) error {
	frame := buildFrame(h, flags, payload)
	if err := e.transport.Send(dest, frame); err != nil {
		return fmt.Errorf("engine: send to %s: %w", dest, err)
	}
	return nil
}

// retransmit is the SendWindow retry callback: it resends the original
// frame unchanged except for a freshly-sampled piggyback ACK, since the
// peer's receive state may have advanced since the first attempt.
func (e *Engine) retransmit(dest addr.Addr, seqno uint64, m *message.Message) {
	h, ok := m.UnicastHeader()
	if !ok {
		e.logger.Error("engine: retransmit missing unicast header", zap.String("peer", dest.String()), zap.Uint64("seqno", seqno))
		return
	}
	if ack, ok := e.currentAckFor(dest); ok {
		h.Ack = ack
	}

	if e.tracer != nil {
		_, span := e.tracer.StartForGUUID(context.Background(), "unicast.retransmit", traceIDString(m.TraceID), dest.String())
		defer span.End()
	}

	e.stats.retransmits.Add(1)
	if e.metrics != nil {
		e.metrics.RecordRetransmit()
	}
	e.logger.Debug("retransmitting", zap.String("peer", dest.String()), zap.Uint64("seqno", seqno), zap.String("trace_id", traceIDString(m.TraceID)))

	if err := e.sendRaw(dest, h, flagsForMessage(m), m.Payload); err != nil {
		e.logger.Warn("engine: retransmit failed", zap.String("peer", dest.String()), zap.Uint64("seqno", seqno), zap.Error(err))
	}
}

// sendAck emits a standalone ACK frame for seqno to peer, used when no
// outgoing DATA is available to piggyback it on (spec §4.6).
func (e *Engine) sendAck(peer addr.Addr, seqno uint64) {
	if e.disconnected.Load() {
		return
	}
	h := wire.Header{Type: wire.ACK, Ack: seqno}
	if err := e.sendRaw(peer, h, 0, nil); err != nil {
		e.logger.Warn("engine: send ack failed", zap.String("peer", peer.String()), zap.Error(err))
		return
	}
	e.stats.acksSent.Add(1)
	if e.metrics != nil {
		e.metrics.RecordAckSent()
	}
}

// sendResendFirst asks peer to resend its first DATA because this
// engine holds no valid ReceiverEntry for the stream it is sending
// (spec §4.6).
func (e *Engine) sendResendFirst(peer addr.Addr) {
	h := wire.Header{Type: wire.SendFirstSeqno, First: true}
	if err := e.sendRaw(peer, h, 0, nil); err != nil {
		e.logger.Warn("engine: send resend-first failed", zap.String("peer", peer.String()), zap.Error(err))
	}
}
