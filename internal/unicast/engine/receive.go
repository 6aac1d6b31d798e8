package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/aetherflow/unicast/internal/unicast/addr"
	"github.com/aetherflow/unicast/internal/unicast/message"
	"github.com/aetherflow/unicast/internal/unicast/recvwindow"
	"github.com/aetherflow/unicast/internal/unicast/wire"
)

// handleFrame is the Transport.Start receive callback: it demultiplexes
// one inbound frame by header type and, for the duration of processing
// it, carries a fresh pending-piggyback-slot context so a DATA frame's
// ACK can ride an application reply sent from within the same upcall
// (spec §9). Anything left in the slot when processing finishes is
// flushed as a standalone ACK.
func (e *Engine) handleFrame(from addr.Addr, frame []byte) {
	flags, h, payload, err := parseFrame(frame)
	if err != nil {
		e.logger.Warn("engine: dropping malformed frame", zap.String("peer", from.String()), zap.Error(err))
		return
	}

	if e.ageoutCache != nil && !e.isMember(from) {
		e.ageoutCache.Touch(from, time.Now())
	}

	ctx, slot := withPendingSlot(context.Background())

	switch h.Type {
	case wire.DATA:
		e.handleData(ctx, from, h, flags, payload)
	case wire.ACK:
		e.applyAck(from, h.Ack)
		e.stats.acksReceived.Add(1)
		if e.metrics != nil {
			e.metrics.RecordAckReceived()
		}
		return
	case wire.SendFirstSeqno:
		e.handleResendFirst(from)
		return
	default:
		e.logger.Warn("engine: unknown frame type", zap.String("peer", from.String()), zap.Uint8("type", uint8(h.Type)))
		return
	}

	if peer, seqno, ok := slot.drain(); ok {
		e.sendAck(peer, seqno)
	}
}

// handleData implements spec §4.6's data path: apply any piggybacked
// ACK, resolve or reject the ReceiverEntry, classify the arrival, run
// the OOB fast path, then drain whatever is now contiguous.
func (e *Engine) handleData(ctx context.Context, peer addr.Addr, h wire.Header, flags byte, payload []byte) {
	if e.tracer != nil {
		var span trace.Span
		ctx, span = e.tracer.StartForGUUID(ctx, "unicast.receive", fmt.Sprintf("seq=%d", h.Seqno), peer.String())
		defer span.End()
	}

	if h.HasAck() {
		e.applyAck(peer, h.Ack)
		e.stats.acksReceived.Add(1)
		if e.metrics != nil {
			e.metrics.RecordAckReceived()
		}
	}

	recv, ok := e.getOrUpdateReceiver(peer, h)
	if !ok {
		e.sendResendFirst(peer)
		return
	}

	body := make([]byte, len(payload))
	copy(body, payload)
	msg := &message.Message{
		Dest:    e.getLocalAddress(),
		Src:     peer,
		Payload: body,
		Flags:   messageFlagsFromWire(flags),
	}

	result := recv.win.Add(h.Seqno, msg)

	e.stats.msgsReceived.Add(1)
	e.stats.bytesReceived.Add(uint64(len(payload)))
	if e.metrics != nil {
		e.metrics.RecordReceive(len(payload))
		e.metrics.SetMsgsInRecvWindow(peer.String(), recv.win.BufferedCount())
	}

	switch result {
	case recvwindow.DuplicateDelivered:
		// The sender's earlier ACK was presumably lost; re-ack the
		// current cumulative point so its retransmit timer stops firing
		// for everything already delivered (spec §4.6).
		if ack := recv.win.NextToRemove() - 1; ack > 0 {
			e.ackNow(ctx, peer, ack)
		}
		return
	case recvwindow.DuplicatePending:
		return
	}

	if msg.IsOOB() {
		highestOOB := recv.win.RemoveOOBMessages()

		// Piggyback (or send) the OOB ack immediately, without waiting
		// for the regular drain to catch up, whenever there's nothing
		// for the regular path to usefully report yet: either nothing
		// is undelivered at all, or the window still has no contiguous
		// run to remove (spec §4.6 scenario 5).
		standalone := highestOOB != -1 && (e.undeliveredMsgs.Load() == 0 || !recv.win.HasPendingRegular())
		if standalone {
			e.ackNow(ctx, peer, uint64(highestOOB))
		}

		e.deliverUpcall(ctx, msg)

		if standalone {
			if slot := pendingSlotFrom(ctx); slot != nil {
				if seqno, ok := slot.take(peer); ok {
					e.sendAck(peer, seqno)
				}
			}
			return
		}
	} else {
		e.undeliveredMsgs.Add(1)
	}

	e.drain(ctx, peer, recv)
}

// ackNow offers seqno to the in-flight upcall's pending-piggyback slot
// so a reply sent from within it can carry the ACK; anything not
// consumed is flushed as a standalone ACK frame once the slot for a
// different peer would otherwise be overwritten, or at the end of
// handleFrame.
func (e *Engine) ackNow(ctx context.Context, peer addr.Addr, seqno uint64) {
	if e.disconnected.Load() {
		return
	}
	slot := pendingSlotFrom(ctx)
	if slot == nil {
		e.sendAck(peer, seqno)
		return
	}
	slot.setOrFlush(peer, seqno, e.sendAck)
}

// getOrUpdateReceiver resolves the ReceiverEntry for peer given the
// conn_id and first flag on an inbound header, detecting a peer restart
// (conn_id change accompanied by first=true) and rejecting frames for a
// stream whose start this engine never saw (spec §4.6).
func (e *Engine) getOrUpdateReceiver(peer addr.Addr, h wire.Header) (*recvEntry, bool) {
	e.recvMu.Lock()
	defer e.recvMu.Unlock()

	entry, exists := e.recvTable[peer]
	switch {
	case exists && entry.connID == h.ConnID:
		return entry, true

	case exists && h.First:
		// conn_id changed and the sender marks this its first DATA: the
		// peer restarted and renumbered its stream (spec §4.6).
		entry.connID = h.ConnID
		entry.win = recvwindow.New(h.Seqno)
		return entry, true

	case exists:
		// conn_id changed but this isn't a first DATA: we have no valid
		// state for whatever stream this belongs to.
		return nil, false

	case h.First:
		entry = &recvEntry{connID: h.ConnID, win: recvwindow.New(h.Seqno)}
		e.recvTable[peer] = entry
		return entry, true

	default:
		return nil, false
	}
}

// drain admits at most one goroutine into the regular-delivery loop at
// a time via ReceiveWindow.Processing (spec §4.2 invariant 4), retrying
// if a concurrent arrival filled a gap just as the token was released.
//
// Each contiguous batch is piggyback-acked before its upcalls run, not
// after the whole drain completes: that's what lets a reply Send issued
// from inside one of those upcalls consume the pending slot and carry
// the ACK out for free instead of forcing a standalone ACK frame
// (spec §4.6/§9).
func (e *Engine) drain(ctx context.Context, peer addr.Addr, recv *recvEntry) {
	for {
		if !recv.win.Processing.CompareAndSwap(false, true) {
			return
		}

		var numRegularRemoved int64
		for {
			msgs := recv.win.RemoveMany()
			if len(msgs) == 0 {
				break
			}

			highest := recv.win.NextToRemove() - 1
			e.ackNow(ctx, peer, highest)

			for _, m := range msgs {
				numRegularRemoved++
				e.deliverUpcall(ctx, m)
			}

			if slot := pendingSlotFrom(ctx); slot != nil {
				if seqno, ok := slot.take(peer); ok {
					e.sendAck(peer, seqno)
				}
			}
		}

		recv.win.Processing.Store(false)
		if numRegularRemoved > 0 {
			e.undeliveredMsgs.Add(-numRegularRemoved)
		}

		if !recv.win.HasPendingRegular() {
			return
		}
	}
}

func (e *Engine) deliverUpcall(ctx context.Context, m *message.Message) {
	if e.upcall == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("engine: upcall panicked; message counts as delivered", zap.String("peer", m.Src.String()), zap.Any("panic", r))
		}
	}()
	e.upcall(ctx, m)
}

// currentAckFor returns the current cumulative ack value for peer's
// ReceiverEntry, if one exists and has delivered at least one message.
func (e *Engine) currentAckFor(peer addr.Addr) (uint64, bool) {
	e.recvMu.RLock()
	entry, ok := e.recvTable[peer]
	e.recvMu.RUnlock()
	if !ok {
		return 0, false
	}
	ack := entry.win.NextToRemove() - 1
	return ack, ack > 0
}

// applyAck processes a cumulative ACK against peer's send window.
func (e *Engine) applyAck(peer addr.Addr, ack uint64) {
	if ack == 0 {
		return
	}
	e.sendMu.RLock()
	entry, ok := e.sendTable[peer]
	e.sendMu.RUnlock()
	if !ok {
		return
	}
	entry.window.Ack(ack)
	if e.metrics != nil {
		e.metrics.SetUnackedMsgs(peer.String(), entry.window.Len())
	}
}

// handleResendFirst responds to a SendFirstSeqno request by resending
// the lowest still-unacked message in peer's send window, marked first
// so the peer can re-seed its ReceiverEntry (spec §4.6). It operates on
// a payload copy rather than the SendWindow's own entry, since that
// entry may still be retransmitted under its original header later.
func (e *Engine) handleResendFirst(peer addr.Addr) {
	e.sendMu.RLock()
	entry, ok := e.sendTable[peer]
	e.sendMu.RUnlock()
	if !ok {
		return
	}

	_, msg, ok := entry.window.Lowest()
	if !ok {
		return
	}
	h, ok := msg.UnicastHeader()
	if !ok {
		return
	}
	h.First = true

	cp := msg.Copy()
	cp.SetUnicastHeader(h)

	if err := e.sendRaw(peer, h, flagsForMessage(cp), cp.Payload); err != nil {
		e.logger.Warn("engine: resend-first response failed", zap.String("peer", peer.String()), zap.Error(err))
	}
}
