package engine

import (
	"context"
	"sync"

	"github.com/aetherflow/unicast/internal/unicast/addr"
)

// pendingAck is the request-scoped "pending piggyback slot" spec §9
// calls for: a single-slot carrier that lets handle_data's processing
// of an inbound frame attach its ACK to whatever DATA send happens in
// the same upcall, instead of always emitting a standalone ACK frame.
// Go has no thread-locals, so the slot is realized as a value carried
// on the context.Context passed down through the upcall (spec §9
// design notes), guarded by its own mutex since the same context may
// be shared by concurrent goroutines reading it (it never should be
// mutated concurrently in practice, but the engine does not control
// what the upcall does with the context it is handed).
type pendingAck struct {
	mu    sync.Mutex
	addr  addr.Addr
	seqno uint64
	set   bool
}

type pendingAckKeyType struct{}

var pendingAckKey pendingAckKeyType

// withPendingSlot returns a context carrying a fresh, empty pending-ack
// slot, scoped to one inbound-frame upcall.
func withPendingSlot(ctx context.Context) (context.Context, *pendingAck) {
	slot := &pendingAck{}
	return context.WithValue(ctx, pendingAckKey, slot), slot
}

func pendingSlotFrom(ctx context.Context) *pendingAck {
	slot, _ := ctx.Value(pendingAckKey).(*pendingAck)
	return slot
}

// setOrFlush records that the next DATA frame sent to a within
// this upcall should piggyback seqno as its ack field. If the slot
// already holds an entry for a different peer, that entry is flushed
// immediately via flush before being overwritten, since a slot holds
// at most one peer's ACK at a time (spec §9).
func (p *pendingAck) setOrFlush(a addr.Addr, seqno uint64, flush func(addr.Addr, uint64)) {
	p.mu.Lock()
	var toFlush addr.Addr
	var flushSeqno uint64
	doFlush := false
	if p.set && p.addr != a {
		toFlush, flushSeqno, doFlush = p.addr, p.seqno, true
	}
	p.addr, p.seqno, p.set = a, seqno, true
	p.mu.Unlock()

	if doFlush && flush != nil {
		flush(toFlush, flushSeqno)
	}
}

// take drains the slot's entry for a, returning (seqno, true) exactly
// once; a second call (or a call for a different peer) returns
// (0, false).
func (p *pendingAck) take(a addr.Addr) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set || p.addr != a {
		return 0, false
	}
	p.set = false
	return p.seqno, true
}

// drain empties the slot unconditionally, returning whatever it held,
// for the end of an upcall where nothing consumed it (spec §9: a
// pending ACK that is never attached to an outgoing DATA must still be
// flushed as a standalone ACK before the upcall returns).
func (p *pendingAck) drain() (addr.Addr, uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.set {
		return addr.Addr{}, 0, false
	}
	p.set = false
	return p.addr, p.seqno, true
}
