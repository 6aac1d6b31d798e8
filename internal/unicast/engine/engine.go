// Package engine implements the protocol engine: event dispatch over
// the send/receive windows, connection tables, piggybacked ACKs, the
// OOB fast path and view-change handling (spec §4.5-§4.7). It is
// generalized from internal/quantum.Connection (one goroutine set per
// dialed peer, driven by sendLoop/recvLoop/reliabilityLoop/keepaliveLoop)
// into a single engine multiplexing every peer over one transport, the
// way a real group-communication stack runs one protocol instance per
// member rather than one per connection.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/aetherflow/unicast/internal/unicast/addr"
	"github.com/aetherflow/unicast/internal/unicast/ageout"
	"github.com/aetherflow/unicast/internal/unicast/membership"
	"github.com/aetherflow/unicast/internal/unicast/message"
	"github.com/aetherflow/unicast/internal/unicast/metrics"
	"github.com/aetherflow/unicast/internal/unicast/recvwindow"
	"github.com/aetherflow/unicast/internal/unicast/scheduler"
	"github.com/aetherflow/unicast/internal/unicast/sendwindow"
	"github.com/aetherflow/unicast/internal/unicast/tracing"
	"github.com/aetherflow/unicast/internal/unicast/transport"
	"github.com/aetherflow/unicast/internal/unicast/wire"
)

// DefaultFirstSeqno is the first seqno a SenderEntry ever assigns (spec §3).
const DefaultFirstSeqno uint64 = 1

// DefaultAgeOutSweepInterval is how often the age-out cache scans when
// the caller does not configure one explicitly.
const DefaultAgeOutSweepInterval = 30 * time.Second

// UpcallFunc delivers a message to the layer above. It must not block
// indefinitely and must not re-enter the engine while holding any lock
// of its own (spec §5).
type UpcallFunc func(ctx context.Context, m *message.Message)

// Config holds the engine's tunables, mirroring the recognized
// configuration options of spec §6.
type Config struct {
	// Timeouts is the retransmit backoff list; defaults to
	// sendwindow.DefaultTimeouts when empty.
	Timeouts []time.Duration

	// MaxRetransmitTime bounds how long an idle peer connection may
	// live before the age-out cache tears it down. 0 disables age-out.
	MaxRetransmitTime time.Duration

	// AgeOutSweepInterval is how often the age-out cache sweeps for
	// expired peers. Defaults to DefaultAgeOutSweepInterval.
	AgeOutSweepInterval time.Duration

	// Loopback is accepted for configuration compatibility with
	// deployments migrating from the older JGroups UNICAST3 config
	// surface, but this engine never loops a self-addressed Send back
	// to its own upcall: a process that wants to observe its own sends
	// should do so before calling Send, not rely on the protocol layer
	// (spec §9 design notes).
	Loopback bool
}

type senderEntry struct {
	mu        sync.Mutex
	nextSeqno uint64
	connID    uint64
	window    *sendwindow.SendWindow
}

type recvEntry struct {
	connID uint64
	win    *recvwindow.ReceiveWindow
}

// Stats is a point-in-time snapshot of the observability surface
// required by spec §6, independent of whatever is separately exported
// to Prometheus via metrics.Collector.
type Stats struct {
	MsgsSent          uint64
	MsgsReceived      uint64
	BytesSent         uint64
	BytesReceived     uint64
	AcksSent          uint64
	AcksReceived      uint64
	Retransmits       uint64
	UndeliveredMsgs   int64
	NumUnackedMsgs    int
	NumMsgsInRecvWins int
}

type rawStats struct {
	msgsSent      atomic.Uint64
	msgsReceived  atomic.Uint64
	bytesSent     atomic.Uint64
	bytesReceived atomic.Uint64
	acksSent      atomic.Uint64
	acksReceived  atomic.Uint64
	retransmits   atomic.Uint64
}

// Engine is the reliable-unicast protocol engine: one instance
// multiplexes every peer relationship over a single Transport.
type Engine struct {
	transport transport.Transport
	scheduler scheduler.Scheduler
	logger    *zap.Logger
	metrics   *metrics.Collector
	tracer    *tracing.Tracer

	timeouts            []time.Duration
	maxRetransmitTime   time.Duration
	ageOutSweepInterval time.Duration

	localMu   sync.RWMutex
	localAddr addr.Addr

	sendMu    sync.RWMutex
	sendTable map[addr.Addr]*senderEntry

	recvMu    sync.RWMutex
	recvTable map[addr.Addr]*recvEntry

	membersMu sync.RWMutex
	members   map[addr.Addr]struct{}

	lastConnID   atomic.Uint64
	disconnected atomic.Bool
	started      atomic.Bool

	ageoutCache *ageout.Cache

	upcall UpcallFunc

	stats rawStats

	// undeliveredMsgs counts NEW, non-OOB arrivals across every peer
	// that have not yet been handed to the upcall by the regular drain
	// loop. It gates the OOB fast path's decision to piggyback-ack
	// immediately instead of waiting on the regular path (spec §4.6/§5/§6).
	undeliveredMsgs atomic.Int64
}

// New constructs an Engine. Call Start to begin reading from tr.
func New(cfg Config, tr transport.Transport, sched scheduler.Scheduler, logger *zap.Logger, mcol *metrics.Collector, tracer *tracing.Tracer) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	timeouts := cfg.Timeouts
	if len(timeouts) == 0 {
		timeouts = sendwindow.DefaultTimeouts
	}
	sweep := cfg.AgeOutSweepInterval
	if sweep <= 0 {
		sweep = DefaultAgeOutSweepInterval
	}

	e := &Engine{
		transport:           tr,
		scheduler:           sched,
		logger:              logger,
		metrics:             mcol,
		tracer:              tracer,
		timeouts:            timeouts,
		maxRetransmitTime:   cfg.MaxRetransmitTime,
		ageOutSweepInterval: sweep,
		sendTable:           make(map[addr.Addr]*senderEntry),
		recvTable:           make(map[addr.Addr]*recvEntry),
		members:             make(map[addr.Addr]struct{}),
	}

	// Seed the conn_id counter from the current time rather than always
	// starting at 0: a process that restarts and reconnects to a peer
	// that never evicted its old ReceiverEntry must get a conn_id the
	// peer has not already seen, or handle_data's restart detection
	// (conn_id change + first=true, spec §4.6) can never fire.
	e.lastConnID.Store(uint64(time.Now().UnixNano()))
	return e
}

// SetUpcall registers the function invoked for every delivered message.
func (e *Engine) SetUpcall(fn UpcallFunc) {
	e.upcall = fn
}

// Start binds the engine to its transport's receive loop and, if
// max_retransmit_time > 0, constructs the age-out cache (spec §4.7).
func (e *Engine) Start(local addr.Addr) error {
	e.SetLocalAddress(local)

	if e.maxRetransmitTime > 0 {
		e.ageoutCache = ageout.New(e.scheduler, e.maxRetransmitTime, e.ageOutSweepInterval, e.onAgeOut)
	}
	e.started.Store(true)

	return e.transport.Start(e.handleFrame)
}

// Stop clears started and tears down every connection.
func (e *Engine) Stop() {
	e.started.Store(false)
	e.RemoveAllConnections()
	e.undeliveredMsgs.Store(0)
	if e.ageoutCache != nil {
		e.ageoutCache.Stop()
	}
}

// SetLocalAddress stores the engine's own address.
func (e *Engine) SetLocalAddress(a addr.Addr) {
	e.localMu.Lock()
	e.localAddr = a
	e.localMu.Unlock()
}

func (e *Engine) getLocalAddress() addr.Addr {
	e.localMu.RLock()
	defer e.localMu.RUnlock()
	return e.localAddr
}

// Connect clears the disconnected flag.
func (e *Engine) Connect() {
	e.disconnected.Store(false)
}

// Disconnect sets the disconnected flag; while set, all ACK sends
// (including piggyback flushes) become no-ops (spec §4.7).
func (e *Engine) Disconnect() {
	e.disconnected.Store(true)
}

// OnViewChange applies a new membership view: non-members are evicted
// from both connection tables, and any tracked peer that became a
// member is dropped from the age-out cache (spec §4.7).
func (e *Engine) OnViewChange(v membership.View) {
	newMembers := v.Set()

	e.membersMu.Lock()
	e.members = newMembers
	e.membersMu.Unlock()

	e.sendMu.RLock()
	var nonMembers []addr.Addr
	for a := range e.sendTable {
		if _, ok := newMembers[a]; !ok {
			nonMembers = append(nonMembers, a)
		}
	}
	e.sendMu.RUnlock()

	e.recvMu.RLock()
	for a := range e.recvTable {
		if _, ok := newMembers[a]; ok {
			continue
		}
		found := false
		for _, x := range nonMembers {
			if x == a {
				found = true
				break
			}
		}
		if !found {
			nonMembers = append(nonMembers, a)
		}
	}
	e.recvMu.RUnlock()

	for _, a := range nonMembers {
		e.removeConnection(a)
	}

	if e.ageoutCache != nil {
		e.ageoutCache.DropMembers(newMembers)
	}

	if e.metrics != nil {
		e.metrics.RecordViewChange()
	}
	e.logger.Info("view change applied",
		zap.Uint64("view_id", v.ID),
		zap.Int("members", len(v.Members)),
		zap.Int("evicted", len(nonMembers)),
	)
}

func (e *Engine) isMember(a addr.Addr) bool {
	e.membersMu.RLock()
	defer e.membersMu.RUnlock()
	_, ok := e.members[a]
	return ok
}

func (e *Engine) onAgeOut(a addr.Addr) {
	e.removeConnection(a)
	if e.metrics != nil {
		e.metrics.RecordAgedOut()
	}
	e.logger.Info("connection aged out", zap.String("peer", a.String()))
}

func (e *Engine) removeConnection(a addr.Addr) {
	e.sendMu.Lock()
	if entry, ok := e.sendTable[a]; ok {
		entry.window.Reset()
		delete(e.sendTable, a)
	}
	e.sendMu.Unlock()

	e.recvMu.Lock()
	delete(e.recvTable, a)
	e.recvMu.Unlock()

	if e.ageoutCache != nil {
		e.ageoutCache.Remove(a)
	}
}

// RemoveAllConnections tears down every sender and receiver entry,
// cancelling their retransmit timers.
func (e *Engine) RemoveAllConnections() {
	e.sendMu.Lock()
	for _, entry := range e.sendTable {
		entry.window.Reset()
	}
	e.sendTable = make(map[addr.Addr]*senderEntry)
	e.sendMu.Unlock()

	e.recvMu.Lock()
	e.recvTable = make(map[addr.Addr]*recvEntry)
	e.recvMu.Unlock()
}

// ResetStats zeroes every counter in the observability surface.
func (e *Engine) ResetStats() {
	e.stats.msgsSent.Store(0)
	e.stats.msgsReceived.Store(0)
	e.stats.bytesSent.Store(0)
	e.stats.bytesReceived.Store(0)
	e.stats.acksSent.Store(0)
	e.stats.acksReceived.Store(0)
	e.stats.retransmits.Store(0)
}

// Stats returns a snapshot of the engine's counters (spec §6).
func (e *Engine) Stats() Stats {
	var unacked, inRecvWins int

	e.sendMu.RLock()
	for _, entry := range e.sendTable {
		unacked += entry.window.Len()
	}
	e.sendMu.RUnlock()

	e.recvMu.RLock()
	for _, entry := range e.recvTable {
		inRecvWins += entry.win.BufferedCount()
	}
	e.recvMu.RUnlock()

	return Stats{
		MsgsSent:          e.stats.msgsSent.Load(),
		MsgsReceived:      e.stats.msgsReceived.Load(),
		BytesSent:         e.stats.bytesSent.Load(),
		BytesReceived:     e.stats.bytesReceived.Load(),
		AcksSent:          e.stats.acksSent.Load(),
		AcksReceived:      e.stats.acksReceived.Load(),
		Retransmits:       e.stats.retransmits.Load(),
		UndeliveredMsgs:   e.undeliveredMsgs.Load(),
		NumUnackedMsgs:    unacked,
		NumMsgsInRecvWins: inRecvWins,
	}
}

// PrintConnections renders the current connection tables for debugging.
func (e *Engine) PrintConnections() string {
	e.sendMu.RLock()
	defer e.sendMu.RUnlock()
	e.recvMu.RLock()
	defer e.recvMu.RUnlock()

	out := "send_table:\n"
	for a, entry := range e.sendTable {
		out += fmt.Sprintf("  %s conn_id=%d unacked=%d\n", a, entry.connID, entry.window.Len())
	}
	out += "recv_table:\n"
	for a, entry := range e.recvTable {
		out += fmt.Sprintf("  %s conn_id=%d next_to_remove=%d buffered=%d\n", a, entry.connID, entry.win.NextToRemove(), entry.win.BufferedCount())
	}
	return out
}

// PrintUnackedMessages renders the lowest unacked seqno per peer.
func (e *Engine) PrintUnackedMessages() string {
	e.sendMu.RLock()
	defer e.sendMu.RUnlock()

	out := ""
	for a, entry := range e.sendTable {
		if seqno, _, ok := entry.window.Lowest(); ok {
			out += fmt.Sprintf("%s lowest_unacked=%d count=%d\n", a, seqno, entry.window.Len())
		}
	}
	return out
}

// PrintAgeOutCache renders the number of peers tracked for idle eviction.
func (e *Engine) PrintAgeOutCache() string {
	if e.ageoutCache == nil {
		return "age-out cache disabled\n"
	}
	return fmt.Sprintf("age_out_cache: %d tracked peers\n", e.ageoutCache.Size())
}
