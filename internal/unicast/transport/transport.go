// Package transport provides the wire-level send/receive facility the
// engine sits on top of, generalized from internal/quantum/transport.Conn
// (one *net.UDPConn per dialed peer) into a single multiplexed socket
// serving every peer in the view, the way a real unicast layer shares
// one UDP port underneath many logical connections (spec §1, external
// interfaces).
package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aetherflow/unicast/internal/unicast/addr"
)

const (
	// DefaultReadBufferSize matches the teacher's transport.Conn default.
	DefaultReadBufferSize = 2 * 1024 * 1024

	// DefaultWriteBufferSize matches the teacher's transport.Conn default.
	DefaultWriteBufferSize = 2 * 1024 * 1024

	// maxFrameSize bounds a single read: header (27 bytes) plus a
	// generous payload ceiling.
	maxFrameSize = 64 * 1024
)

// ReceiveFunc is invoked for every frame read off the socket, with the
// sender's address and the raw bytes (header + payload, undecoded).
// The engine owns framing; Transport only moves bytes.
type ReceiveFunc func(from addr.Addr, frame []byte)

// Transport is what the engine needs from the network: send a frame to
// a peer, and register a callback for inbound frames.
type Transport interface {
	Send(dest addr.Addr, frame []byte) error
	Start(onReceive ReceiveFunc) error
	LocalAddr() addr.Addr
	Statistics() Statistics
	Close() error
}

// Statistics mirrors the teacher's transport.Statistics, widened to a
// socket serving many peers instead of one.
type Statistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	Errors          uint64
}

// Config configures the UDP transport.
type Config struct {
	ReadBufferSize  int
	WriteBufferSize int
}

// DefaultConfig returns the teacher's buffer-size defaults.
func DefaultConfig() *Config {
	return &Config{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
	}
}

// UDPTransport multiplexes every peer in the view over one
// *net.UDPConn, resolving destination addresses lazily and caching
// them, since the engine addresses peers by addr.Addr rather than by a
// live *net.UDPConn per peer.
type UDPTransport struct {
	conn      *net.UDPConn
	localAddr addr.Addr

	resolveMu sync.Mutex
	resolved  map[addr.Addr]*net.UDPAddr

	stats Statistics

	closed atomic.Bool
	wg     sync.WaitGroup
}

// Listen opens a UDP socket at address and returns a transport ready
// for Start.
func Listen(network, address string, config *Config) (*UDPTransport, error) {
	if config == nil {
		config = DefaultConfig()
	}

	udpAddr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve listen address: %w", err)
	}

	conn, err := net.ListenUDP(network, udpAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}
	if err := conn.SetReadBuffer(config.ReadBufferSize); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: set read buffer: %w", err)
	}
	if err := conn.SetWriteBuffer(config.WriteBufferSize); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: set write buffer: %w", err)
	}

	return &UDPTransport{
		conn:      conn,
		localAddr: addr.FromUDP(conn.LocalAddr().(*net.UDPAddr)),
		resolved:  make(map[addr.Addr]*net.UDPAddr),
	}, nil
}

// Start launches the read loop, invoking onReceive for every frame.
// Start returns once the loop goroutine is running; the loop itself
// runs until Close.
func (t *UDPTransport) Start(onReceive ReceiveFunc) error {
	t.wg.Add(1)
	go t.readLoop(onReceive)
	return nil
}

func (t *UDPTransport) readLoop(onReceive ReceiveFunc) {
	defer t.wg.Done()

	buf := make([]byte, maxFrameSize)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if t.closed.Load() {
				return
			}
			atomic.AddUint64(&t.stats.Errors, 1)
			continue
		}

		atomic.AddUint64(&t.stats.PacketsReceived, 1)
		atomic.AddUint64(&t.stats.BytesReceived, uint64(n))

		frame := make([]byte, n)
		copy(frame, buf[:n])

		srcAddr := addr.FromUDP(from)
		t.resolveMu.Lock()
		t.resolved[srcAddr] = from
		t.resolveMu.Unlock()

		if onReceive != nil {
			onReceive(srcAddr, frame)
		}
	}
}

// Send writes frame to dest, resolving dest's *net.UDPAddr from the
// cache built by prior received traffic, falling back to
// net.ResolveUDPAddr when dest has never been seen.
func (t *UDPTransport) Send(dest addr.Addr, frame []byte) error {
	if dest.IsZero() {
		return fmt.Errorf("transport: empty destination address")
	}

	udpAddr, err := t.resolve(dest)
	if err != nil {
		atomic.AddUint64(&t.stats.Errors, 1)
		return fmt.Errorf("transport: resolve %s: %w", dest, err)
	}

	n, err := t.conn.WriteToUDP(frame, udpAddr)
	if err != nil {
		atomic.AddUint64(&t.stats.Errors, 1)
		return fmt.Errorf("transport: write to %s: %w", dest, err)
	}

	atomic.AddUint64(&t.stats.PacketsSent, 1)
	atomic.AddUint64(&t.stats.BytesSent, uint64(n))
	return nil
}

func (t *UDPTransport) resolve(dest addr.Addr) (*net.UDPAddr, error) {
	t.resolveMu.Lock()
	if ua, ok := t.resolved[dest]; ok {
		t.resolveMu.Unlock()
		return ua, nil
	}
	t.resolveMu.Unlock()

	ua, err := net.ResolveUDPAddr("udp", dest.Host)
	if err != nil {
		return nil, err
	}

	t.resolveMu.Lock()
	t.resolved[dest] = ua
	t.resolveMu.Unlock()
	return ua, nil
}

// LocalAddr returns the socket's bound address.
func (t *UDPTransport) LocalAddr() addr.Addr {
	return t.localAddr
}

// Statistics returns a snapshot of send/receive counters.
func (t *UDPTransport) Statistics() Statistics {
	return Statistics{
		PacketsSent:     atomic.LoadUint64(&t.stats.PacketsSent),
		PacketsReceived: atomic.LoadUint64(&t.stats.PacketsReceived),
		BytesSent:       atomic.LoadUint64(&t.stats.BytesSent),
		BytesReceived:   atomic.LoadUint64(&t.stats.BytesReceived),
		Errors:          atomic.LoadUint64(&t.stats.Errors),
	}
}

// Close shuts down the socket and waits for the read loop to exit.
func (t *UDPTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	t.wg.Wait()
	return err
}

var _ Transport = (*UDPTransport)(nil)

// dialTimeout bounds address resolution performed against a DNS
// resolver rather than a literal IP:port, matching the teacher's use of
// a background context with a fixed deadline elsewhere in connection
// setup (internal/quantum/connection.go).
const dialTimeout = 5 * time.Second

// ResolveWithTimeout resolves a host:port string to an addr.Addr,
// bounding resolution time the way Connect bounds handshake time in the
// teacher's Connection.Connect.
func ResolveWithTimeout(ctx context.Context, hostport string) (addr.Addr, error) {
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var resolver net.Resolver
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		return addr.Addr{}, fmt.Errorf("transport: split host port: %w", err)
	}
	ips, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return addr.Addr{}, fmt.Errorf("transport: resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return addr.Addr{}, fmt.Errorf("transport: no addresses for %s", host)
	}
	return addr.Addr{Host: net.JoinHostPort(ips[0].String(), port)}, nil
}
