// Package message defines the application-visible Message that flows
// through the unicast engine, generalized from the teacher's
// transport.Packet (header + payload + remote addr) into the richer
// shape spec §3 requires: a destination/source pair, per-layer headers,
// and a flag set that the OOB fast path inspects.
package message

import (
	"github.com/aetherflow/unicast/internal/unicast/addr"
	"github.com/aetherflow/unicast/internal/unicast/wire"
)

// Flag is a bit in a Message's flag set.
type Flag uint32

const (
	// OOB marks a message for out-of-band delivery: FIFO does not apply
	// to it (spec §3 invariant 5).
	OOB Flag = 1 << iota
)

// Headers is an ordered map of per-layer headers, keyed by layer name.
// Only insertion order is meaningful; lookups are by key.
type Headers struct {
	order []string
	byKey map[string]any
}

// NewHeaders returns an empty header map.
func NewHeaders() *Headers {
	return &Headers{byKey: make(map[string]any)}
}

// Put adds or replaces the header under key, preserving first-insertion order.
func (h *Headers) Put(key string, value any) {
	if h.byKey == nil {
		h.byKey = make(map[string]any)
	}
	if _, exists := h.byKey[key]; !exists {
		h.order = append(h.order, key)
	}
	h.byKey[key] = value
}

// Get returns the header under key, if any.
func (h *Headers) Get(key string) (any, bool) {
	if h == nil {
		return nil, false
	}
	v, ok := h.byKey[key]
	return v, ok
}

// Keys returns header keys in insertion order.
func (h *Headers) Keys() []string {
	if h == nil {
		return nil
	}
	out := make([]string, len(h.order))
	copy(out, h.order)
	return out
}

// Message is one unit of application data moving through the engine.
type Message struct {
	Dest    addr.Addr
	Src     addr.Addr
	Payload []byte
	Headers *Headers
	Flags   Flag

	// TraceID correlates this send (and every retransmission of it)
	// across log lines and trace spans; see pkg/guuid.
	TraceID [16]byte
}

// HasFlag reports whether f is set.
func (m *Message) HasFlag(f Flag) bool {
	return m.Flags&f != 0
}

// SetFlag sets f.
func (m *Message) SetFlag(f Flag) {
	m.Flags |= f
}

// IsOOB reports whether this message bypasses FIFO ordering.
func (m *Message) IsOOB() bool {
	return m.HasFlag(OOB)
}

// Copy clones the message's destination, source, payload and flags but
// deliberately drops Headers: the engine re-adds its own unicast header
// after copying (spec §3), and any headers from other layers belonged
// to the original transmission attempt, not the retransmission.
func (m *Message) Copy() *Message {
	payload := make([]byte, len(m.Payload))
	copy(payload, m.Payload)
	return &Message{
		Dest:    m.Dest,
		Src:     m.Src,
		Payload: payload,
		Flags:   m.Flags,
		TraceID: m.TraceID,
	}
}

// Len returns the payload length.
func (m *Message) Len() int {
	return len(m.Payload)
}

// HeaderKey is the map key the engine uses to attach its own wire.Header
// to a Message's per-layer header map.
const HeaderKey = "UNICAST"

// SetUnicastHeader attaches the engine's wire header to the message.
func (m *Message) SetUnicastHeader(h wire.Header) {
	if m.Headers == nil {
		m.Headers = NewHeaders()
	}
	m.Headers.Put(HeaderKey, h)
}

// UnicastHeader retrieves the engine's wire header from the message, if present.
func (m *Message) UnicastHeader() (wire.Header, bool) {
	v, ok := m.Headers.Get(HeaderKey)
	if !ok {
		return wire.Header{}, false
	}
	h, ok := v.(wire.Header)
	return h, ok
}
