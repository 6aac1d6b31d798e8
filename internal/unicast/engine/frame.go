package engine

import (
	"encoding/hex"
	"fmt"

	"github.com/aetherflow/unicast/internal/unicast/message"
	"github.com/aetherflow/unicast/internal/unicast/wire"
)

// traceIDString renders a message's correlation ID for use as a span
// attribute (see tracing.Tracer.StartForGUUID).
func traceIDString(id [16]byte) string {
	return hex.EncodeToString(id[:])
}

// flagOOB marks a DATA frame for out-of-band delivery at the receiver.
const flagOOB byte = 1 << 0

// frameFlagsSize is the one extra byte the engine prepends to every
// wire.Header: the header itself (spec §3) has no room for a
// message-level flag bit, so the engine carries it just outside the
// header the same way the teacher's transport.Conn prefixes its own
// length framing outside protocol.Header (internal/quantum/transport/conn.go).
const frameFlagsSize = 1

// buildFrame assembles [flags:1][wire.Header:27][payload...] for h/payload.
func buildFrame(h wire.Header, flags byte, payload []byte) []byte {
	buf := make([]byte, frameFlagsSize+wire.Size+len(payload))
	buf[0] = flags
	h.MarshalTo(buf[frameFlagsSize:])
	copy(buf[frameFlagsSize+wire.Size:], payload)
	return buf
}

// parseFrame splits a raw frame into its flags byte, header, and payload.
func parseFrame(frame []byte) (flags byte, h wire.Header, payload []byte, err error) {
	if len(frame) < frameFlagsSize+wire.Size {
		return 0, wire.Header{}, nil, fmt.Errorf("engine: short frame: need at least %d bytes, got %d", frameFlagsSize+wire.Size, len(frame))
	}
	flags = frame[0]
	h, err = wire.Unmarshal(frame[frameFlagsSize:])
	if err != nil {
		return 0, wire.Header{}, nil, err
	}
	payload = frame[frameFlagsSize+wire.Size:]
	return flags, h, payload, nil
}

func flagsForMessage(m *message.Message) byte {
	if m.IsOOB() {
		return flagOOB
	}
	return 0
}

func messageFlagsFromWire(flags byte) message.Flag {
	var f message.Flag
	if flags&flagOOB != 0 {
		f |= message.OOB
	}
	return f
}
