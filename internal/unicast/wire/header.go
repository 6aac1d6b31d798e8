// Package wire implements the fixed-size on-the-wire header for the
// unicast protocol, the way internal/quantum/protocol implements the
// Quantum packet header: plain encoding/binary, big-endian, no
// reflection, byte-identical across versions.
package wire

import (
	"encoding/binary"
	"fmt"
)

// Type identifies the kind of packet carried by a Header.
type Type uint8

const (
	// DATA carries an application payload.
	DATA Type = iota
	// ACK is a standalone acknowledgment with no payload.
	ACK
	// SendFirstSeqno asks the peer to resend its first DATA (first=true)
	// because the receiver has no valid state for the stream.
	SendFirstSeqno
)

func (t Type) String() string {
	switch t {
	case DATA:
		return "DATA"
	case ACK:
		return "ACK"
	case SendFirstSeqno:
		return "SEND_FIRST_SEQNO"
	default:
		return fmt.Sprintf("TYPE(%d)", uint8(t))
	}
}

// Size is the fixed size of a Header on the wire: a 1-byte type prefix
// followed by 26 bytes of fixed fields (seqno:8, conn_id:8, first:1,
// ack:8, reserved:1). The reserved byte is always zero on the wire and
// ignored on read; it exists purely to keep the struct's declared size
// at 27 bytes (spec §3) while preserving the field order spelled out in
// spec §6 (type, seqno, conn_id, first, ack).
const Size = 27

// Header is the fixed-width unicast protocol header.
type Header struct {
	Type   Type
	Seqno  uint64
	ConnID uint64
	First  bool
	Ack    uint64
}

// Marshal serializes h into a new Size-byte buffer.
func (h Header) Marshal() []byte {
	buf := make([]byte, Size)
	h.MarshalTo(buf)
	return buf
}

// MarshalTo serializes h into buf, which must be at least Size bytes.
func (h Header) MarshalTo(buf []byte) {
	_ = buf[Size-1]
	buf[0] = byte(h.Type)
	binary.BigEndian.PutUint64(buf[1:9], h.Seqno)
	binary.BigEndian.PutUint64(buf[9:17], h.ConnID)
	if h.First {
		buf[17] = 1
	} else {
		buf[17] = 0
	}
	binary.BigEndian.PutUint64(buf[18:26], h.Ack)
	buf[26] = 0 // reserved
}

// Unmarshal parses a Header from buf. buf must hold at least Size
// bytes; only the first Size are read, so a caller may pass the header
// followed by its payload (there is no length prefix, spec §4.4).
func Unmarshal(buf []byte) (Header, error) {
	if len(buf) < Size {
		return Header{}, fmt.Errorf("wire: short header: need %d bytes, got %d", Size, len(buf))
	}

	t := Type(buf[0])
	switch t {
	case DATA, ACK, SendFirstSeqno:
	default:
		return Header{}, fmt.Errorf("wire: unknown header type %d", buf[0])
	}

	return Header{
		Type:   t,
		Seqno:  binary.BigEndian.Uint64(buf[1:9]),
		ConnID: binary.BigEndian.Uint64(buf[9:17]),
		First:  buf[17] != 0,
		Ack:    binary.BigEndian.Uint64(buf[18:26]),
	}, nil
}

// HasAck reports whether the header carries a piggybacked ACK. Seqno 0
// is never assigned (spec §9 Open Question), so Ack == 0 unambiguously
// means "no piggybacked ACK".
func (h Header) HasAck() bool {
	return h.Ack > 0
}

func (h Header) String() string {
	return fmt.Sprintf("Unicast{%s seq=%d conn=%d first=%t ack=%d}",
		h.Type, h.Seqno, h.ConnID, h.First, h.Ack)
}
