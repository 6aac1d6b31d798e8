// Package addr defines the endpoint identifier used throughout the
// unicast engine. It is deliberately thin: equality and hashing are the
// only properties the core relies on, the way the teacher's transport
// layer treats a *net.UDPAddr as an opaque peer key.
package addr

import "net"

// Addr identifies an endpoint in the group. Two Addrs naming the same
// endpoint compare equal and hash identically so they can key maps.
type Addr struct {
	// Host is the endpoint's network address (IP:port for the UDP
	// adapter, but the engine never parses it).
	Host string

	// Multicast marks a group address. The engine passes any Message
	// destined for one straight through to the layer below (spec §4.5
	// step 1) instead of assigning it a SenderEntry.
	Multicast bool
}

// FromUDP builds an Addr from a resolved UDP address.
func FromUDP(a *net.UDPAddr) Addr {
	if a == nil {
		return Addr{}
	}
	return Addr{Host: a.String()}
}

// IsZero reports whether this is the unset Addr.
func (a Addr) IsZero() bool {
	return a.Host == "" && !a.Multicast
}

// IsMulticast reports whether a is a group address rather than a single peer.
func (a Addr) IsMulticast() bool {
	return a.Multicast
}

// String implements fmt.Stringer for logging.
func (a Addr) String() string {
	if a.Multicast {
		return "mcast:" + a.Host
	}
	return a.Host
}
