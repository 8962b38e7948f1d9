// Package packet implements zero-copy, checksum-aware views over IP packet
// buffers: IPv4 and IPv6 headers (RFC 791, RFC 8200), and the TCP (RFC 793),
// UDP (RFC 768), and ICMPv4 (RFC 792) payloads they carry.
//
// A view is a thin wrapper around a []byte that reinterprets the underlying
// bytes in place; it does not copy. Mutators that change an address or port
// field always recompute the affected checksum(s) before returning, so a
// view is never left in a state where the header says one thing and the
// checksum validates another.
package packet

import "net/netip"

// Version is the IP version carried in the high nibble of the first byte of
// a packet.
type Version int

const (
	V4 Version = 4
	V6 Version = 6
)

// VersionOf reads the IP version from the first byte of buf. Buffers
// entering the fabric are produced either by a kernel TUN device or by the
// fabric's own translators and are always well-formed IP datagrams; any
// other value is a programmer error, not a runtime condition to recover
// from, so VersionOf panics rather than returning an error.
func VersionOf(buf []byte) Version {
	if len(buf) == 0 {
		panic("packet: empty buffer has no IP version")
	}
	switch buf[0] >> 4 {
	case 4:
		return V4
	case 6:
		return V6
	default:
		panic("packet: buffer is not a well-formed IPv4 or IPv6 datagram")
	}
}

// Transport identifies which upper-layer protocol an IPv4/IPv6 payload
// carries, as dispatched from the protocol/next-header byte.
type Transport int

const (
	TransportUnknown Transport = iota
	TransportTCP
	TransportUDP
	TransportICMP
)

// IANA protocol numbers (RFC 790) for the transports this package dispatches.
const (
	protoICMP = 1
	protoTCP  = 6
	protoUDP  = 17
)

func classifyTransport(protoNum uint8) Transport {
	switch protoNum {
	case protoTCP:
		return TransportTCP
	case protoUDP:
		return TransportUDP
	case protoICMP:
		return TransportICMP
	default:
		return TransportUnknown
	}
}

// Buffer is an owned packet buffer: a heap byte slice carrying exactly one
// IP datagram starting at the IP header. It is owned exclusively by
// whichever fabric component currently holds it; Clone is used wherever a
// packet needs to reach more than one destination (hub fan-out, NAT
// hair-pinning).
type Buffer []byte

// Clone returns an independent copy of the buffer's bytes.
func (b Buffer) Clone() Buffer {
	out := make(Buffer, len(b))
	copy(out, b)
	return out
}

// Version reports the IP version of the packet. Panics per VersionOf.
func (b Buffer) Version() Version { return VersionOf(b) }

// AsIPv4 reinterprets the buffer as an IPv4 view. Callers must already know
// (via Version) that the buffer is IPv4; AsIPv4 performs no validation.
func (b Buffer) AsIPv4() IPv4 { return IPv4(b) }

// AsIPv6 reinterprets the buffer as an IPv6 view.
func (b Buffer) AsIPv6() IPv6 { return IPv6(b) }

// addrPortEqual reports whether two AddrPort values refer to the same
// endpoint. Nothing in the module calls it at present.
func addrPortEqual(a, b netip.AddrPort) bool {
	return a.Addr() == b.Addr() && a.Port() == b.Port()
}
