package packet

import (
	"encoding/binary"
	"net/netip"
)

// IPv4 is a view over an IPv4 datagram (RFC 791 Section 3.1). The header is
// assumed to start at byte 0 of the underlying buffer.
type IPv4 []byte

// HeaderLen returns the IP header length in bytes, derived from the IHL
// field (low nibble of byte 0) times 4.
func (v IPv4) HeaderLen() int {
	return int(v[0]&0x0f) * 4
}

// Transport dispatches the protocol byte (offset 9) to TCP/UDP/ICMP/Unknown.
func (v IPv4) Transport() Transport {
	return classifyTransport(v[9])
}

// SourceIP returns the IPv4 source address (offset 12).
func (v IPv4) SourceIP() netip.Addr {
	return netip.AddrFrom4([4]byte(v[12:16]))
}

// DestIP returns the IPv4 destination address (offset 16).
func (v IPv4) DestIP() netip.Addr {
	return netip.AddrFrom4([4]byte(v[16:20]))
}

// setSourceIP writes the source address without touching any checksum;
// callers are responsible for recomputing checksums afterwards.
func (v IPv4) setSourceIP(addr netip.Addr) {
	a4 := addr.As4()
	copy(v[12:16], a4[:])
}

// setDestIP writes the destination address without touching any checksum.
func (v IPv4) setDestIP(addr netip.Addr) {
	a4 := addr.As4()
	copy(v[16:20], a4[:])
}

// TTL returns the time-to-live / hop count field (offset 8).
func (v IPv4) TTL() uint8 { return v[8] }

// SetTTL writes the TTL field and recomputes the header checksum.
func (v IPv4) SetTTL(ttl uint8) {
	v[8] = ttl
	v.RecomputeChecksum()
}

// HeaderChecksum returns the stored IPv4 header checksum (offset 10).
func (v IPv4) HeaderChecksum() uint16 {
	return binary.BigEndian.Uint16(v[10:12])
}

// RecomputeChecksum zeroes the header checksum field, recomputes it over the
// header bytes, and writes the result back (RFC 791 Section 3.1, RFC 1071).
func (v IPv4) RecomputeChecksum() {
	hlen := v.HeaderLen()
	v[10] = 0
	v[11] = 0
	sum := checksum(v[:hlen])
	binary.BigEndian.PutUint16(v[10:12], sum)
}

// VerifyChecksum reports whether the stored header checksum is valid.
func (v IPv4) VerifyChecksum() bool {
	hlen := v.HeaderLen()
	return checksum(v[:hlen]) == 0
}

// Payload returns the bytes following the IP header.
func (v IPv4) Payload() []byte {
	return v[v.HeaderLen():]
}

// AsTCP reinterprets the payload as a TCP-over-IPv4 view.
func (v IPv4) AsTCP() TCPv4 { return TCPv4{ip: v} }

// AsUDP reinterprets the payload as a UDP-over-IPv4 view.
func (v IPv4) AsUDP() UDPv4 { return UDPv4{ip: v} }

// AsICMP reinterprets the payload as an ICMPv4 view.
func (v IPv4) AsICMP() ICMPv4 { return ICMPv4{ip: v} }
