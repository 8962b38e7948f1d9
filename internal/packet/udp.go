package packet

import (
	"encoding/binary"
	"net/netip"
)

// UDPv4 is a view over a UDP datagram (RFC 768) carried in an IPv4 packet.
type UDPv4 struct {
	ip IPv4
}

func (u UDPv4) header() []byte { return u.ip[u.ip.HeaderLen():] }

func (u UDPv4) sourcePort() uint16 { return binary.BigEndian.Uint16(u.header()[0:2]) }
func (u UDPv4) destPort() uint16   { return binary.BigEndian.Uint16(u.header()[2:4]) }

// Length returns the UDP Length field (header offset 4): header + payload.
func (u UDPv4) Length() uint16 { return binary.BigEndian.Uint16(u.header()[4:6]) }

// SourceAddr returns the combined IP source address and UDP source port.
func (u UDPv4) SourceAddr() netip.AddrPort {
	return netip.AddrPortFrom(u.ip.SourceIP(), u.sourcePort())
}

// DestAddr returns the combined IP destination address and UDP destination
// port.
func (u UDPv4) DestAddr() netip.AddrPort {
	return netip.AddrPortFrom(u.ip.DestIP(), u.destPort())
}

// SetSourceAddr rewrites the IP source address and UDP source port, then
// recomputes both the IPv4 header checksum and the UDP checksum.
func (u UDPv4) SetSourceAddr(addr netip.AddrPort) {
	u.ip.setSourceIP(addr.Addr())
	binary.BigEndian.PutUint16(u.header()[0:2], addr.Port())
	u.ip.RecomputeChecksum()
	u.recomputeChecksum()
}

// SetDestAddr rewrites the IP destination address and UDP destination port,
// then recomputes both checksums.
func (u UDPv4) SetDestAddr(addr netip.AddrPort) {
	u.ip.setDestIP(addr.Addr())
	binary.BigEndian.PutUint16(u.header()[2:4], addr.Port())
	u.ip.RecomputeChecksum()
	u.recomputeChecksum()
}

// Checksum returns the stored UDP checksum field (header offset 6).
func (u UDPv4) Checksum() uint16 {
	return binary.BigEndian.Uint16(u.header()[6:8])
}

// recomputeChecksum zeroes the checksum field, recomputes it over the
// pseudo-header and datagram, and writes the result back. A recomputed value
// of zero is sent as all-ones (0xffff) per RFC 768, since zero means "no
// checksum computed" on the wire.
func (u UDPv4) recomputeChecksum() {
	h := u.header()[:u.Length()]
	h[6] = 0
	h[7] = 0
	sum := transportChecksumV4(u.ip.SourceIP().As4(), u.ip.DestIP().As4(), protoUDP, h)
	if sum == 0 {
		sum = 0xffff
	}
	binary.BigEndian.PutUint16(h[6:8], sum)
}

// VerifyChecksum reports whether the stored UDP checksum is valid. A stored
// value of 0 means "no checksum was computed" and is always considered
// valid, per RFC 768.
func (u UDPv4) VerifyChecksum() bool {
	if u.Checksum() == 0 {
		return true
	}
	h := u.header()[:u.Length()]
	sum := transportChecksumV4(u.ip.SourceIP().As4(), u.ip.DestIP().As4(), protoUDP, h)
	return sum == 0
}

// Payload returns the bytes following the fixed 8-byte UDP header.
func (u UDPv4) Payload() []byte {
	return u.header()[8:u.Length()]
}
