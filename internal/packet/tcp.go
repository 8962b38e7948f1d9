package packet

import (
	"encoding/binary"
	"net/netip"
)

// TCPv4 is a view over a TCP segment (RFC 793 Section 3.1) carried in an
// IPv4 datagram. Offsets below are relative to the start of the TCP header,
// i.e. ip.HeaderLen() bytes into the IPv4 buffer.
type TCPv4 struct {
	ip IPv4
}

func (t TCPv4) header() []byte { return t.ip[t.ip.HeaderLen():] }

func (t TCPv4) sourcePort() uint16 { return binary.BigEndian.Uint16(t.header()[0:2]) }
func (t TCPv4) destPort() uint16   { return binary.BigEndian.Uint16(t.header()[2:4]) }

// SeqNum returns the Sequence Number field (header offset 4).
func (t TCPv4) SeqNum() uint32 { return binary.BigEndian.Uint32(t.header()[4:8]) }

// AckNum returns the Acknowledgment Number field (header offset 8).
func (t TCPv4) AckNum() uint32 { return binary.BigEndian.Uint32(t.header()[8:12]) }

// SetAckNum writes the Acknowledgment Number field and recomputes the TCP
// checksum.
func (t TCPv4) SetAckNum(ack uint32) {
	binary.BigEndian.PutUint32(t.header()[8:12], ack)
	t.recomputeChecksum()
}

// DataOffset returns the TCP header length in bytes (high nibble of byte 12,
// in 32-bit words).
func (t TCPv4) DataOffset() int {
	return int(t.header()[12]>>4) * 4
}

// SourceAddr returns the combined IP source address and TCP source port.
func (t TCPv4) SourceAddr() netip.AddrPort {
	return netip.AddrPortFrom(t.ip.SourceIP(), t.sourcePort())
}

// DestAddr returns the combined IP destination address and TCP destination
// port.
func (t TCPv4) DestAddr() netip.AddrPort {
	return netip.AddrPortFrom(t.ip.DestIP(), t.destPort())
}

// SetSourceAddr rewrites the IP source address and TCP source port, then
// recomputes both the IPv4 header checksum and the TCP checksum.
func (t TCPv4) SetSourceAddr(addr netip.AddrPort) {
	t.ip.setSourceIP(addr.Addr())
	binary.BigEndian.PutUint16(t.header()[0:2], addr.Port())
	t.ip.RecomputeChecksum()
	t.recomputeChecksum()
}

// SetDestAddr rewrites the IP destination address and TCP destination port,
// then recomputes both checksums.
func (t TCPv4) SetDestAddr(addr netip.AddrPort) {
	t.ip.setDestIP(addr.Addr())
	binary.BigEndian.PutUint16(t.header()[2:4], addr.Port())
	t.ip.RecomputeChecksum()
	t.recomputeChecksum()
}

// Flags is the set of TCP control bits (RFC 793 Section 3.1, plus the ECN
// bits from RFC 3168), packed into byte 13 of the TCP header.
type Flags struct {
	CWR, ECE, URG, ACK, PSH, RST, SYN, FIN bool
}

func flagsFromByte(b byte) Flags {
	return Flags{
		CWR: b&0x80 != 0,
		ECE: b&0x40 != 0,
		URG: b&0x20 != 0,
		ACK: b&0x10 != 0,
		PSH: b&0x08 != 0,
		RST: b&0x04 != 0,
		SYN: b&0x02 != 0,
		FIN: b&0x01 != 0,
	}
}

func (f Flags) byte() byte {
	var b byte
	if f.CWR {
		b |= 0x80
	}
	if f.ECE {
		b |= 0x40
	}
	if f.URG {
		b |= 0x20
	}
	if f.ACK {
		b |= 0x10
	}
	if f.PSH {
		b |= 0x08
	}
	if f.RST {
		b |= 0x04
	}
	if f.SYN {
		b |= 0x02
	}
	if f.FIN {
		b |= 0x01
	}
	return b
}

// Flags reads the control bits from byte 13 of the TCP header.
func (t TCPv4) Flags() Flags {
	return flagsFromByte(t.header()[13])
}

// SetFlags writes the control bits back to byte 13 and recomputes the TCP
// checksum.
func (t TCPv4) SetFlags(f Flags) {
	t.header()[13] = f.byte()
	t.recomputeChecksum()
}

// Checksum returns the stored TCP checksum field (header offset 16).
func (t TCPv4) Checksum() uint16 {
	return binary.BigEndian.Uint16(t.header()[16:18])
}

// recomputeChecksum zeroes the checksum field, recomputes it over the
// pseudo-header and segment, and writes the result back last (RFC 793
// Section 3.1, RFC 1071).
func (t TCPv4) recomputeChecksum() {
	h := t.header()
	h[16] = 0
	h[17] = 0
	sum := transportChecksumV4(t.ip.SourceIP().As4(), t.ip.DestIP().As4(), protoTCP, h)
	binary.BigEndian.PutUint16(h[16:18], sum)
}

// VerifyChecksum reports whether the stored TCP checksum is valid.
func (t TCPv4) VerifyChecksum() bool {
	h := t.header()
	sum := transportChecksumV4(t.ip.SourceIP().As4(), t.ip.DestIP().As4(), protoTCP, h)
	return sum == 0
}

// Payload returns the bytes following the TCP header (past any options).
func (t TCPv4) Payload() []byte {
	return t.header()[t.DataOffset():]
}
