package packet

import "net/netip"

// defaultTTL is used for packets synthesized by the fabric itself (the NAT's
// RST synthesis) rather than forwarded from a real source.
const defaultTTL = 64

// NewBareIPv4TCP allocates a minimal IPv4 datagram carrying a TCP segment
// with no options and no payload: a 20-byte IP header followed by a 20-byte
// TCP header. It is used to synthesize control segments (RST|ACK) that were
// never themselves received, rather than to mutate a forwarded packet.
func NewBareIPv4TCP(src, dst netip.AddrPort, flags Flags) Buffer {
	const ipHeaderLen = 20
	const tcpHeaderLen = 20

	buf := make(Buffer, ipHeaderLen+tcpHeaderLen)
	buf[0] = 0x45 // version 4, IHL 5
	buf[8] = defaultTTL
	buf[9] = protoTCP

	ip := buf.AsIPv4()
	tcp := ip.AsTCP()
	tcp.header()[12] = byte(tcpHeaderLen/4) << 4 // data offset, no options
	tcp.SetFlags(flags)                          // recomputes TCP checksum
	tcp.SetSourceAddr(src)                       // recomputes both checksums
	tcp.SetDestAddr(dst)                         // recomputes both checksums

	return buf
}
