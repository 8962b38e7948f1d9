package packet

import "net/netip"

// IPv6 is a view over an IPv6 datagram (RFC 8200 Section 3). The fabric
// treats IPv6 as pass-through only: the packet view supports the field
// accessors below, but the NAT and hub do not translate IPv6 addresses
// (spec Open Question: "IPv6 Coverage").
type IPv6 []byte

// headerLenV6 is the fixed IPv6 base header length; extension headers are
// not parsed.
const headerLenV6 = 40

// HeaderLen returns the fixed IPv6 base header length.
func (v IPv6) HeaderLen() int { return headerLenV6 }

// NextHeader returns the Next Header field (offset 6), analogous to IPv4's
// protocol byte.
func (v IPv6) NextHeader() uint8 { return v[6] }

// Transport dispatches NextHeader to TCP/UDP/ICMP/Unknown. Extension headers
// between the base header and the upper-layer payload are not walked; a
// chain that begins with one reports TransportUnknown.
func (v IPv6) Transport() Transport {
	return classifyTransport(v[6])
}

// SourceIP returns the IPv6 source address (offset 8).
func (v IPv6) SourceIP() netip.Addr {
	return netip.AddrFrom16([16]byte(v[8:24])).Unmap()
}

// DestIP returns the IPv6 destination address (offset 24).
func (v IPv6) DestIP() netip.Addr {
	return netip.AddrFrom16([16]byte(v[24:40])).Unmap()
}

// HopLimit returns the Hop Limit field (offset 7).
func (v IPv6) HopLimit() uint8 { return v[7] }

// Payload returns the bytes following the fixed base header.
func (v IPv6) Payload() []byte {
	return v[headerLenV6:]
}
