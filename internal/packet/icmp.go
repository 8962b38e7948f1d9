package packet

// ICMPv4 is a minimal view over an ICMPv4 message (RFC 792). The fabric does
// not translate or synthesize ICMP; this view only exposes the type, code
// and payload. The hub forwards ICMP like any other packet; the NAT drops it.
type ICMPv4 struct {
	ip IPv4
}

func (i ICMPv4) header() []byte { return i.ip[i.ip.HeaderLen():] }

// ICMPv4 message types this package names explicitly; all others pass
// through identified only by their raw Type().
const (
	ICMPEchoReply   uint8 = 0
	ICMPEchoRequest uint8 = 8
)

// Type returns the ICMP Type field (byte 0).
func (i ICMPv4) Type() uint8 { return i.header()[0] }

// Code returns the ICMP Code field (byte 1).
func (i ICMPv4) Code() uint8 { return i.header()[1] }

// Payload returns the bytes following the 8-byte ICMP header (identifier,
// sequence number, and echo data for Echo Request/Reply).
func (i ICMPv4) Payload() []byte {
	return i.header()[8:]
}
