package nat

import "github.com/netsim/netsim/internal/packet"

// synthesizeRST builds an RST|ACK reply to an unmapped or disallowed TCP
// segment (spec §4.7 "reply_with_rst_to_unexpected_tcp_packets", test
// scenario 6). Source and destination are swapped relative to the received
// segment, and ack_number is set to the received sequence number plus one;
// the reply carries no payload and no TCP options.
func synthesizeRST(received packet.TCPv4) packet.Buffer {
	reply := packet.NewBareIPv4TCP(
		received.DestAddr(),
		received.SourceAddr(),
		packet.Flags{RST: true, ACK: true},
	)
	replyTCP := reply.AsIPv4().AsTCP()
	replyTCP.SetAckNum(received.SeqNum() + 1)
	return reply
}
