package nat

import (
	"log/slog"
	"net/netip"

	"github.com/netsim/netsim/internal/packet"
)

// dispatchIncomingExternal handles a packet arriving on the outside (spec
// §4.7 "Incoming"). IPv6 and anything not addressed to our external IPv4
// address is dropped; TCP and UDP are translated and forwarded to the
// internal interface the restrictions table says is allowed to receive it.
func (t *task) dispatchIncomingExternal(ip packet.IPv4) {
	if len(ip) == 0 || ip[0]>>4 != 4 {
		t.recordDropped("not_ipv4")
		return
	}
	if ip.DestIP() != t.externalIPv4 {
		t.log.Debug("dropping external packet for different address", slog.String("dst", ip.DestIP().String()))
		t.recordDropped("wrong_address")
		return
	}

	switch ip.Transport() {
	case packet.TransportTCP:
		t.dispatchIncomingExternalTCP(ip)
	case packet.TransportUDP:
		t.dispatchIncomingExternalUDP(ip)
	default:
		// ICMP and anything else passes through untranslated in the
		// original design; the fabric's NAT does not forward it.
	}
}

func (t *task) dispatchIncomingExternalTCP(ip packet.IPv4) {
	tcp := ip.AsTCP()
	port := tcp.DestAddr().Port()

	mapped, allowed := t.lookupIncoming(t.tcpPortMap, t.tcpRestrictions, port, tcp.SourceAddr())
	if !allowed {
		if t.replyWithRSTToUnmapped {
			t.sendExternal(synthesizeRST(tcp))
		}
		t.log.Debug("dropping external tcp packet for unmapped or disallowed port", slog.Int("port", int(port)))
		t.recordDropped("unmapped_port")
		return
	}

	idx, ok := t.internalAddrIndexes[mapped.Addr()]
	if !ok {
		t.recordDropped("unknown_internal_device")
		return
	}
	p, ok := t.internalIfaces[idx]
	if !ok {
		t.recordDropped("unknown_internal_device")
		return
	}

	tcp.SetDestAddr(mapped)
	if err := p.TrySend(packet.Buffer(ip)); err != nil {
		delete(t.internalIfaces, idx)
		t.recordDropped("backpressure")
		return
	}
	t.recordForwarded()
}

func (t *task) dispatchIncomingExternalUDP(ip packet.IPv4) {
	udp := ip.AsUDP()
	port := udp.DestAddr().Port()

	mapped, allowed := t.lookupIncoming(t.udpPortMap, t.udpRestrictions, port, udp.SourceAddr())
	if !allowed {
		t.log.Debug("dropping external udp packet for unmapped or disallowed port", slog.Int("port", int(port)))
		t.recordDropped("unmapped_port")
		return
	}

	idx, ok := t.internalAddrIndexes[mapped.Addr()]
	if !ok {
		t.recordDropped("unknown_internal_device")
		return
	}
	p, ok := t.internalIfaces[idx]
	if !ok {
		t.recordDropped("unknown_internal_device")
		return
	}

	udp.SetDestAddr(mapped)
	if err := p.TrySend(packet.Buffer(ip)); err != nil {
		delete(t.internalIfaces, idx)
		t.recordDropped("backpressure")
		return
	}
	t.recordForwarded()
}

// lookupIncoming resolves externalPort to an internal socket, honoring the
// restrictions table, for either transport's port map.
func (t *task) lookupIncoming(pm *PortMap, r *Restrictions, externalPort uint16, source netip.AddrPort) (netip.AddrPort, bool) {
	if !r.IncomingAllowed(externalPort, source) {
		return netip.AddrPort{}, false
	}
	return pm.IncomingAddr(externalPort)
}

// dispatchIncomingInternal handles a packet arriving on internal interface
// idx (spec §4.7 "Outgoing" / "Internal ↔ internal"). IPv6 packets and
// packets from outside the configured internal network are dropped. Packets
// addressed within the internal network are delivered directly without
// translation; everything else is translated and sent out the external
// interface, with hair-pinning applied when the destination is our own
// external address.
func (t *task) dispatchIncomingInternal(idx int, ip packet.IPv4) {
	if len(ip) == 0 || ip[0]>>4 != 4 {
		t.recordDropped("not_ipv4")
		return
	}
	src := ip.SourceIP()
	if !t.internalIPv4Network.Contains(src) {
		t.log.Debug("dropping internal packet from wrong network", slog.String("src", src.String()))
		t.recordDropped("wrong_network")
		return
	}
	t.internalAddrIndexes[src] = idx

	dst := ip.DestIP()
	if t.internalIPv4Network.Contains(dst) {
		t.deliverInternalToInternal(ip, dst)
		return
	}

	switch ip.Transport() {
	case packet.TransportTCP:
		t.translateOutgoingTCP(ip)
	case packet.TransportUDP:
		t.translateOutgoingUDP(ip)
	default:
	}
}

func (t *task) deliverInternalToInternal(ip packet.IPv4, dst netip.Addr) {
	idx, ok := t.internalAddrIndexes[dst]
	if !ok {
		t.log.Debug("dropping internal packet to unknown internal device", slog.String("dst", dst.String()))
		t.recordDropped("unknown_internal_device")
		return
	}
	p, ok := t.internalIfaces[idx]
	if !ok {
		t.recordDropped("unknown_internal_device")
		return
	}
	if err := p.TrySend(packet.Buffer(ip)); err != nil {
		delete(t.internalIfaces, idx)
		t.recordDropped("backpressure")
		return
	}
	t.recordForwarded()
}

func (t *task) translateOutgoingTCP(ip packet.IPv4) {
	tcp := ip.AsTCP()
	internal := tcp.SourceAddr()
	port := t.tcpPortMap.OutgoingPort(internal)
	t.tcpRestrictions.Sending(port, tcp.DestAddr())
	tcp.SetSourceAddr(netip.AddrPortFrom(t.externalIPv4, port))
	t.forwardOutgoing(ip)
}

func (t *task) translateOutgoingUDP(ip packet.IPv4) {
	udp := ip.AsUDP()
	internal := udp.SourceAddr()
	port := t.udpPortMap.OutgoingPort(internal)
	t.udpRestrictions.Sending(port, udp.DestAddr())
	udp.SetSourceAddr(netip.AddrPortFrom(t.externalIPv4, port))
	t.forwardOutgoing(ip)
}

// forwardOutgoing sends a just-translated packet out the external
// interface, unless it is addressed to our own external IP, in which case
// hair-pinning (if enabled) re-enters it through the incoming path.
func (t *task) forwardOutgoing(ip packet.IPv4) {
	if ip.DestIP() == t.externalIPv4 {
		if t.hairPinning {
			t.dispatchIncomingExternal(ip)
		} else {
			t.log.Debug("dropping hair-pin candidate packet: hair-pinning disabled")
			t.recordDropped("hairpin_disabled")
		}
		return
	}
	t.sendExternal(packet.Buffer(ip))
}

func (t *task) sendExternal(buf packet.Buffer) {
	if t.external == nil {
		t.recordDropped("external_down")
		return
	}
	if err := t.external.TrySend(buf); err != nil {
		t.external = nil
		t.recordDropped("backpressure")
		return
	}
	t.recordForwarded()
}
