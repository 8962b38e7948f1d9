package nat_test

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/netsim/netsim/internal/iface"
	"github.com/netsim/netsim/internal/ipnet"
	"github.com/netsim/netsim/internal/nat"
	"github.com/netsim/netsim/internal/packet"
)

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	if err != nil {
		t.Fatalf("ParseAddr(%q): %v", s, err)
	}
	return a
}

// buildUDP constructs a minimal IPv4/UDP datagram with a valid checksum, for
// driving the NAT's translation path in tests.
func buildUDP(t *testing.T, src, dst netip.AddrPort, payload []byte) packet.Buffer {
	t.Helper()
	const ipHeaderLen = 20
	const udpHeaderLen = 8

	buf := make(packet.Buffer, ipHeaderLen+udpHeaderLen+len(payload))
	buf[0] = 0x45
	buf[8] = 64
	buf[9] = 17 // UDP

	udpHeader := buf[ipHeaderLen:]
	copy(udpHeader[udpHeaderLen:], payload)
	// Length must be set before SetSourceAddr/SetDestAddr recompute the
	// checksum, since it bounds the span the checksum is taken over.
	udpHeader[4] = byte(len(udpHeader) >> 8)
	udpHeader[5] = byte(len(udpHeader))

	udp := buf.AsIPv4().AsUDP()
	udp.SetSourceAddr(src)
	udp.SetDestAddr(dst)
	return buf
}

func buildTCP(t *testing.T, src, dst netip.AddrPort, flags packet.Flags) packet.Buffer {
	t.Helper()
	return packet.NewBareIPv4TCP(src, dst, flags)
}

func newTestNat(t *testing.T, opts func(*nat.Builder)) (*nat.Nat, *iface.Peer, context.Context, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)

	external := mustAddr(t, "203.0.113.1")
	internalNet := ipnet.New(mustAddr(t, "10.0.0.0"), 24)

	b := nat.NewBuilder(external, internalNet)
	if opts != nil {
		opts(b)
	}
	n, externalPeer := b.Build(ctx, nil)
	return n, externalPeer, ctx, cancel
}

// TestOutgoingPortAllocationIsFullCone covers spec scenario 3: one inside
// client sending to three different outside destinations is observed from
// the outside using the same mapped external port every time.
func TestOutgoingPortAllocationIsFullCone(t *testing.T) {
	t.Parallel()

	n, external, ctx, cancel := newTestNat(t, nil)
	defer cancel()

	outerInside, innerInside := iface.NewChannel(8)
	if err := n.InsertIface(ctx, innerInside); err != nil {
		t.Fatalf("InsertIface: %v", err)
	}

	insideAddr := netip.MustParseAddrPort("10.0.0.5:40000")
	destinations := []netip.AddrPort{
		netip.MustParseAddrPort("198.51.100.1:80"),
		netip.MustParseAddrPort("198.51.100.2:80"),
		netip.MustParseAddrPort("198.51.100.3:443"),
	}

	var observedPort uint16
	for i, dst := range destinations {
		pkt := buildUDP(t, insideAddr, dst, []byte("hello"))
		if err := outerInside.Send(ctx, pkt); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}

		got, err := external.Recv(ctx)
		if err != nil {
			t.Fatalf("external Recv %d: %v", i, err)
		}
		udp := got.AsIPv4().AsUDP()
		if udp.SourceAddr().Addr() != mustAddr(t, "203.0.113.1") {
			t.Fatalf("packet %d: source addr = %v, want external IP", i, udp.SourceAddr().Addr())
		}
		if udp.DestAddr() != dst {
			t.Fatalf("packet %d: dest addr = %v, want %v", i, udp.DestAddr(), dst)
		}
		port := udp.SourceAddr().Port()
		if i == 0 {
			observedPort = port
		} else if port != observedPort {
			t.Fatalf("packet %d: observed port %d, want %d (full-cone should reuse mapping)", i, port, observedPort)
		}
	}
}

// TestRestrictedModeRejectsUnsolicitedInbound covers spec scenario 4:
// port-restricted mode drops an inbound packet from a source the inside host
// never sent to, even though the external port is mapped.
func TestRestrictedModeRejectsUnsolicitedInbound(t *testing.T) {
	t.Parallel()

	n, external, ctx, cancel := newTestNat(t, func(b *nat.Builder) {
		b.PortRestricted()
	})
	defer cancel()

	outerInside, innerInside := iface.NewChannel(8)
	if err := n.InsertIface(ctx, innerInside); err != nil {
		t.Fatalf("InsertIface: %v", err)
	}

	insideAddr := netip.MustParseAddrPort("10.0.0.5:40000")
	allowed := netip.MustParseAddrPort("198.51.100.1:80")
	stranger := netip.MustParseAddrPort("198.51.100.2:9999")

	out := buildUDP(t, insideAddr, allowed, []byte("hi"))
	if err := outerInside.Send(ctx, out); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mapped, err := external.Recv(ctx)
	if err != nil {
		t.Fatalf("external Recv: %v", err)
	}
	externalPort := mapped.AsIPv4().AsUDP().SourceAddr().Port()
	externalAddr := mapped.AsIPv4().AsUDP().SourceAddr()

	// A reply from the allowed destination must be delivered.
	reply := buildUDP(t, allowed, externalAddr, []byte("reply"))
	if err := external.Send(ctx, reply); err != nil {
		t.Fatalf("Send reply: %v", err)
	}
	if _, err := outerInside.Recv(ctx); err != nil {
		t.Fatalf("expected allowed reply to be delivered: %v", err)
	}

	// An unsolicited packet from a stranger must be dropped.
	unsolicited := buildUDP(t, stranger, netip.AddrPortFrom(mustAddr(t, "203.0.113.1"), externalPort), []byte("nope"))
	if err := external.Send(ctx, unsolicited); err != nil {
		t.Fatalf("Send unsolicited: %v", err)
	}
	shortCtx, shortCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer shortCancel()
	if _, err := outerInside.Recv(shortCtx); err == nil {
		t.Fatalf("unsolicited packet from unrecognized source was delivered, want dropped")
	}
}

// TestChecksumPreservedAcrossTranslation covers spec scenario 5: after the
// NAT rewrites the source address of an outgoing UDP datagram, both the IP
// header checksum and the UDP checksum remain valid, and the payload is
// unchanged.
func TestChecksumPreservedAcrossTranslation(t *testing.T) {
	t.Parallel()

	n, external, ctx, cancel := newTestNat(t, nil)
	defer cancel()

	outerInside, innerInside := iface.NewChannel(8)
	if err := n.InsertIface(ctx, innerInside); err != nil {
		t.Fatalf("InsertIface: %v", err)
	}

	payload := []byte("payload-bytes")
	insideAddr := netip.MustParseAddrPort("10.0.0.5:40000")
	dst := netip.MustParseAddrPort("198.51.100.1:80")

	if err := outerInside.Send(ctx, buildUDP(t, insideAddr, dst, payload)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	got, err := external.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	ip := got.AsIPv4()
	if !ip.VerifyChecksum() {
		t.Fatalf("translated packet has invalid IPv4 checksum")
	}
	udp := ip.AsUDP()
	if !udp.VerifyChecksum() {
		t.Fatalf("translated packet has invalid UDP checksum")
	}
	if string(udp.Payload()) != string(payload) {
		t.Fatalf("payload = %q, want %q", udp.Payload(), payload)
	}
}

// TestRSTSynthesizedForUnmappedTCP covers spec scenario 6: an inbound TCP
// segment addressed to a port with no mapping gets an RST|ACK reply when
// reply_with_rst_to_unexpected_tcp_packets is enabled, with addresses
// swapped and ack_number = received seq_number + 1.
func TestRSTSynthesizedForUnmappedTCP(t *testing.T) {
	t.Parallel()

	_, external, ctx, cancel := newTestNat(t, func(b *nat.Builder) {
		b.ReplyWithRSTToUnexpectedTCPPackets()
	})
	defer cancel()

	remote := netip.MustParseAddrPort("198.51.100.1:443")
	unmappedExternal := netip.MustParseAddrPort("203.0.113.1:5000")

	segment := buildTCP(t, remote, unmappedExternal, packet.Flags{SYN: true})
	tcp := segment.AsIPv4().AsTCP()

	if err := external.Send(ctx, segment); err != nil {
		t.Fatalf("Send: %v", err)
	}

	reply, err := external.Recv(ctx)
	if err != nil {
		t.Fatalf("expected RST reply, got error: %v", err)
	}
	rst := reply.AsIPv4().AsTCP()
	flags := rst.Flags()
	if !flags.RST || !flags.ACK {
		t.Fatalf("reply flags = %+v, want RST|ACK", flags)
	}
	if rst.SourceAddr() != unmappedExternal {
		t.Fatalf("reply source = %v, want %v", rst.SourceAddr(), unmappedExternal)
	}
	if rst.DestAddr() != remote {
		t.Fatalf("reply dest = %v, want %v", rst.DestAddr(), remote)
	}
	if rst.AckNum() != tcp.SeqNum()+1 {
		t.Fatalf("reply ack_number = %d, want %d", rst.AckNum(), tcp.SeqNum()+1)
	}
}

// TestInternalToInternalDeliveredDirectly covers the internal-to-internal
// delivery path: a host inside the NAT addressing another inside host
// directly is delivered without ever touching the external interface.
func TestInternalToInternalDeliveredDirectly(t *testing.T) {
	t.Parallel()

	n, external, ctx, cancel := newTestNat(t, nil)
	defer cancel()

	outerA, innerA := iface.NewChannel(8)
	outerB, innerB := iface.NewChannel(8)
	if err := n.InsertIface(ctx, innerA); err != nil {
		t.Fatalf("InsertIface A: %v", err)
	}
	if err := n.InsertIface(ctx, innerB); err != nil {
		t.Fatalf("InsertIface B: %v", err)
	}

	addrA := netip.MustParseAddrPort("10.0.0.5:1111")
	addrB := netip.MustParseAddrPort("10.0.0.6:2222")

	// B must first be observed by the NAT so its address maps to an
	// interface index before A addresses it directly.
	if err := outerB.Send(ctx, buildUDP(t, addrB, netip.MustParseAddrPort("198.51.100.1:80"), []byte("x"))); err != nil {
		t.Fatalf("Send from B: %v", err)
	}
	if _, err := external.Recv(ctx); err != nil {
		t.Fatalf("external Recv: %v", err)
	}

	if err := outerA.Send(ctx, buildUDP(t, addrA, addrB, []byte("direct"))); err != nil {
		t.Fatalf("Send from A to B: %v", err)
	}

	got, err := outerB.Recv(ctx)
	if err != nil {
		t.Fatalf("B Recv: %v", err)
	}
	if string(got.AsIPv4().AsUDP().Payload()) != "direct" {
		t.Fatalf("B received %q, want \"direct\"", got.AsIPv4().AsUDP().Payload())
	}

	shortCtx, shortCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer shortCancel()
	if _, err := external.Recv(shortCtx); err == nil {
		t.Fatalf("internal-to-internal packet unexpectedly reached the external interface")
	}
}

// TestStatsReportsPortMapOccupancy covers the Stats query path used by
// internal/metrics and internal/control: sending traffic through the NAT
// must be reflected in the reported UDP port-map occupancy.
func TestStatsReportsPortMapOccupancy(t *testing.T) {
	t.Parallel()

	n, external, ctx, cancel := newTestNat(t, nil)
	defer cancel()

	before, err := n.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if before.UDPPortsMapped != 0 {
		t.Fatalf("UDPPortsMapped before traffic = %d, want 0", before.UDPPortsMapped)
	}

	outerInside, innerInside := iface.NewChannel(8)
	if err := n.InsertIface(ctx, innerInside); err != nil {
		t.Fatalf("InsertIface: %v", err)
	}

	pkt := buildUDP(t, netip.MustParseAddrPort("10.0.0.5:40000"), netip.MustParseAddrPort("198.51.100.1:80"), []byte("x"))
	if err := outerInside.Send(ctx, pkt); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := external.Recv(ctx); err != nil {
		t.Fatalf("external Recv: %v", err)
	}

	after, err := n.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if after.UDPPortsMapped != 1 {
		t.Fatalf("UDPPortsMapped after traffic = %d, want 1", after.UDPPortsMapped)
	}
}

// fakeRecorder captures internal/metrics calls for assertions without
// pulling in the prometheus registry.
type fakeRecorder struct {
	mu        sync.Mutex
	forwarded int
	dropped   map[string]int
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{dropped: make(map[string]int)}
}

func (r *fakeRecorder) IncPacketsForwarded(string) {
	r.mu.Lock()
	r.forwarded++
	r.mu.Unlock()
}

func (r *fakeRecorder) IncPacketsDropped(_, reason string) {
	r.mu.Lock()
	r.dropped[reason]++
	r.mu.Unlock()
}

func (r *fakeRecorder) snapshot() (int, map[string]int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropped := make(map[string]int, len(r.dropped))
	for k, v := range r.dropped {
		dropped[k] = v
	}
	return r.forwarded, dropped
}

// TestMetricsRecordsForwardedAndDroppedPackets covers the WithMetrics wiring
// used by cmd/netsimd to feed internal/metrics from live traffic.
func TestMetricsRecordsForwardedAndDroppedPackets(t *testing.T) {
	t.Parallel()

	rec := newFakeRecorder()
	n, external, ctx, cancel := newTestNat(t, func(b *nat.Builder) { b.WithMetrics("nat0", rec) })
	defer cancel()

	outerInside, innerInside := iface.NewChannel(8)
	if err := n.InsertIface(ctx, innerInside); err != nil {
		t.Fatalf("InsertIface: %v", err)
	}

	// A packet outside the internal network is dropped before translation.
	bad := buildUDP(t, netip.MustParseAddrPort("192.0.2.9:1"), netip.MustParseAddrPort("198.51.100.1:80"), []byte("x"))
	if err := outerInside.Send(ctx, bad); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// A well-formed outgoing packet is forwarded.
	good := buildUDP(t, netip.MustParseAddrPort("10.0.0.5:40000"), netip.MustParseAddrPort("198.51.100.1:80"), []byte("x"))
	if err := outerInside.Send(ctx, good); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := external.Recv(ctx); err != nil {
		t.Fatalf("external Recv: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		forwarded, dropped := rec.snapshot()
		if forwarded >= 1 && dropped["wrong_network"] >= 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("forwarded=%d dropped=%v, want forwarded>=1 and dropped[wrong_network]>=1", forwarded, dropped)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
