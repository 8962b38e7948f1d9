// Package nat implements the single-external/many-internal network address
// translator (spec §4.7, C7): the fabric's most policy-dense component,
// supporting full-cone and restricted port mapping, hair-pinning, internal-
// to-internal delivery, and optional RST synthesis for unmapped TCP.
package nat

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/netsim/netsim/internal/iface"
	"github.com/netsim/netsim/internal/ipnet"
)

// Nat is the handle returned to callers for inserting interfaces on the
// internal side; the translation state itself lives in the background task
// started by Builder.Build.
type Nat struct {
	insert chan *iface.Peer
	stats  chan chan Stats
}

// Stats is a snapshot of a running NAT's port-mapping utilization, used by
// internal/metrics and internal/control to report port-map occupancy
// without reaching into the task's internal state directly.
type Stats struct {
	TCPPortsMapped int
	UDPPortsMapped int
}

// Stats reports the NAT's current port-mapping utilization. It blocks
// until the background task answers or ctx is done.
func (n *Nat) Stats(ctx context.Context) (Stats, error) {
	reply := make(chan Stats, 1)
	select {
	case n.stats <- reply:
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return Stats{}, ctx.Err()
	}
}

// InsertIface adds an interface to the internal side of the NAT. Packets it
// sends to addresses outside internalIPv4Network are translated and sent
// out the external interface; this creates a port mapping that lets
// external hosts reach back in.
func (n *Nat) InsertIface(ctx context.Context, p *iface.Peer) error {
	select {
	case n.insert <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MetricsRecorder receives NAT forwarding events for internal/metrics to
// expose as Prometheus series. Implemented by *metrics.Collector; kept as a
// narrow interface here so this package never imports internal/metrics.
type MetricsRecorder interface {
	IncPacketsForwarded(component string)
	IncPacketsDropped(component, reason string)
}

// Builder configures a Nat before it starts running (spec §4.7
// "Configuration"). Zero value matches the spec's documented defaults.
type Builder struct {
	externalIPv4          netip.Addr
	internalIPv4Network   ipnet.Range
	hairPinning           bool
	addressRestricted     bool
	portRestricted        bool
	replyWithRSTToUnmapped bool
	metricsName           string
	metrics               MetricsRecorder
}

// NewBuilder starts building a Nat bound to externalIPv4 on its outside and
// accepting inside traffic only from internalIPv4Network.
func NewBuilder(externalIPv4 netip.Addr, internalIPv4Network ipnet.Range) *Builder {
	return &Builder{externalIPv4: externalIPv4, internalIPv4Network: internalIPv4Network}
}

// HairPinning enables forwarding inside packets addressed to the NAT's own
// external address back through the incoming translation path.
func (b *Builder) HairPinning() *Builder { b.hairPinning = true; return b }

// AddressRestricted makes the NAT address-restricted (ignored if
// PortRestricted is also set — port-restricted wins, per spec §4.7).
func (b *Builder) AddressRestricted() *Builder { b.addressRestricted = true; return b }

// PortRestricted makes the NAT port-restricted.
func (b *Builder) PortRestricted() *Builder { b.portRestricted = true; return b }

// ReplyWithRSTToUnexpectedTCPPackets enables RST|ACK synthesis for inbound
// TCP segments addressed to an unmapped or disallowed port.
func (b *Builder) ReplyWithRSTToUnexpectedTCPPackets() *Builder {
	b.replyWithRSTToUnmapped = true
	return b
}

// WithMetrics reports forwarded and dropped packets to m under the given
// component name.
func (b *Builder) WithMetrics(name string, m MetricsRecorder) *Builder {
	b.metricsName = name
	b.metrics = m
	return b
}

func (b *Builder) mode() Mode {
	switch {
	case b.portRestricted:
		return PortRestricted
	case b.addressRestricted:
		return AddressRestricted
	default:
		return Unrestricted
	}
}

// Build starts the NAT's background task and returns the Nat handle plus
// the channel peer representing its external (outside) interface.
func (b *Builder) Build(ctx context.Context, log *slog.Logger) (*Nat, *iface.Peer) {
	if log == nil {
		log = slog.Default()
	}
	outside, external := iface.NewChannel(1)

	t := &task{
		insert:                make(chan *iface.Peer),
		stats:                 make(chan chan Stats),
		external:              outside,
		internalIfaces:        make(map[int]*iface.Peer),
		internalAddrIndexes:   make(map[netip.Addr]int),
		externalIPv4:          b.externalIPv4,
		internalIPv4Network:   b.internalIPv4Network,
		hairPinning:           b.hairPinning,
		replyWithRSTToUnmapped: b.replyWithRSTToUnmapped,
		tcpPortMap:            NewPortMap(),
		udpPortMap:            NewPortMap(),
		tcpRestrictions:       NewRestrictions(b.mode()),
		udpRestrictions:       NewRestrictions(b.mode()),
		log:                   log,
		metricsName:           b.metricsName,
		metrics:               b.metrics,
	}
	go t.run(ctx)

	return &Nat{insert: t.insert, stats: t.stats}, external
}
