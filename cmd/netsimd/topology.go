package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/google/uuid"

	"github.com/netsim/netsim/internal/config"
	"github.com/netsim/netsim/internal/control"
	"github.com/netsim/netsim/internal/hub"
	"github.com/netsim/netsim/internal/iface"
	"github.com/netsim/netsim/internal/ipnet"
	"github.com/netsim/netsim/internal/metrics"
	"github.com/netsim/netsim/internal/nat"
	"github.com/netsim/netsim/internal/netns"
)

// topology owns every live component built from config.TopologyConfig and
// implements control.StatusProvider over their current state.
type topology struct {
	runtime *netns.Runtime

	machines    []namedMachine
	hubs        map[string]*hub.Hub
	nats        map[string]*nat.Nat
	natExternal map[string]netip.Addr

	metrics *metrics.Collector
	log     *slog.Logger
}

type namedMachine struct {
	name string
	id   uuid.UUID
}

// buildTopology wires up every hub, NAT, and machine declared in cfg,
// attaching machine interfaces and NAT externals to hubs by name (spec
// §4.5's control-flow narrative: "the bridge turns a TUN interface into an
// IP sink/stream... inserted into the hub or NAT", restated declaratively
// for the daemon).
func buildTopology(ctx context.Context, cfg config.TopologyConfig, collector *metrics.Collector, log *slog.Logger) (*topology, error) {
	t := &topology{
		runtime:     netns.NewRuntime(log),
		hubs:        make(map[string]*hub.Hub),
		nats:        make(map[string]*nat.Nat),
		natExternal: make(map[string]netip.Addr),
		metrics:     collector,
		log:         log,
	}

	for _, h := range cfg.Hubs {
		t.hubs[h.Name] = hub.New(ctx, log.With(slog.String("hub", h.Name)), hub.WithMetrics(h.Name, collector))
	}

	for _, n := range cfg.NATs {
		external, err := n.ExternalAddr()
		if err != nil {
			return nil, fmt.Errorf("build topology: nat %s: %w", n.Name, err)
		}
		prefix, err := netip.ParsePrefix(n.InternalIPv4Network)
		if err != nil {
			return nil, fmt.Errorf("build topology: nat %s: %w", n.Name, err)
		}
		internalNet := ipnet.New(prefix.Addr(), prefix.Bits())

		b := nat.NewBuilder(external, internalNet).WithMetrics(n.Name, collector)
		if n.HairPinning {
			b.HairPinning()
		}
		if n.PortRestricted {
			b.PortRestricted()
		} else if n.AddressRestricted {
			b.AddressRestricted()
		}
		if n.ReplyWithRSTToUnexpectedTCP {
			b.ReplyWithRSTToUnexpectedTCPPackets()
		}

		handle, externalPeer := b.Build(ctx, log.With(slog.String("nat", n.Name)))
		t.nats[n.Name] = handle
		t.natExternal[n.Name] = external

		if n.AttachTo != "" {
			h, ok := t.hubs[n.AttachTo]
			if !ok {
				return nil, fmt.Errorf("build topology: nat %s: %w", n.Name, errUnknownAttachTarget(n.AttachTo))
			}
			if err := h.Insert(ctx, externalPeer); err != nil {
				return nil, fmt.Errorf("build topology: attach nat %s to hub %s: %w", n.Name, n.AttachTo, err)
			}
		}
	}

	for _, m := range cfg.Machines {
		machine, err := t.runtime.NewMachine(ctx)
		if err != nil {
			return nil, fmt.Errorf("build topology: machine %s: %w", m.Name, err)
		}
		t.machines = append(t.machines, namedMachine{name: m.Name, id: machine.ID})

		for _, i := range m.Interfaces {
			opts, err := ifaceOptions(i)
			if err != nil {
				return nil, fmt.Errorf("build topology: machine %s interface %s: %w", m.Name, i.Name, err)
			}
			tun, err := netns.AddIPIface(ctx, machine, opts)
			if err != nil {
				return nil, fmt.Errorf("build topology: machine %s interface %s: %w", m.Name, i.Name, err)
			}

			if i.AttachTo == "" {
				continue
			}
			peer := netns.BridgeTUN(ctx, tun, 1)
			if err := t.attach(ctx, i.AttachTo, peer); err != nil {
				return nil, fmt.Errorf("build topology: machine %s interface %s: %w", m.Name, i.Name, err)
			}
		}
	}

	return t, nil
}

func ifaceOptions(i config.IfaceConfig) (netns.IPIfaceOptions, error) {
	ipv4, err := i.IPv4Addr()
	if err != nil {
		return netns.IPIfaceOptions{}, err
	}
	ipv6, err := i.IPv6Addr()
	if err != nil {
		return netns.IPIfaceOptions{}, err
	}
	return netns.IPIfaceOptions{
		NamePattern:   i.Name,
		IPv4:          ipv4,
		IPv4PrefixLen: i.IPv4PrefixLen,
		IPv6:          ipv6,
		IPv6PrefixLen: i.IPv6PrefixLen,
		DefaultRoute:  i.DefaultRoute,
	}, nil
}

// attach inserts peer into the hub or NAT named target.
func (t *topology) attach(ctx context.Context, target string, peer *iface.Peer) error {
	if h, ok := t.hubs[target]; ok {
		return h.Insert(ctx, peer)
	}
	if n, ok := t.nats[target]; ok {
		return n.InsertIface(ctx, peer)
	}
	return errUnknownAttachTarget(target)
}

func errUnknownAttachTarget(name string) error {
	return fmt.Errorf("attach_to %q names no declared hub or NAT", name)
}

// TopologyStatus implements control.StatusProvider.
func (t *topology) TopologyStatus() control.TopologySnapshot {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	snapshot := control.TopologySnapshot{}

	for _, m := range t.machines {
		snapshot.Machines = append(snapshot.Machines, control.MachineStatus{Name: m.name, ID: m.id.String()})
	}

	for name, h := range t.hubs {
		n, err := h.InterfaceCount(ctx)
		if err != nil {
			t.log.Warn("failed to query hub interface count", slog.String("hub", name), slog.String("error", err.Error()))
		}
		snapshot.Hubs = append(snapshot.Hubs, control.HubStatus{Name: name, InterfaceCount: n})
		t.metrics.ActiveInterfaces.WithLabelValues(name).Set(float64(n))
	}

	for name, n := range t.nats {
		s, err := n.Stats(ctx)
		if err != nil {
			t.log.Warn("failed to query nat stats", slog.String("nat", name), slog.String("error", err.Error()))
		}
		snapshot.NATs = append(snapshot.NATs, control.NATStatus{
			Name:           name,
			ExternalIPv4:   t.natExternal[name].String(),
			TCPPortsMapped: s.TCPPortsMapped,
			UDPPortsMapped: s.UDPPortsMapped,
		})
		t.metrics.SetAllocatedPorts(name, "tcp", s.TCPPortsMapped)
		t.metrics.SetAllocatedPorts(name, "udp", s.UDPPortsMapped)
	}

	return snapshot
}

// Close tears down every machine the topology created.
func (t *topology) Close() error {
	return t.runtime.Close()
}
