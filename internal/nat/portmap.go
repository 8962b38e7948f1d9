package nat

import "net/netip"

// initialPort is both the first port ever handed out and the number of
// collision retries tried before an allocation is allowed to evict an
// existing mapping (spec §4.7 "Outgoing").
const initialPort uint16 = 1025

// PortMap is a pair of consistent forward/reverse tables plus a rotating
// allocation cursor (spec §3, "Port map"). internal sockets map to external
// ports and back; invariant: if internal ↔ port is in one map it is in the
// other, except during the brief window where port exhaustion forces an
// overwrite (see OutgoingPort).
type PortMap struct {
	outgoing map[netip.AddrPort]uint16
	incoming map[uint16]netip.AddrPort
	cursor   uint16
}

// NewPortMap returns an empty port map with its cursor at the first
// ephemeral port.
func NewPortMap() *PortMap {
	return &PortMap{
		outgoing: make(map[netip.AddrPort]uint16),
		incoming: make(map[uint16]netip.AddrPort),
		cursor:   initialPort,
	}
}

// OutgoingPort returns the external port mapped to internal, allocating one
// on first use. Allocation walks the rotating cursor looking for a free
// external port; after initialPort consecutive collisions it gives up and
// overwrites whatever mapping currently occupies the candidate port (spec
// §9 Design Notes: "NAT port-map eviction" — this implementation chooses to
// evict rather than fail the send).
func (m *PortMap) OutgoingPort(internal netip.AddrPort) uint16 {
	if port, ok := m.outgoing[internal]; ok {
		return port
	}

	var port uint16
	for attempts := uint16(0); ; attempts++ {
		port = m.cursor
		if m.cursor == 65535 {
			m.cursor = initialPort
		} else {
			m.cursor++
		}
		if _, collides := m.incoming[port]; !collides {
			break
		}
		if attempts >= initialPort {
			if evicted, ok := m.incoming[port]; ok {
				delete(m.outgoing, evicted)
			}
			break
		}
	}

	m.incoming[port] = internal
	m.outgoing[internal] = port
	return port
}

// IncomingAddr returns the internal socket mapped to the given external
// port, if any.
func (m *PortMap) IncomingAddr(port uint16) (netip.AddrPort, bool) {
	addr, ok := m.incoming[port]
	return addr, ok
}

// Len reports the number of currently allocated port mappings, for metrics
// reporting (internal/metrics AllocatedPorts gauge).
func (m *PortMap) Len() int {
	return len(m.outgoing)
}
