package nat

import "net/netip"

// Mode selects how strictly a NAT's Restrictions table checks inbound
// traffic against previously observed outbound traffic (spec §4.7
// "Restriction semantics").
type Mode int

const (
	// Unrestricted allows any outside source to reach any mapped port
	// (full-cone).
	Unrestricted Mode = iota
	// AddressRestricted allows an outside source IP to reach a mapped port
	// only if that IP has been sent to from that port before.
	AddressRestricted
	// PortRestricted additionally requires the outside source port to
	// match a previously sent-to socket.
	PortRestricted
)

// Restrictions tracks, per external port, which outside destinations an
// inside host has sent to — the basis for deciding whether unsolicited
// inbound traffic is allowed back in.
type Restrictions struct {
	mode       Mode
	sentAddr   map[uint16]map[netip.Addr]struct{}
	sentSocket map[uint16]map[netip.AddrPort]struct{}
}

// NewRestrictions creates a restrictions table in the given mode.
func NewRestrictions(mode Mode) *Restrictions {
	r := &Restrictions{mode: mode}
	switch mode {
	case AddressRestricted:
		r.sentAddr = make(map[uint16]map[netip.Addr]struct{})
	case PortRestricted:
		r.sentSocket = make(map[uint16]map[netip.AddrPort]struct{})
	}
	return r
}

// Sending records that the inside host mapped to externalPort has sent a
// packet to destination, updating whichever state the configured mode
// tracks.
func (r *Restrictions) Sending(externalPort uint16, destination netip.AddrPort) {
	switch r.mode {
	case Unrestricted:
	case AddressRestricted:
		set, ok := r.sentAddr[externalPort]
		if !ok {
			set = make(map[netip.Addr]struct{})
			r.sentAddr[externalPort] = set
		}
		set[destination.Addr()] = struct{}{}
	case PortRestricted:
		set, ok := r.sentSocket[externalPort]
		if !ok {
			set = make(map[netip.AddrPort]struct{})
			r.sentSocket[externalPort] = set
		}
		set[destination] = struct{}{}
	}
}

// IncomingAllowed reports whether a packet from source is allowed to reach
// externalPort, given what has previously been sent from that port.
func (r *Restrictions) IncomingAllowed(externalPort uint16, source netip.AddrPort) bool {
	switch r.mode {
	case Unrestricted:
		return true
	case AddressRestricted:
		set, ok := r.sentAddr[externalPort]
		if !ok {
			return false
		}
		_, allowed := set[source.Addr()]
		return allowed
	case PortRestricted:
		set, ok := r.sentSocket[externalPort]
		if !ok {
			return false
		}
		_, allowed := set[source]
		return allowed
	default:
		return false
	}
}
