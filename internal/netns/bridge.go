package netns

import (
	"context"

	"github.com/netsim/netsim/internal/iface"
)

// BridgeTUN turns a TUN device into an iface.Peer (spec §4.5's control-flow
// narrative: "the bridge in C5 turns that interface into an IP
// sink/stream"), so it can be inserted into a Hub or NAT exactly like an
// in-process Channel peer. Two pump goroutines forward in each direction;
// closing the returned peer, or the TUN dying, tears both down.
func BridgeTUN(ctx context.Context, tun *iface.TUN, capacity int) *iface.Peer {
	outer, inner := iface.NewChannel(capacity)
	go runBridge(ctx, tun, inner)
	return outer
}

func runBridge(ctx context.Context, tun *iface.TUN, inner *iface.Peer) {
	done := make(chan struct{}, 2)
	go pumpToPeer(ctx, tun, inner, done)
	go pumpToTUN(ctx, inner, tun, done)

	select {
	case <-done:
	case <-ctx.Done():
	}
	inner.Close()
	_ = tun.Close()
}

func pumpToPeer(ctx context.Context, tun *iface.TUN, dst *iface.Peer, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		pkt, err := tun.Recv(ctx)
		if err != nil {
			return
		}
		if err := dst.Send(ctx, pkt); err != nil {
			return
		}
	}
}

func pumpToTUN(ctx context.Context, src *iface.Peer, tun *iface.TUN, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		pkt, err := src.Recv(ctx)
		if err != nil {
			return
		}
		if err := tun.Send(ctx, pkt); err != nil {
			return
		}
	}
}
