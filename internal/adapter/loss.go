package adapter

import (
	"context"
	"time"

	"github.com/netsim/netsim/internal/iface"
)

// NewLoss returns a Peer that behaves like inner, except that items are
// dropped during randomly-timed bursts governed by an independent Jitter
// process per direction (spec §4.8 "Loss"). The original adapter::Loss
// filters only its Stream (read) side and passes its Sink (write) side
// through untouched; running one independent Jitter per direction here
// reproduces that per-direction independence for a bidirectional peer.
func NewLoss(ctx context.Context, inner *iface.Peer, lossRate float64, jitterPeriod time.Duration) *iface.Peer {
	outer, handle := iface.NewChannel(1)
	go runLoss(ctx, inner, handle, lossRate, jitterPeriod)
	return outer
}

func runLoss(ctx context.Context, a, b *iface.Peer, lossRate float64, jitterPeriod time.Duration) {
	done := make(chan struct{}, 2)
	go lossPump(ctx, a, b, NewJitter(lossRate, jitterPeriod), done)
	go lossPump(ctx, b, a, NewJitter(lossRate, jitterPeriod), done)

	select {
	case <-done:
	case <-ctx.Done():
	}
	a.Close()
	b.Close()
}

// lossPump forwards src to dst, advancing its own Jitter process on every
// poll and silently skipping the item when the process is currently in its
// dropping state.
func lossPump(ctx context.Context, src, dst *iface.Peer, j *Jitter, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	for {
		pkt, err := src.Recv(ctx)
		if err != nil {
			return
		}
		j.Advance()
		if j.CurrentlyDropping() {
			continue
		}
		if err := dst.Send(ctx, pkt); err != nil {
			return
		}
	}
}
