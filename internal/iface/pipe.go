package iface

import "context"

// Pipe wires two endpoints together with forwarding goroutines, the
// Go-native equivalent of the library surface's free function connect(a, b)
// (spec §6). It returns a channel closed once forwarding has stopped in
// either direction (an endpoint disconnected or ctx was cancelled) and both
// endpoints have been closed; the other direction's goroutine may still be
// exiting at that point.
func Pipe(ctx context.Context, a, b *Peer) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		forward(ctx, a, b)
	}()
	return done
}

func forward(ctx context.Context, a, b *Peer) {
	fwd := func(src, dst *Peer, stop chan<- struct{}) {
		for {
			pkt, err := src.Recv(ctx)
			if err != nil {
				close(stop)
				return
			}
			if err := dst.Send(ctx, pkt); err != nil {
				close(stop)
				return
			}
		}
	}

	stopAB := make(chan struct{})
	stopBA := make(chan struct{})
	go fwd(a, b, stopAB)
	go fwd(b, a, stopBA)

	select {
	case <-stopAB:
	case <-stopBA:
	case <-ctx.Done():
	}
	a.Close()
	b.Close()
}
