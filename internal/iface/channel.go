package iface

import (
	"context"
	"io"
	"sync"

	"github.com/netsim/netsim/internal/packet"
)

// queue is one direction of a Channel: a bounded buffer of packets plus a
// signal that its owning Peer has stopped accepting further sends.
type queue struct {
	buf       chan packet.Buffer
	closeOnce sync.Once
	closed    chan struct{}
}

func newQueue(capacity int) *queue {
	return &queue{
		buf:    make(chan packet.Buffer, capacity),
		closed: make(chan struct{}),
	}
}

func (q *queue) close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// Peer is one endpoint of a bounded, bidirectional packet channel (spec
// §4.3, C3). Two peers are created together by NewChannel; packets sent on
// one are received on the other.
type Peer struct {
	recv *queue // packets destined for us
	send *queue // the other peer's recv queue
}

// NewChannel returns two connected Peers, each with the given per-direction
// capacity (the spec's default is 1).
func NewChannel(capacity int) (a, b *Peer) {
	ab := newQueue(capacity)
	ba := newQueue(capacity)
	return &Peer{recv: ba, send: ab}, &Peer{recv: ab, send: ba}
}

// Ready reports whether a send would currently succeed, without consuming
// anything: ErrNotConnected if the peer is gone, ErrWouldBlock if the queue
// is saturated. This is the Go-idiomatic analogue of the spec's poll_ready.
func (p *Peer) Ready() error {
	select {
	case <-p.send.closed:
		return ErrNotConnected
	default:
	}
	if len(p.send.buf) >= cap(p.send.buf) {
		return ErrWouldBlock
	}
	return nil
}

// TrySend attempts a non-blocking send, combining the spec's start_send and
// poll_ready into one call. It never blocks.
func (p *Peer) TrySend(pkt packet.Buffer) error {
	select {
	case <-p.send.closed:
		return ErrNotConnected
	default:
	}
	select {
	case p.send.buf <- pkt:
		return nil
	default:
	}
	select {
	case <-p.send.closed:
		return ErrNotConnected
	default:
		return ErrWouldBlock
	}
}

// Send blocks until the packet is queued, the peer disconnects, or ctx is
// done.
func (p *Peer) Send(ctx context.Context, pkt packet.Buffer) error {
	select {
	case <-p.send.closed:
		return ErrNotConnected
	default:
	}
	select {
	case p.send.buf <- pkt:
		return nil
	default:
	}
	select {
	case p.send.buf <- pkt:
		return nil
	case <-p.send.closed:
		return ErrNotConnected
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryRecv attempts a non-blocking receive. The second return value is false
// if nothing is currently queued (regardless of whether the peer is still
// connected).
func (p *Peer) TryRecv() (packet.Buffer, bool) {
	select {
	case pkt := <-p.recv.buf:
		return pkt, true
	default:
		return nil, false
	}
}

// Recv blocks until a packet arrives, the sending side closes (io.EOF, once
// any buffered packets have drained), or ctx is done.
func (p *Peer) Recv(ctx context.Context) (packet.Buffer, error) {
	select {
	case pkt := <-p.recv.buf:
		return pkt, nil
	default:
	}
	select {
	case pkt := <-p.recv.buf:
		return pkt, nil
	case <-p.recv.closed:
		select {
		case pkt := <-p.recv.buf:
			return pkt, nil
		default:
			return nil, io.EOF
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Closed returns a channel that is closed once this peer can no longer be
// sent to, for use in select statements that need to react to a dead peer
// without calling TrySend (the hub and NAT readiness gates use this).
func (p *Peer) Closed() <-chan struct{} {
	return p.send.closed
}

// Close disconnects this peer. Any pending Send on the other peer
// subsequently fails with ErrNotConnected; any pending Recv on the other
// peer drains buffered packets and then returns io.EOF.
func (p *Peer) Close() error {
	p.recv.close()
	p.send.close()
	return nil
}
