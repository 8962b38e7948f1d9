package iface_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/netsim/netsim/internal/iface"
	"github.com/netsim/netsim/internal/packet"
)

func TestChannelTrySendWouldBlock(t *testing.T) {
	t.Parallel()

	a, b := iface.NewChannel(1)
	defer a.Close()
	defer b.Close()

	if err := a.TrySend(packet.Buffer("one")); err != nil {
		t.Fatalf("first TrySend: got %v, want nil", err)
	}
	if err := a.TrySend(packet.Buffer("two")); !errors.Is(err, iface.ErrWouldBlock) {
		t.Fatalf("second TrySend: got %v, want ErrWouldBlock", err)
	}

	pkt, ok := b.TryRecv()
	if !ok || string(pkt) != "one" {
		t.Fatalf("TryRecv: got (%q, %v), want (\"one\", true)", pkt, ok)
	}
}

func TestChannelSendAfterCloseReturnsNotConnected(t *testing.T) {
	t.Parallel()

	a, b := iface.NewChannel(1)
	b.Close()

	if err := a.TrySend(packet.Buffer("x")); !errors.Is(err, iface.ErrNotConnected) {
		t.Fatalf("TrySend after peer close: got %v, want ErrNotConnected", err)
	}
}

func TestChannelRecvDrainsBeforeEOF(t *testing.T) {
	t.Parallel()

	a, b := iface.NewChannel(2)
	if err := a.TrySend(packet.Buffer("buffered")); err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	pkt, err := b.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv before EOF: got err %v, want buffered packet", err)
	}
	if string(pkt) != "buffered" {
		t.Fatalf("Recv: got %q, want \"buffered\"", pkt)
	}

	if _, err := b.Recv(ctx); err == nil {
		t.Fatalf("Recv after drain: expected io.EOF-equivalent error, got nil")
	}
}

func TestPipeForwardsUntilEitherSideCloses(t *testing.T) {
	t.Parallel()

	left, right := iface.NewChannel(4)
	outer, inner := iface.NewChannel(4)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := iface.Pipe(ctx, right, inner)

	if err := left.Send(ctx, packet.Buffer("ping")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	pkt, err := outer.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv through pipe: %v", err)
	}
	if string(pkt) != "ping" {
		t.Fatalf("Recv through pipe: got %q, want \"ping\"", pkt)
	}

	left.Close()
	outer.Close()

	select {
	case <-done:
	case <-ctx.Done():
		t.Fatalf("pipe did not shut down after both ends closed")
	}
}
