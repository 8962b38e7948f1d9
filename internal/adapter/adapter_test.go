package adapter_test

import (
	"context"
	"testing"
	"time"

	"github.com/netsim/netsim/internal/adapter"
	"github.com/netsim/netsim/internal/iface"
	"github.com/netsim/netsim/internal/packet"
)

// TestDelayPreservesOrderWithZeroRandomization covers spec §8's testable
// property: for items sent through Delay with mean_additional_delay == 0,
// items arrive in send order with inter-arrival delay >= min.
func TestDelayPreservesOrderWithZeroRandomization(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	innerOuter, innerInner := iface.NewChannel(8)
	outer := adapter.NewDelay(ctx, innerInner, 60*time.Millisecond, 0)

	const n = 3
	sent := time.Now()
	for i := 0; i < n; i++ {
		if err := innerOuter.Send(ctx, packet.Buffer{byte(i)}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	for i := 0; i < n; i++ {
		pkt, err := outer.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if len(pkt) != 1 || pkt[0] != byte(i) {
			t.Fatalf("Recv %d: got %v, want [%d]", i, pkt, i)
		}
		if time.Since(sent) < 60*time.Millisecond {
			t.Fatalf("item %d arrived before min delay elapsed", i)
		}
	}
}

// TestDelayAppliesToBothDirections checks that traffic sent from the outer
// (decorated) side is also delayed before the inner side observes it.
func TestDelayAppliesToBothDirections(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	innerOuter, innerInner := iface.NewChannel(8)
	outer := adapter.NewDelay(ctx, innerInner, 40*time.Millisecond, 0)

	start := time.Now()
	if err := outer.Send(ctx, packet.Buffer("hi")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	pkt, err := innerOuter.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if string(pkt) != "hi" {
		t.Fatalf("Recv: got %q, want \"hi\"", pkt)
	}
	if time.Since(start) < 40*time.Millisecond {
		t.Fatalf("reverse-direction item arrived before min delay elapsed")
	}
}

// TestLossRateZeroDeliversEverything checks that a Loss adapter configured
// with loss_rate 0 starts in (and, over a short window, stays in) the
// passing state and forwards every item.
func TestLossRateZeroDeliversEverything(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	innerOuter, innerInner := iface.NewChannel(8)
	outer := adapter.NewLoss(ctx, innerInner, 0.0, time.Second)

	for i := 0; i < 5; i++ {
		if err := innerOuter.Send(ctx, packet.Buffer{byte(i)}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}
	for i := 0; i < 5; i++ {
		pkt, err := outer.Recv(ctx)
		if err != nil {
			t.Fatalf("Recv %d: %v", i, err)
		}
		if len(pkt) != 1 || pkt[0] != byte(i) {
			t.Fatalf("Recv %d: got %v, want [%d]", i, pkt, i)
		}
	}
}

// TestLossRateOneDropsEverything checks that a Loss adapter configured with
// loss_rate 1 starts in (and stays in) the dropping state and delivers
// nothing over a short window.
func TestLossRateOneDropsEverything(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	innerOuter, innerInner := iface.NewChannel(8)
	outer := adapter.NewLoss(ctx, innerInner, 1.0, time.Second)

	for i := 0; i < 5; i++ {
		if err := innerOuter.Send(ctx, packet.Buffer{byte(i)}); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	shortCtx, shortCancel := context.WithTimeout(ctx, 150*time.Millisecond)
	defer shortCancel()
	if _, err := outer.Recv(shortCtx); err == nil {
		t.Fatalf("expected no items delivered with loss_rate 1.0")
	}
}

// TestJitterReseedsAfterLargeClockJump exercises Jitter directly: calling
// Advance a long time after the scheduled next switch must re-seed (spec
// §4.8's "more than 10*jitter_period" rule) rather than panic or loop
// attempting to replay every missed switch.
func TestJitterReseedsAfterLargeClockJump(t *testing.T) {
	t.Parallel()

	j := adapter.NewJitter(0.5, time.Millisecond)
	// A fresh Jitter's nextSwitch is at most a few jitter periods out;
	// sleeping 50 periods puts "now" more than 10 periods past it, so the
	// Advance call below takes the re-seed path and must return promptly.
	time.Sleep(50 * time.Millisecond)
	done := make(chan struct{})
	go func() {
		j.Advance()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("Advance did not return promptly")
	}
}
