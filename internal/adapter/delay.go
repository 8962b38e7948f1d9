package adapter

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/netsim/netsim/internal/iface"
	"github.com/netsim/netsim/internal/packet"
)

// sendRetryInterval bounds how soon a send that hit a full destination
// channel is retried, so a congested peer doesn't cause a busy spin.
const sendRetryInterval = 2 * time.Millisecond

// delayEndpoint pairs a DelayQueue with a wakeup channel so the release loop
// can be notified the moment an earlier-than-current release is scheduled.
type delayEndpoint struct {
	mu     sync.Mutex
	queue  *DelayQueue
	notify chan struct{}
}

func newDelayEndpoint() *delayEndpoint {
	return &delayEndpoint{queue: NewDelayQueue(), notify: make(chan struct{}, 1)}
}

func (e *delayEndpoint) push(at time.Time, pkt packet.Buffer) {
	e.mu.Lock()
	e.queue.Push(at, pkt)
	e.mu.Unlock()
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *delayEndpoint) popReady(now time.Time) (packet.Buffer, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.Pop(now)
}

func (e *delayEndpoint) nextRelease() (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.queue.NextRelease()
}

// NewDelay returns a Peer that behaves like inner, except that every item
// crossing in either direction is held for min+Exponential(meanAdditional)
// before becoming visible to the other side (spec §4.8 "Delay"). When
// meanAdditional is 0 every item gets exactly minDelay and order is
// preserved; otherwise items can overtake each other.
func NewDelay(ctx context.Context, inner *iface.Peer, minDelay, meanAdditionalDelay time.Duration) *iface.Peer {
	outer, handle := iface.NewChannel(1)
	go runDelay(ctx, inner, handle, minDelay, meanAdditionalDelay)
	return outer
}

func runDelay(ctx context.Context, inner, outer *iface.Peer, minDelay, meanAdditional time.Duration) {
	toOuter := newDelayEndpoint() // read from inner, released to outer
	toInner := newDelayEndpoint() // read from outer, released to inner

	go pumpIntoDelay(ctx, inner, toOuter, minDelay, meanAdditional)
	go pumpIntoDelay(ctx, outer, toInner, minDelay, meanAdditional)

	releaseLoop(ctx, inner, outer, toInner, toOuter)
}

// pumpIntoDelay receives every item from src and schedules it on dst with an
// independently sampled delay, until src errors (closed or disconnected).
func pumpIntoDelay(ctx context.Context, src *iface.Peer, dst *delayEndpoint, minDelay, meanAdditional time.Duration) {
	for {
		pkt, err := src.Recv(ctx)
		if err != nil {
			return
		}
		delay := minDelay + sampleExponential(meanAdditional)
		dst.push(time.Now().Add(delay), pkt)
	}
}

// releaseLoop is the single timer described in spec §4.8 "Delay adapter
// timer": it is always armed for the earlier of the two queues' next
// release, fires released items as soon as due, and is rearmed every time
// either queue changes.
func releaseLoop(ctx context.Context, inner, outer *iface.Peer, toInner, toOuter *delayEndpoint) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		now := time.Now()
		innerStopped := drainReady(now, toInner, inner)
		outerStopped := drainReady(now, toOuter, outer)
		if innerStopped || outerStopped {
			inner.Close()
			outer.Close()
			return
		}

		next, ok := earliestOf(toInner, toOuter)
		resetTimer(timer, next, ok)

		select {
		case <-ctx.Done():
			inner.Close()
			outer.Close()
			return
		case <-toInner.notify:
		case <-toOuter.notify:
		case <-timer.C:
		}
	}
}

// drainReady releases every item in ep whose instant has passed, sending it
// to dst. A temporarily full dst gets the item re-queued for the very next
// iteration rather than dropped; a permanently disconnected dst stops the
// whole adapter, reported via the returned bool.
func drainReady(now time.Time, ep *delayEndpoint, dst *iface.Peer) bool {
	for {
		pkt, ok := ep.popReady(now)
		if !ok {
			return false
		}
		if err := dst.TrySend(pkt); err != nil {
			if errors.Is(err, iface.ErrNotConnected) {
				return true
			}
			// dst is momentarily full: retry shortly rather than at once,
			// so a congested destination doesn't turn this into a busy
			// spin, and stop draining this pass.
			ep.push(now.Add(sendRetryInterval), pkt)
			return false
		}
	}
}

func earliestOf(a, b *delayEndpoint) (time.Time, bool) {
	at, aok := a.nextRelease()
	bt, bok := b.nextRelease()
	switch {
	case aok && bok:
		if at.Before(bt) {
			return at, true
		}
		return bt, true
	case aok:
		return at, true
	case bok:
		return bt, true
	default:
		return time.Time{}, false
	}
}

func resetTimer(timer *time.Timer, at time.Time, ok bool) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if !ok {
		timer.Reset(time.Hour)
		return
	}
	d := time.Until(at)
	if d < 0 {
		d = 0
	}
	timer.Reset(d)
}
