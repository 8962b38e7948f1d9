package nat

import (
	"context"
	"errors"
	"log/slog"
	"net/netip"
	"time"

	"github.com/netsim/netsim/internal/iface"
	"github.com/netsim/netsim/internal/ipnet"
	"github.com/netsim/netsim/internal/packet"
)

// pollInterval bounds how long the task blocks on a single source before
// re-checking insertions and other sources, the same approximation of
// poll-based fairness used by internal/hub (Go has no select over a
// dynamically sized set of channels).
const pollInterval = 10 * time.Millisecond

// task holds the NAT's entire translation state and runs its single
// background goroutine (spec §4.7 "Task scheduling"): drain insertions,
// reap dead interfaces, poll the outside, then poll the insides, looping
// until every source is idle.
type task struct {
	insert   chan *iface.Peer
	stats    chan chan Stats
	external *iface.Peer // nil once the external interface has died

	internalIfaces      map[int]*iface.Peer
	nextInternalIndex    int
	internalAddrIndexes map[netip.Addr]int // observed internal source IP -> iface index

	externalIPv4        netip.Addr
	internalIPv4Network ipnet.Range
	hairPinning         bool
	replyWithRSTToUnmapped bool

	tcpPortMap *PortMap
	udpPortMap *PortMap

	tcpRestrictions *Restrictions
	udpRestrictions *Restrictions

	log *slog.Logger

	metricsName string
	metrics     MetricsRecorder
}

func (t *task) recordForwarded() {
	if t.metrics != nil {
		t.metrics.IncPacketsForwarded(t.metricsName)
	}
}

func (t *task) recordDropped(reason string) {
	if t.metrics != nil {
		t.metrics.IncPacketsDropped(t.metricsName, reason)
	}
}

func (t *task) run(ctx context.Context) {
	insertOpen := true

	for {
		if t.external == nil && len(t.internalIfaces) == 0 && !insertOpen {
			t.log.Debug("nat drained, exiting")
			return
		}
		if ctx.Err() != nil {
			t.closeAll()
			return
		}

		// Step 1: drain all currently ready insertions.
		for insertOpen {
			select {
			case p, ok := <-t.insert:
				if !ok {
					insertOpen = false
					break
				}
				t.internalIfaces[t.nextInternalIndex] = p
				t.nextInternalIndex++
				continue
			default:
			}
			break
		}

		// Step 1b: answer all currently pending stats queries.
		for {
			select {
			case reply := <-t.stats:
				reply <- t.currentStats()
				continue
			default:
			}
			break
		}

		// Step 2: reap interfaces whose peer has disconnected.
		t.reapDead()

		progressed := false

		// Step 3: poll the outside for one inbound packet.
		if t.external != nil {
			if pkt, ok := t.recvWithFallback(ctx, t.external); ok {
				t.dispatchIncomingExternal(pkt.AsIPv4())
				progressed = true
			}
		}

		// Step 4: poll insides in map iteration order and dispatch the
		// first inbound packet found (at most one per iteration).
		for idx, p := range t.internalIfaces {
			if pkt, ok := p.TryRecv(); ok {
				t.dispatchIncomingInternal(idx, pkt.AsIPv4())
				progressed = true
				break
			}
		}

		if !progressed {
			if !t.idleWait(ctx) {
				if ctx.Err() != nil {
					t.closeAll()
					return
				}
			}
		}
	}
}

// recvWithFallback tries a non-blocking receive first, then falls back to a
// short blocking wait so the task doesn't busy-spin while idle.
func (t *task) recvWithFallback(ctx context.Context, p *iface.Peer) (packet.Buffer, bool) {
	if pkt, ok := p.TryRecv(); ok {
		return pkt, true
	}
	waitCtx, cancel := context.WithTimeout(ctx, pollInterval)
	defer cancel()
	pkt, err := p.Recv(waitCtx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, false
		}
		t.log.Debug("external interface died")
		t.external = nil
		return nil, false
	}
	return pkt, true
}

// idleWait blocks briefly for a new insertion when nothing else happened
// this iteration, returning false if ctx ended in the meantime.
func (t *task) idleWait(ctx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(ctx, pollInterval)
	defer cancel()
	select {
	case p, ok := <-t.insert:
		if ok {
			t.internalIfaces[t.nextInternalIndex] = p
			t.nextInternalIndex++
		}
		return true
	case reply := <-t.stats:
		reply <- t.currentStats()
		return true
	case <-waitCtx.Done():
		return ctx.Err() == nil
	}
}

// currentStats snapshots the port maps' occupancy.
func (t *task) currentStats() Stats {
	return Stats{
		TCPPortsMapped: t.tcpPortMap.Len(),
		UDPPortsMapped: t.udpPortMap.Len(),
	}
}

func (t *task) reapDead() {
	if t.external != nil {
		select {
		case <-t.external.Closed():
			t.log.Debug("external interface reaped")
			t.external = nil
		default:
		}
	}
	for idx, p := range t.internalIfaces {
		select {
		case <-p.Closed():
			t.log.Debug("internal interface reaped", slog.Int("index", idx))
			delete(t.internalIfaces, idx)
		default:
		}
	}
}

func (t *task) closeAll() {
	if t.external != nil {
		t.external.Close()
	}
	for _, p := range t.internalIfaces {
		p.Close()
	}
}
