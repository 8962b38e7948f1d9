// Package hub implements the multi-interface broadcast forwarder (spec
// §4.6, C6): every packet received on one interface is cloned and sent to
// every other interface currently inserted, with per-interface
// backpressure and dead-interface reaping.
package hub

import (
	"context"
	"errors"
	"log/slog"

	"github.com/netsim/netsim/internal/iface"
	"github.com/netsim/netsim/internal/packet"
)

// MetricsRecorder receives hub occupancy and forwarding events for
// internal/metrics to expose as Prometheus series. Implemented by
// *metrics.Collector; kept as a narrow interface here so this package never
// imports internal/metrics.
type MetricsRecorder interface {
	IncActiveInterfaces(component string)
	DecActiveInterfaces(component string)
	IncPacketsForwarded(component string)
	IncPacketsDropped(component, reason string)
}

// Option configures optional Hub behavior at construction time.
type Option func(*Hub)

// WithMetrics reports insertions, reaps, and fan-out outcomes to m under the
// given component name.
func WithMetrics(name string, m MetricsRecorder) Option {
	return func(h *Hub) {
		h.metricsName = name
		h.metrics = m
	}
}

// Hub owns an insertion channel and the ordered set of interfaces currently
// under service. Interfaces are inserted with Insert; a background
// goroutine started by New performs the forward loop until the hub is
// drained (insertion channel closed and no interfaces remain).
type Hub struct {
	insert chan *iface.Peer
	count  chan chan int
	log    *slog.Logger

	metricsName string
	metrics     MetricsRecorder
}

// New creates a hub and starts its forwarding goroutine. Cancel ctx to tear
// the hub down unconditionally; otherwise the hub runs until Close is
// called and every inserted interface has been removed.
func New(ctx context.Context, log *slog.Logger, opts ...Option) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		insert: make(chan *iface.Peer),
		count:  make(chan chan int),
		log:    log,
	}
	for _, opt := range opts {
		opt(h)
	}
	go h.run(ctx)
	return h
}

func (h *Hub) recordInsert() {
	if h.metrics != nil {
		h.metrics.IncActiveInterfaces(h.metricsName)
	}
}

func (h *Hub) recordReap() {
	if h.metrics != nil {
		h.metrics.DecActiveInterfaces(h.metricsName)
	}
}

func (h *Hub) recordForwarded() {
	if h.metrics != nil {
		h.metrics.IncPacketsForwarded(h.metricsName)
	}
}

func (h *Hub) recordDropped(reason string) {
	if h.metrics != nil {
		h.metrics.IncPacketsDropped(h.metricsName, reason)
	}
}

// Insert adds an interface to the hub's active service set. It blocks until
// the hub's forward loop accepts it or ctx is done.
func (h *Hub) Insert(ctx context.Context, p *iface.Peer) error {
	select {
	case h.insert <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InterfaceCount reports the number of interfaces currently under service,
// for internal/metrics and internal/control status reporting.
func (h *Hub) InterfaceCount(ctx context.Context) (int, error) {
	reply := make(chan int, 1)
	select {
	case h.count <- reply:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case n := <-reply:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Close stops accepting new interfaces. The hub continues forwarding among
// already-inserted interfaces until they are all dead.
func (h *Hub) Close() {
	close(h.insert)
}

// member tracks one interface under active service.
type member struct {
	peer *iface.Peer
}

func (h *Hub) run(ctx context.Context) {
	var members []member
	insertOpen := true

	for {
		// With nothing to service yet, block for the next insertion rather
		// than busy-polling.
		if len(members) == 0 && insertOpen {
			select {
			case p, ok := <-h.insert:
				if !ok {
					insertOpen = false
				} else {
					members = append(members, member{peer: p})
					h.recordInsert()
					h.log.Debug("interface inserted", slog.Int("count", len(members)))
				}
			case reply := <-h.count:
				reply <- len(members)
			case <-ctx.Done():
				return
			}
			continue
		}

		if !insertOpen && len(members) == 0 {
			h.log.Debug("hub drained, exiting")
			return
		}

		if ctx.Err() != nil {
			h.closeAll(members)
			return
		}

		// Step 1: drain all currently ready insertions without blocking.
		for insertOpen {
			select {
			case p, ok := <-h.insert:
				if !ok {
					insertOpen = false
					break
				}
				members = append(members, member{peer: p})
				h.recordInsert()
				h.log.Debug("interface inserted", slog.Int("count", len(members)))
				continue
			default:
			}
			break
		}

		// Step 1b: answer all currently pending interface-count queries.
		for {
			select {
			case reply := <-h.count:
				reply <- len(members)
				continue
			default:
			}
			break
		}

		// Step 2: readiness gate. Dead members are removed; if any
		// remaining member's queue is full, no source is polled this
		// iteration, so one slow interface pauses the whole hub.
		members = h.reapDead(members)
		if anyFull(members) {
			waitCtx, cancel := contextWithShortTimeout(ctx)
			<-waitCtx.Done()
			cancel()
			continue
		}

		// Step 3: source poll — the first member with an inbound packet.
		srcIdx, pkt, ok := pollSource(ctx, members)
		if !ok {
			if ctx.Err() != nil {
				h.closeAll(members)
				return
			}
			continue
		}

		// Step 4/5: fan out to every other member, recompute indices if the
		// source was swap-removed out from under us by a send failure.
		members, srcIdx = h.fanOut(members, srcIdx, pkt)
		_ = srcIdx
	}
}

// anyFull reports whether some member's outbound queue has no free slot.
func anyFull(members []member) bool {
	for _, m := range members {
		if errors.Is(m.peer.Ready(), iface.ErrWouldBlock) {
			return true
		}
	}
	return false
}

// pollSource blocks (briefly, cooperatively) until some member has a packet
// ready, returning its index. It uses a non-blocking TryRecv sweep over all
// members followed by a short blocking wait on the first member only, since
// Go has no native "select over a dynamic slice of channels" primitive.
func pollSource(ctx context.Context, members []member) (int, packet.Buffer, bool) {
	if len(members) == 0 {
		return 0, nil, false
	}
	for i, m := range members {
		if pkt, ok := m.peer.TryRecv(); ok {
			return i, pkt, true
		}
	}
	// Nothing ready right now; wait briefly on the first member's Recv with
	// a cooperative timeout so the loop can re-poll insertions and other
	// members without starving them indefinitely.
	ctx2, cancel := contextWithShortTimeout(ctx)
	defer cancel()
	pkt, err := members[0].peer.Recv(ctx2)
	if err != nil {
		return 0, nil, false
	}
	return 0, pkt, true
}

// fanOut clones pkt to every member other than srcIdx. A send failure
// removes that member (swap-remove); if the removal aliases srcIdx to a
// different member, srcIdx is corrected so the original source stays
// excluded — matching the spec's index-aliasing fixup for hub fan-out.
func (h *Hub) fanOut(members []member, srcIdx int, pkt packet.Buffer) ([]member, int) {
	i := 0
	for i < len(members) {
		if i == srcIdx {
			i++
			continue
		}
		if err := members[i].peer.TrySend(pkt.Clone()); err != nil {
			h.log.Debug("removing dead interface during fan-out", slog.Int("index", i))
			h.recordDropped("backpressure")
			h.recordReap()
			members, srcIdx = swapRemove(members, i, srcIdx)
			continue
		}
		h.recordForwarded()
		i++
	}
	return members, srcIdx
}

// swapRemove removes members[i] by moving the last element into its slot
// (spec §4.6 step 4: "swap-remove; preserves neither order nor index
// identity"). If that move relocates the element that used to sit at
// srcIdx, srcIdx is adjusted to follow it.
func swapRemove(members []member, i, srcIdx int) ([]member, int) {
	last := len(members) - 1
	if i != last {
		members[i] = members[last]
		if srcIdx == last {
			srcIdx = i
		}
	} else if srcIdx == last {
		srcIdx = -1
	}
	return members[:last], srcIdx
}

func (h *Hub) reapDead(members []member) []member {
	i := 0
	for i < len(members) {
		select {
		case <-members[i].peer.Closed():
			h.log.Debug("reaping dead interface", slog.Int("index", i))
			h.recordReap()
			last := len(members) - 1
			members[i] = members[last]
			members = members[:last]
			continue
		default:
		}
		i++
	}
	return members
}

func (h *Hub) closeAll(members []member) {
	for _, m := range members {
		m.peer.Close()
	}
}
