package adapter

import (
	"container/heap"
	"time"

	"github.com/netsim/netsim/internal/packet"
)

type delayItem struct {
	at  time.Time
	pkt packet.Buffer
}

type delayItemHeap []delayItem

func (h delayItemHeap) Len() int            { return len(h) }
func (h delayItemHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h delayItemHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *delayItemHeap) Push(x interface{}) { *h = append(*h, x.(delayItem)) }
func (h *delayItemHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DelayQueue holds packets scheduled for future release (spec §4.8: "a
// sorted map from release-instant to a vector of values, plus a single
// active timer always set to the earliest instant"). Go has no sorted-map
// primitive, so the sort order is maintained with container/heap instead of
// a BTreeMap; the externally observable behavior — release only once an
// item's instant has passed, earliest-first — is the same.
type DelayQueue struct {
	items delayItemHeap
}

// NewDelayQueue returns an empty queue.
func NewDelayQueue() *DelayQueue {
	return &DelayQueue{}
}

// Push schedules pkt for release at the given instant.
func (q *DelayQueue) Push(at time.Time, pkt packet.Buffer) {
	heap.Push(&q.items, delayItem{at: at, pkt: pkt})
}

// NextRelease reports the earliest pending release instant, if any — the
// value a caller should use to arm its single timer.
func (q *DelayQueue) NextRelease() (time.Time, bool) {
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].at, true
}

// Pop removes and returns the earliest item only if its release instant is
// at or before now; otherwise it returns false without modifying the queue.
func (q *DelayQueue) Pop(now time.Time) (packet.Buffer, bool) {
	if len(q.items) == 0 || q.items[0].at.After(now) {
		return nil, false
	}
	item := heap.Pop(&q.items).(delayItem)
	return item.pkt, true
}

// Len reports the number of items currently queued.
func (q *DelayQueue) Len() int { return len(q.items) }
