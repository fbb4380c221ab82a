package throttle

import (
	"sort"
	"time"

	"github.com/fwojciec/fetchgate"
)

// waiter is a parked admission: a request that could not be admitted
// immediately, the scopes it needs, and its wake bookkeeping.
type waiter struct {
	req     *fetchgate.Request
	scopes  []string // sorted
	weights fetchgate.ScopeAssignment

	// quotaShare is the largest fraction of any touched scope's available
	// quota this request would consume. Requests with a large share are
	// preferred so they are not starved as the quota drains.
	quotaShare float64

	seq     uint64
	arrived time.Time

	// wakeAt is the next time a timed constraint (delay or quota window)
	// could clear. Zero when the waiter is blocked purely on a
	// concurrency slot release.
	wakeAt time.Time

	ch chan admitResult // buffered, capacity 1

	index int // heap index, -1 when detached
}

func newWaiter(req *fetchgate.Request, weights fetchgate.ScopeAssignment, seq uint64, now time.Time) *waiter {
	scopes := weights.Names()
	sort.Strings(scopes)
	return &waiter{
		req:     req,
		scopes:  scopes,
		weights: weights,
		seq:     seq,
		arrived: now,
		ch:      make(chan admitResult, 1),
		index:   -1,
	}
}

// before orders waiters for admission: priority first, then quota share
// (largest fraction of scarce quota first), then arrival order.
func (w *waiter) before(other *waiter) bool {
	if w.req.Priority != other.req.Priority {
		return w.req.Priority > other.req.Priority
	}
	if w.quotaShare != other.quotaShare {
		return w.quotaShare > other.quotaShare
	}
	return w.seq < other.seq
}

// waitHeap implements heap.Interface over parked waiters.
type waitHeap []*waiter

func (h waitHeap) Len() int { return len(h) }

func (h waitHeap) Less(i, j int) bool { return h[i].before(h[j]) }

func (h waitHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *waitHeap) Push(x any) {
	w, _ := x.(*waiter)
	w.index = len(*h)
	*h = append(*h, w)
}

func (h *waitHeap) Pop() any {
	old := *h
	n := len(old)
	w := old[n-1]
	old[n-1] = nil
	w.index = -1
	*h = old[:n-1]
	return w
}
