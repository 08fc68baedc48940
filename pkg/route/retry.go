package route

import (
	"sync"
	"sync/atomic"

	"github.com/matzehuels/gridroute/pkg/fabric"
)

// retryQueue is a multi-producer append-only bag of nets that need a
// full-device bounding box retry. Iteration order is not observed.
type retryQueue struct {
	mu   sync.Mutex
	nets []fabric.NetID
}

// push appends net to the queue.
func (q *retryQueue) push(net fabric.NetID) {
	q.mu.Lock()
	q.nets = append(q.nets, net)
	q.mu.Unlock()
}

// snapshot returns a copy of the queued nets without clearing them: the
// iteration controller still needs the queue state for its convergence
// check after the tree joins.
func (q *retryQueue) snapshot() []fabric.NetID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]fabric.NetID(nil), q.nets...)
}

// clear empties the queue at the start of an iteration.
func (q *retryQueue) clear() {
	q.mu.Lock()
	q.nets = nil
	q.mu.Unlock()
}

// empty reports whether nothing is queued.
func (q *retryQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.nets) == 0
}

// decompCounter tracks decomposition reroutes per net. Slots are allocated
// up front and never grow; the decomposing task and the post-join escalation
// path both write a net's slot, so the counters are atomics.
type decompCounter map[fabric.NetID]*atomic.Int32

func newDecompCounter(nl fabric.Netlist) decompCounter {
	c := make(decompCounter, len(nl.Nets()))
	for _, net := range nl.Nets() {
		c[net] = &atomic.Int32{}
	}
	return c
}

func (c decompCounter) get(net fabric.NetID) int { return int(c[net].Load()) }
func (c decompCounter) inc(net fabric.NetID)     { c[net].Add(1) }
func (c decompCounter) disable(net fabric.NetID) { c[net].Store(maxDecompReroute) }
