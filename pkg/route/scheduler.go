package route

import (
	"sort"
	"sync"

	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/observability"
	"github.com/matzehuels/gridroute/pkg/partition"
)

// RouteIterResults is one iteration's outcome, reduced across the partition
// tree and all workers.
type RouteIterResults struct {
	// IsRoutable is false when some connection was impossible to route due
	// to a disconnected RR graph.
	IsRoutable bool
	// ReroutedNets lists the nets whose routing actually changed.
	ReroutedNets []fabric.NetID
	// Stats is the merged per-worker work counters.
	Stats fabric.RouterStats
}

// workerTokens hands out worker identities to tasks. A task holds exactly
// one token while routing a node, which gives it exclusive use of that
// worker's connection router and stats slot and bounds concurrency at
// NumWorkers.
type workerTokens chan int

func newWorkerTokens(n int) workerTokens {
	t := make(workerTokens, n)
	for i := 0; i < n; i++ {
		t <- i
	}
	return t
}

func (t workerTokens) acquire() int  { return <-t }
func (t workerTokens) release(w int) { t <- w }

// routeTree walks the partition tree top-down. Each node's own nets are
// routed (or decomposed) while holding a worker token; only then are the two
// children spawned, so the virtual nets a child consumes always exist before
// it starts. Siblings run concurrently. Blocks until the whole tree joins.
func (c *iterCtx) routeTree(tree *partition.Tree) RouteIterResults {
	c.netsToRetry.clear()

	if tree.Root != nil {
		tokens := newWorkerTokens(c.opts.NumWorkers)
		var wg sync.WaitGroup
		wg.Add(1)
		go c.routeNode(tree.Root, tokens, &wg, 0)
		wg.Wait()
	}

	// Escalate retries: full-device BB, decomposition disabled. Next
	// iteration the net straddles every cutline and is routed at the root.
	for _, net := range c.netsToRetry.snapshot() {
		c.env.State.SetRouteBB(net, c.env.FullDeviceBB())
		c.decompRetries.disable(net)
		c.log.Debug("net escalated to full-device retry", "net", net)
	}

	out := RouteIterResults{IsRoutable: true}
	if tree.Root != nil {
		reduceNode(tree.Root, &out)
	}
	out.Stats = c.workers.merged()
	return out
}

// routeNode is the per-task body: route this node's nets and virtual nets,
// then hand both children to fresh tasks.
func (c *iterCtx) routeNode(node *partition.Node, tokens workerTokens, wg *sync.WaitGroup, level int) {
	defer wg.Done()

	w := tokens.acquire()

	// Net with most sinks first: big nets dominate work and give sibling
	// tasks more slack.
	sort.SliceStable(node.Nets, func(i, j int) bool {
		return c.env.Netlist.SinkCount(node.Nets[i]) > c.env.Netlist.SinkCount(node.Nets[j])
	})

	node.IsRoutable = true
	node.ReroutedNets = node.ReroutedNets[:0]

	kept := node.Nets[:0]
	for _, net := range node.Nets {
		if !node.IsLeaf() && c.shouldDecompose(net, level, node.CutPos, node.CutAxis) {
			if low, high, ok := c.routeAndDecompose(w, net, node); ok {
				node.Left.VirtualNets = append(node.Left.VirtualNets, low)
				node.Right.VirtualNets = append(node.Right.VirtualNets, high)
				node.ReroutedNets = append(node.ReroutedNets, net)
				observability.Router().OnNetDecomposed(c.ctx, int(net), node.CutAxis.String(), node.CutPos)
				kept = append(kept, net)
				continue
			}
		}

		flags := c.routeNet(w, net)
		if !flags.success && !flags.retryWithFullBB {
			node.IsRoutable = false
		}
		if flags.wasRerouted {
			node.ReroutedNets = append(node.ReroutedNets, net)
			observability.Router().OnNetRouted(c.ctx, int(net), c.env.Netlist.SinkCount(net))
		}
		if flags.retryWithFullBB {
			// The net leaves this node; it will be re-attempted at the root
			// with a full-device bounding box next iteration.
			c.netsToRetry.push(net)
			observability.Router().OnNetRetried(c.ctx, int(net))
			continue
		}
		kept = append(kept, net)
	}
	node.Nets = kept

	for _, vnet := range node.VirtualNets {
		flags := c.routeVirtualNet(w, vnet)
		switch {
		case !flags.success && !flags.retryWithFullBB:
			// The cutline probably left no usable routing resources on this
			// side. Stop decomposing this net; it will be rerouted whole.
			c.decompRetries.disable(vnet.Net)
		case flags.retryWithFullBB:
			c.netsToRetry.push(vnet.Net)
		}
	}

	partition.Logf("[worker %d] node %s: %d nets, %d virtual nets (level %d)",
		w, node.Region, len(node.Nets), len(node.VirtualNets), level)

	tokens.release(w)

	if node.Left != nil && node.Right != nil {
		wg.Add(2)
		go c.routeNode(node.Left, tokens, wg, level+1)
		go c.routeNode(node.Right, tokens, wg, level+1)
	}
}

// reduceNode folds a subtree's per-node results into out.
func reduceNode(node *partition.Node, out *RouteIterResults) {
	out.IsRoutable = out.IsRoutable && node.IsRoutable
	out.ReroutedNets = append(out.ReroutedNets, node.ReroutedNets...)
	if node.Left != nil {
		reduceNode(node.Left, out)
	}
	if node.Right != nil {
		reduceNode(node.Right, out)
	}
}

// routeSerial routes the whole net list on one worker, most sinks first.
// Used when the partition tree is disabled.
func (c *iterCtx) routeSerial(nets []fabric.NetID) RouteIterResults {
	c.netsToRetry.clear()

	sorted := append([]fabric.NetID(nil), nets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return c.env.Netlist.SinkCount(sorted[i]) > c.env.Netlist.SinkCount(sorted[j])
	})

	out := RouteIterResults{IsRoutable: true}
	for _, net := range sorted {
		flags := c.routeNet(0, net)
		if !flags.success && !flags.retryWithFullBB {
			out.IsRoutable = false
		}
		if flags.wasRerouted {
			out.ReroutedNets = append(out.ReroutedNets, net)
		}
		if flags.retryWithFullBB {
			c.netsToRetry.push(net)
		}
	}

	for _, net := range c.netsToRetry.snapshot() {
		c.env.State.SetRouteBB(net, c.env.FullDeviceBB())
		c.decompRetries.disable(net)
	}

	out.Stats = c.workers.merged()
	return out
}
