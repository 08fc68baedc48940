package route

import (
	"sort"

	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/geom"
	"github.com/matzehuels/gridroute/pkg/partition"
)

// netResultFlags is the outcome of routing one net (or virtual net).
type netResultFlags struct {
	// success is false when some connection is impossible to route.
	success bool
	// retryWithFullBB means a path may exist outside the net's current
	// bounding box; the net is escalated to a full-device retry.
	retryWithFullBB bool
	// wasRerouted records whether the routing actually changed.
	wasRerouted bool
}

// shouldReallyRouteNet filters out nets that need no work this iteration:
// pre-routed (fixed) nets, ignored nets, and nets already routed, unless
// budgets demand a hold-slack reroute.
func (c *iterCtx) shouldReallyRouteNet(net fabric.NetID) bool {
	rerouteForHold := false
	if b := c.env.Budgets; b != nil && b.IsSet() {
		rerouteForHold = b.ShouldReroute(net) && c.worstNegSlack != 0
	}
	if c.env.State.IsFixed(net) {
		return false
	}
	if c.env.Netlist.IsIgnored(net) {
		return false
	}
	if !rerouteForHold && c.env.State.IsRouted(net) {
		return false
	}
	return true
}

// setupTree brings the net's route tree to a valid starting state: a fresh
// single-source tree for low-fanout nets (full ripup), the existing tree for
// high-fanout nets (incremental reroute: only its unreached sinks are routed).
// The existing tree is kept unchanged; no reached branch is pruned. Ripping up
// a tree removes its congestion contribution first.
func (c *iterCtx) setupTree(net fabric.NetID) *fabric.RouteTree {
	numSinks := c.env.Netlist.SinkCount(net)
	source := c.env.Netlist.Terminals(net)[0]
	tree := c.env.State.EnsureTree(net, source, numSinks)
	if len(tree.ReachedSinks()) > 0 && numSinks < c.opts.MinIncrementalRerouteFanout {
		c.env.RR.ApplyTreeCost(tree, -1)
		tree.Reset()
	}
	return tree
}

// sortByCriticality orders isinks by descending pin criticality, breaking
// ties by sink index so single-worker runs are deterministic.
func (c *iterCtx) sortByCriticality(net fabric.NetID, isinks []int) {
	crit := make(map[int]float64, len(isinks))
	for _, isink := range isinks {
		crit[isink] = c.crit.criticality(net, isink)
	}
	sort.Slice(isinks, func(i, j int) bool {
		a, b := isinks[i], isinks[j]
		if crit[a] != crit[b] {
			return crit[a] > crit[b]
		}
		return a < b
	})
}

// updateNetDelay copies the routed delay of isink from the tree into the
// shared net-delay table and invalidates the connection for the next STA
// update.
func (c *iterCtx) updateNetDelay(net fabric.NetID, tree *fabric.RouteTree, isink int) {
	c.env.State.NetDelay(net)[isink] = tree.SinkDelay(isink)
	if c.env.Timing != nil {
		c.env.Timing.InvalidateDelay(net, isink)
	}
}

// routeNet routes every remaining sink of a net in place, in descending
// criticality order, bounded by the net's current bounding box.
func (c *iterCtx) routeNet(w int, net fabric.NetID) netResultFlags {
	if !c.shouldReallyRouteNet(net) {
		return netResultFlags{success: true}
	}

	tree := c.setupTree(net)
	stats := c.workers.statsFor(w)
	router := c.workers.router(w)
	bb := c.env.State.RouteBB(net)

	remaining := tree.RemainingSinks()
	c.sortByCriticality(net, remaining)

	flags := netResultFlags{wasRerouted: true}
	for _, isink := range remaining {
		sinkFlags := router.RouteSink(net, isink, c.costParams(net, isink), bb, tree, stats)
		if sinkFlags.RetryWithFullBB {
			flags.retryWithFullBB = true
			return flags
		}
		if !sinkFlags.Success {
			c.log.Error("routing failed", "net", net, "sink", isink)
			return flags
		}
		stats.ConnectionsRouted++
		c.updateNetDelay(net, tree, isink)
	}

	stats.NetsRouted++
	c.env.State.SetRouted(net, true)
	flags.success = true
	return flags
}

// vnetRemainingSinks returns the unrouted sinks a virtual net is responsible
// for: membership is a spatial predicate over the clipped bounding box, not
// a stored subset.
func (c *iterCtx) vnetRemainingSinks(vnet partition.VirtualNet, tree *fabric.RouteTree) []int {
	var out []int
	for _, isink := range tree.RemainingSinks() {
		x, y := c.env.SinkCoords(vnet.Net, isink)
		if vnet.ClippedBB.Contains(x, y) {
			out = append(out, isink)
		}
	}
	return out
}

// routeVirtualNet routes one half of a decomposed net. The pipeline matches
// routeNet except the sink set is filtered to the clipped bounding box and
// every path search is bounded by it. Failure here usually means the
// skeleton left no routing resources on this side of the cutline.
func (c *iterCtx) routeVirtualNet(w int, vnet partition.VirtualNet) netResultFlags {
	net := vnet.Net
	tree := c.env.State.Tree(net)
	if tree == nil {
		return netResultFlags{success: true}
	}

	stats := c.workers.statsFor(w)
	router := c.workers.router(w)

	remaining := c.vnetRemainingSinks(vnet, tree)
	c.sortByCriticality(net, remaining)

	// Both halves set this to the same value, so the write is benign.
	if b := c.env.Budgets; b != nil && b.IsSet() {
		b.SetShouldReroute(net, false)
	}

	var flags netResultFlags
	for _, isink := range remaining {
		sinkFlags := router.RouteSink(net, isink, c.costParams(net, isink), vnet.ClippedBB, tree, stats)
		flags.retryWithFullBB = flags.retryWithFullBB || sinkFlags.RetryWithFullBB
		if !sinkFlags.Success {
			return flags
		}
		stats.ConnectionsRouted++
		c.updateNetDelay(net, tree, isink)
	}

	stats.NetsRouted++
	flags.success = true
	return flags
}

// routeAndDecompose builds the skeleton routing for a net straddling the
// node's cutline and splits it into two virtual nets, one per side. Returns
// ok=false when the net needs no routing or a skeleton connection failed; in
// the latter case the caller routes the net whole instead.
func (c *iterCtx) routeAndDecompose(w int, net fabric.NetID, node *partition.Node) (low, high partition.VirtualNet, ok bool) {
	if !c.shouldReallyRouteNet(net) {
		return low, high, false
	}

	tree := c.setupTree(net)
	stats := c.workers.statsFor(w)
	router := c.workers.router(w)
	bb := c.env.State.RouteBB(net)

	remaining := tree.RemainingSinks()
	c.sortByCriticality(net, remaining)

	skeleton := chooseSkeletonSinks(c.env, net, tree, remaining)
	partition.Logf("[worker %d] decomposing net %d at %s=%d, bbox %s, %d skeleton sinks",
		w, net, node.CutAxis, node.CutPos, bb, len(skeleton))

	for _, isink := range skeleton {
		sinkFlags := router.RouteSink(net, isink, c.costParams(net, isink), bb, tree, stats)
		if !sinkFlags.Success {
			// Too much work to backtrack from here; route the net whole.
			return low, high, false
		}
		stats.ConnectionsRouted++
		c.updateNetDelay(net, tree, isink)
	}

	c.decompRetries.inc(net)

	low = partition.VirtualNet{
		Net:       net,
		ClippedBB: geom.ClipToSide(bb, node.CutAxis, node.CutPos, geom.SideLow),
		Side:      geom.SideLow,
	}
	high = partition.VirtualNet{
		Net:       net,
		ClippedBB: geom.ClipToSide(bb, node.CutAxis, node.CutPos, geom.SideHigh),
		Side:      geom.SideHigh,
	}
	return low, high, true
}
