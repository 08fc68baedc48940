// Package partition builds the spatial partition tree that drives parallel
// routing.
//
// The tree divides the netlist into a hierarchy of device regions so that
// nets with non-overlapping bounding boxes can be routed concurrently. A
// branch node carries a cutline at axis = pos + 0.5 and owns exactly the
// nets whose bounding boxes cross that line; nets entirely on the low side
// descend into the first child, nets on the high side into the second. A
// leaf owns every net that reached it.
//
// Cutlines are chosen per node by a prefix-sum load balance score: for each
// candidate position the absolute difference between the fanout weight on
// either side is minimized, skipping candidates that would leave one side
// empty. The tree is rebuilt from scratch every routing iteration because
// bounding boxes move between iterations.
package partition

import (
	"math"
	"sort"

	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/geom"
)

// NoCutline marks a leaf node's cutline position.
const NoCutline = -1

// VirtualNet is a non-owning view of one half of a decomposed net: the net's
// bounding box clipped to one side of an ancestor's cutline. Sink membership
// is a predicate over ClippedBB rather than a stored subset, so virtual nets
// stay cheap. A VirtualNet must not outlive the iteration that created it.
type VirtualNet struct {
	Net       fabric.NetID
	ClippedBB geom.Rect
	Side      geom.Side
}

// Node is one region of the partition tree.
//
// A node is owned by at most one worker at a time; the scheduler only hands
// a node to a task after its parent's task has returned, so the result
// fields and VirtualNets need no locking.
type Node struct {
	// Region is the device rectangle this node covers.
	Region geom.Rect
	// Nets crossed by this node's cutline, or all remaining nets if leaf.
	Nets []fabric.NetID
	// VirtualNets pushed down from ancestors that decomposed a net at their
	// cutline.
	VirtualNets []VirtualNet

	// Left is the low-coordinate child, Right the high one. Either both are
	// set or neither.
	Left  *Node
	Right *Node

	CutAxis geom.Axis
	// CutPos is the cutline position, or NoCutline for a leaf. The cutline
	// sits between CutPos and CutPos+1.
	CutPos int

	// IsRoutable is false when some connection in this node was impossible
	// to route.
	IsRoutable bool
	// ReroutedNets records nets whose routing actually changed here.
	ReroutedNets []fabric.NetID
}

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return n.CutPos == NoCutline }

// Tree holds the root node of a partition tree.
type Tree struct {
	Root *Node
}

// Build constructs a partition tree over the whole device for every net in
// the netlist. Returns a tree with a nil root for an empty netlist.
//
// Bounding boxes are read once from state at build time; they must lie
// within the device grid.
func Build(nl fabric.Netlist, state *fabric.RoutingState, grid fabric.Grid) *Tree {
	nets := append([]fabric.NetID(nil), nl.Nets()...)
	b := builder{nl: nl, state: state}
	return &Tree{Root: b.build(nets, 0, 0, grid.Width(), grid.Height())}
}

type builder struct {
	nl    fabric.Netlist
	state *fabric.RoutingState
}

// build recursively partitions nets over the half-open rectangle
// [x1, x2) x [y1, y2).
func (b *builder) build(nets []fabric.NetID, x1, y1, x2, y2 int) *Node {
	if len(nets) == 0 {
		return nil
	}

	out := &Node{
		Region: geom.Rect{XMin: x1, YMin: y1, XMax: x2 - 1, YMax: y2 - 1},
		CutPos: NoCutline,
	}

	W := x2 - x1
	H := y2 - y1

	// Prefix-sum fanout lookups, recomputed per node: each cutline takes the
	// straddling nets out of play, so a global lookup would drift.
	xBefore := make([]int, W)
	xAfter := make([]int, W)
	yBefore := make([]int, H)
	yAfter := make([]int, H)
	total := 0
	for _, net := range nets {
		bb := b.state.RouteBB(net)
		w := b.nl.SinkCount(net)
		total += w

		// Clamped to the region: before[x] counts nets reaching column x or
		// lower, after[x] counts nets extending beyond column x.
		xs := max(x1, bb.XMin) - x1
		xe := min(bb.XMax, x2-1) - x1
		for x := xs; x < W; x++ {
			xBefore[x] += w
		}
		for x := 0; x < xe; x++ {
			xAfter[x] += w
		}
		ys := max(y1, bb.YMin) - y1
		ye := min(bb.YMax, y2-1) - y1
		for y := ys; y < H; y++ {
			yBefore[y] += w
		}
		for y := 0; y < ye; y++ {
			yAfter[y] += w
		}
	}

	bestScore := math.MaxInt
	bestPos := NoCutline
	bestAxis := geom.AxisX

	// A candidate is degenerate when one side would end up empty: all weight
	// still reaches past the cut (after == total) or every net starts at or
	// before it (before == total). Earlier X candidates win ties, then earlier Y.
	for x := 0; x < W; x++ {
		if xBefore[x] == total || xAfter[x] == total {
			continue
		}
		if score := abs(xBefore[x] - xAfter[x]); score < bestScore {
			bestScore = score
			bestPos = x1 + x
			bestAxis = geom.AxisX
		}
	}
	for y := 0; y < H; y++ {
		if yBefore[y] == total || yAfter[y] == total {
			continue
		}
		if score := abs(yBefore[y] - yAfter[y]); score < bestScore {
			bestScore = score
			bestPos = y1 + y
			bestAxis = geom.AxisY
		}
	}

	// Every cutline is a one-way cut: this region is done, make a leaf.
	if bestPos == NoCutline {
		out.Nets = nets
		return out
	}

	var lowNets, highNets, myNets []fabric.NetID
	for _, net := range nets {
		bb := b.state.RouteBB(net)
		lo, hi := bb.XMin, bb.XMax
		if bestAxis == geom.AxisY {
			lo, hi = bb.YMin, bb.YMax
		}
		switch {
		case hi <= bestPos:
			lowNets = append(lowNets, net)
		case lo > bestPos:
			highNets = append(highNets, net)
		default:
			myNets = append(myNets, net)
		}
	}

	// The degeneracy rule guarantees both sides are populated for in-bounds
	// bounding boxes. Fall back to a leaf rather than produce a one-armed
	// node if a box sticks out of the region.
	if len(lowNets) == 0 || len(highNets) == 0 {
		out.Nets = nets
		return out
	}

	if bestAxis == geom.AxisX {
		out.Left = b.build(lowNets, x1, y1, bestPos+1, y2)
		out.Right = b.build(highNets, bestPos+1, y1, x2, y2)
	} else {
		out.Left = b.build(lowNets, x1, y1, x2, bestPos+1)
		out.Right = b.build(highNets, x1, bestPos+1, x2, y2)
	}

	out.Nets = myNets
	out.CutAxis = bestAxis
	out.CutPos = bestPos
	return out
}

// Walk visits every node of the tree in pre-order.
func (t *Tree) Walk(visit func(*Node)) {
	var rec func(*Node)
	rec = func(n *Node) {
		if n == nil {
			return
		}
		visit(n)
		rec(n.Left)
		rec(n.Right)
	}
	rec(t.Root)
}

// AllNets returns the union of net IDs across all nodes, sorted.
func (t *Tree) AllNets() []fabric.NetID {
	var out []fabric.NetID
	t.Walk(func(n *Node) { out = append(out, n.Nets...) })
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
