package cli

import (
	"fmt"
	"sync"

	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/geom"
)

// designRR is the routing-resource view the CLI environment exposes: one RR
// node per net terminal.
type designRR struct {
	coords [][2]int

	mu    sync.Mutex
	state *fabric.RoutingState
	nets  []fabric.NetID
}

func (rr *designRR) addNode(p [2]int) fabric.RRNodeID {
	rr.coords = append(rr.coords, p)
	return fabric.RRNodeID(len(rr.coords) - 1)
}

func (rr *designRR) NumNodes() int                   { return len(rr.coords) }
func (rr *designRR) NodeXLow(n fabric.RRNodeID) int  { return rr.coords[n][0] }
func (rr *designRR) NodeYLow(n fabric.RRNodeID) int  { return rr.coords[n][1] }
func (rr *designRR) UpdateBaseCosts(int)             {}

func (rr *designRR) UpdateAccCostAndOveruse(float64) fabric.OveruseInfo {
	// The direct router never shares wires between nets, so nothing can be
	// overused; the count exists to drive the iteration controller.
	return fabric.OveruseInfo{TotalNodes: len(rr.coords)}
}

func (rr *designRR) ApplyTreeCost(*fabric.RouteTree, int) {}

func (rr *designRR) Wirelength() fabric.WirelengthInfo {
	rr.mu.Lock()
	defer rr.mu.Unlock()
	used := 0
	for _, net := range rr.nets {
		if tree := rr.state.Tree(net); tree != nil {
			used += tree.Wirelength()
		}
	}
	return fabric.WirelengthInfo{
		UsedWirelength:      used,
		AvailableWirelength: 2 * len(rr.coords) * 64,
	}
}

// directRouter is the built-in connection router behind the CLI: it routes
// every connection as a direct Manhattan segment from the net source. It
// honors the bounding box as a hard frontier, which is all the parallel core
// needs from it; congestion negotiation requires the real maze router.
type directRouter struct {
	rr *designRR
	nl fabric.Netlist
}

// newDirectRouter returns a factory producing per-worker direct routers.
func newDirectRouter(rr *designRR, nl fabric.Netlist) fabric.RouterFactory {
	return func(heap string) (fabric.ConnectionRouter, error) {
		switch heap {
		case "binary", "bucket":
			return &directRouter{rr: rr, nl: nl}, nil
		default:
			return nil, fmt.Errorf("unknown heap type %q", heap)
		}
	}
}

func (r *directRouter) SetRCVEnabled(bool) {}

func (r *directRouter) RouteSink(net fabric.NetID, isink int, _ fabric.CostParams, bb geom.Rect,
	tree *fabric.RouteTree, stats *fabric.RouterStats) fabric.ConnFlags {
	sx := r.rr.NodeXLow(tree.Root())
	sy := r.rr.NodeYLow(tree.Root())

	terms := r.nl.Terminals(net)
	tx := r.rr.NodeXLow(terms[isink])
	ty := r.rr.NodeYLow(terms[isink])

	stats.HeapPushes++
	stats.HeapPops++

	// A direct segment needs both endpoints inside the box.
	if !bb.Contains(tx, ty) || !bb.Contains(sx, sy) {
		return fabric.ConnFlags{RetryWithFullBB: true}
	}

	dist := abs(tx-sx) + abs(ty-sy)
	tree.MarkReached(isink, float64(dist)*1e-10, dist)
	return fabric.ConnFlags{Success: true}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
