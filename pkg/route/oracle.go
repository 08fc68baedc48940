package route

import (
	"math/bits"

	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/geom"
)

// minDecompBinWidth is the minimum bin size when spatially sampling
// decomposition sinks. Smaller bins mean the main task spends more time
// building the skeleton: less speedup, better quality.
const minDecompBinWidth = 5

// maxDecompReroute caps how many times a net is rerouted through
// decomposition before the router gives up and routes it serially. This is a
// routability safeguard and should be hit at most a handful of times per
// circuit.
const maxDecompReroute = 5

// decompBins derives the sampling grid for a net bounding box. binsX or
// binsY is 0 when the box is thinner than one minimum-width bin on that
// axis.
func decompBins(bb geom.Rect) (binsX, binsY, binW, binH int) {
	w, h := bb.W(), bb.H()
	binsX = w / minDecompBinWidth
	binsY = h / minDecompBinWidth
	if binsX > 0 {
		binW = w/binsX + 1
	}
	if binsY > 0 {
		binH = h/binsY + 1
	}
	return
}

// isWorthDecomposing reports whether splitting the net at the cutline yields
// any parallelism: the net must be at least one sampling bin wide on both
// axes, the cutline must not leave a thin strip on either side, and there
// must be enough sinks to fill the perimeter bins with some left over.
func isWorthDecomposing(nl fabric.Netlist, bb geom.Rect, net fabric.NetID, cutPos int, axis geom.Axis) bool {
	binsX, binsY, binW, binH := decompBins(bb)
	if binsX == 0 || binsY == 0 {
		return false
	}
	if bb.W() < binW || bb.H() < binH {
		return false
	}

	// The mixed binW/binH comparison below mirrors the reference sampler's
	// strip test verbatim.
	if axis == geom.AxisX {
		if bb.XMax-cutPos < binW {
			return false
		}
		if cutPos-bb.XMin+1 < binH {
			return false
		}
	} else {
		if bb.YMax-cutPos < binW {
			return false
		}
		if cutPos-bb.YMin+1 < binH {
			return false
		}
	}

	// Minimum sample count is 4 to cover the binsX or binsY <= 2 case. Need
	// at least one extra terminal on each side beyond the samples.
	samples := max(2*(binsX+binsY)-4, 4)
	if nl.PinCount(net) <= samples+2 {
		return false
	}

	return true
}

// shouldDecompose decides whether a net owned by a branch node gets split at
// the node's cutline instead of routed whole. Decomposition stops once the
// tree is deep enough to saturate the worker pool, never touches clock nets
// under two-stage clock routing, and gives up on nets that already burned
// their decomposition retries.
func (c *iterCtx) shouldDecompose(net fabric.NetID, level, cutPos int, axis geom.Axis) bool {
	if !c.opts.Decompose {
		return false
	}
	if level > log2Ceil(c.opts.NumWorkers)-1 {
		return false
	}
	if c.env.Netlist.IsGlobal(net) && c.opts.TwoStageClockRouting {
		return false
	}
	if c.decompRetries.get(net) >= maxDecompReroute {
		return false
	}
	return isWorthDecomposing(c.env.Netlist, c.env.State.RouteBB(net), net, cutPos, axis)
}

// log2Ceil returns ceil(log2(v)) for v >= 1.
func log2Ceil(v int) int {
	if v <= 1 {
		return 0
	}
	return bits.Len(uint(v - 1))
}
