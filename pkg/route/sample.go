package route

import (
	"github.com/matzehuels/gridroute/pkg/fabric"
)

// chooseSkeletonSinks spatially samples sinks for the skeleton routing built
// before a net is decomposed. The net's bounding box is divided into bins;
// bins already covered by the existing route tree are skipped, and for each
// remaining bin the most critical unrouted sink is picked.
//
// remaining must be sorted by descending criticality so the first sink to
// land in an empty bin is the most critical one there. The returned sinks
// are in selection order.
func chooseSkeletonSinks(env *fabric.Env, net fabric.NetID, tree *fabric.RouteTree, remaining []int) []int {
	bb := env.State.RouteBB(net)
	binsX, binsY, binW, binH := decompBins(bb)
	if binsX == 0 || binsY == 0 {
		return nil
	}

	const (
		binEmpty   = 0
		binReached = -1
	)
	bins := make([][]int, binsX)
	for i := range bins {
		bins[i] = make([]int, binsY)
	}
	toFind := binsX * binsY

	binOf := func(isink int) (int, int) {
		x, y := env.SinkCoords(net, isink)
		bx := (x - bb.XMin) / binW
		by := (y - bb.YMin) / binH
		return min(bx, binsX-1), min(by, binsY-1)
	}

	var out []int
	for _, isink := range tree.ReachedSinks() {
		if toFind == 0 {
			return out
		}
		bx, by := binOf(isink)
		if bins[bx][by] != binReached {
			bins[bx][by] = binReached
			toFind--
		}
	}

	for _, isink := range remaining {
		if toFind == 0 {
			return out
		}
		bx, by := binOf(isink)
		if bins[bx][by] == binEmpty {
			bins[bx][by] = isink
			out = append(out, isink)
			toFind--
		}
	}

	return out
}
