package route

import (
	"sync"
	"testing"

	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/geom"
	"github.com/matzehuels/gridroute/pkg/partition"
)

func TestRouteTreeParentBeforeChildren(t *testing.T) {
	// A device-spanning net stays at the root; the two side nets descend.
	// Every root connection must be routed before any child connection,
	// because the parent task finishes before its children are spawned.
	nets := map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{4, 4}, sinks: [][2]int{{1, 1}, {8, 8}}},
		1: {bb: geom.Rect{0, 0, 3, 9}, source: [2]int{1, 1}, sinks: [][2]int{{1, 5}}},
		2: {bb: geom.Rect{6, 0, 9, 9}, source: [2]int{8, 1}, sinks: [][2]int{{8, 5}}},
	}
	fe := newFakeEnv(10, 10, nets)
	opts := DefaultOptions()
	opts.NumWorkers = 2
	c := newTestCtx(fe, opts)

	tree := partition.Build(fe.nl, fe.env.State, fe.grid)
	if tree.Root.IsLeaf() {
		t.Fatal("expected a branch root")
	}

	results := c.routeTree(tree)
	if !results.IsRoutable {
		t.Fatal("IsRoutable = false")
	}

	lastRoot := -1
	firstChild := len(fe.calls)
	for i, call := range fe.calls {
		if call.net == 0 && i > lastRoot {
			lastRoot = i
		}
		if call.net != 0 && i < firstChild {
			firstChild = i
		}
	}
	if lastRoot > firstChild {
		t.Errorf("root net call at index %d after child call at %d", lastRoot, firstChild)
	}

	if len(results.ReroutedNets) != 3 {
		t.Errorf("ReroutedNets = %v, want all 3 nets", results.ReroutedNets)
	}
}

func TestRouteTreeSortsBySinkCount(t *testing.T) {
	// Both nets land in the same leaf; the one with more sinks goes first.
	nets := map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{1, 1}}},
		1: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{1, 1}, {2, 2}, {3, 3}}},
	}
	fe := newFakeEnv(10, 10, nets)
	c := newTestCtx(fe, DefaultOptions())

	tree := partition.Build(fe.nl, fe.env.State, fe.grid)
	c.routeTree(tree)

	if len(fe.calls) == 0 || fe.calls[0].net != 1 {
		t.Errorf("first routed net = %v, want the 3-sink net", fe.calls)
	}
}

func TestRouteTreeRetryEscalation(t *testing.T) {
	nets := map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{2, 2, 5, 5}, source: [2]int{2, 2}, sinks: [][2]int{{4, 4}}},
	}
	fe := newFakeEnv(10, 10, nets)
	fe.retryNets[0] = true
	c := newTestCtx(fe, DefaultOptions())

	tree := partition.Build(fe.nl, fe.env.State, fe.grid)
	results := c.routeTree(tree)

	if !results.IsRoutable {
		t.Error("a retry must not make the iteration unroutable")
	}
	if c.netsToRetry.empty() {
		t.Error("net not recorded in the retry queue")
	}
	if got := fe.env.State.RouteBB(0); got != fe.fullBB() {
		t.Errorf("RouteBB = %v, want full device %v", got, fe.fullBB())
	}
	if c.decompRetries.get(0) < maxDecompReroute {
		t.Error("decomposition not disabled for retried net")
	}
}

func TestRouteTreeUnroutable(t *testing.T) {
	nets := map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{4, 4}}},
	}
	fe := newFakeEnv(10, 10, nets)
	fe.failNets[0] = true
	c := newTestCtx(fe, DefaultOptions())

	tree := partition.Build(fe.nl, fe.env.State, fe.grid)
	if results := c.routeTree(tree); results.IsRoutable {
		t.Error("IsRoutable = true for a failing net")
	}
}

func TestRouteSerial(t *testing.T) {
	nets := map[fabric.NetID]*fakeNet{
		0: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{1, 1}}},
		1: {bb: geom.Rect{0, 0, 9, 9}, source: [2]int{0, 0}, sinks: [][2]int{{2, 2}, {3, 3}}},
	}
	fe := newFakeEnv(10, 10, nets)
	opts := DefaultOptions()
	opts.NumWorkers = 1
	c := newTestCtx(fe, opts)

	results := c.routeSerial(fe.nl.Nets())
	if !results.IsRoutable {
		t.Fatal("IsRoutable = false")
	}
	if results.Stats.ConnectionsRouted != 3 {
		t.Errorf("ConnectionsRouted = %d, want 3", results.Stats.ConnectionsRouted)
	}
	if fe.calls[0].net != 1 {
		t.Errorf("first routed net = %d, want the higher-fanout net 1", fe.calls[0].net)
	}
}

func TestRouteAndDecompose(t *testing.T) {
	fat := wideNet(geom.Rect{0, 0, 29, 29}, 30)
	fe := newFakeEnv(30, 30, map[fabric.NetID]*fakeNet{0: fat})
	opts := DefaultOptions()
	opts.NumWorkers = 4
	c := newTestCtx(fe, opts)

	node := &partition.Node{
		Region:  geom.Rect{0, 0, 29, 29},
		CutAxis: geom.AxisX,
		CutPos:  14,
		Left:    &partition.Node{},
		Right:   &partition.Node{},
	}

	low, high, ok := c.routeAndDecompose(0, 0, node)
	if !ok {
		t.Fatal("routeAndDecompose() failed")
	}

	parent := fe.env.State.RouteBB(0)
	if low.ClippedBB != (geom.Rect{0, 0, 14, 29}) {
		t.Errorf("low ClippedBB = %v", low.ClippedBB)
	}
	if high.ClippedBB != (geom.Rect{15, 0, 29, 29}) {
		t.Errorf("high ClippedBB = %v", high.ClippedBB)
	}
	if low.ClippedBB.XMin != parent.XMin || high.ClippedBB.XMax != parent.XMax ||
		low.ClippedBB.XMax+1 != high.ClippedBB.XMin {
		t.Error("clipped boxes do not tile the parent box")
	}
	if c.decompRetries.get(0) != 1 {
		t.Errorf("decompRetries = %d, want 1", c.decompRetries.get(0))
	}

	// The skeleton must have used the parent box, not a clipped one.
	for _, call := range fe.callsFor(0) {
		if call.bb != parent {
			t.Errorf("skeleton call bounded by %v, want parent %v", call.bb, parent)
		}
	}
}

func TestRouteVirtualNetFiltersSinks(t *testing.T) {
	fat := wideNet(geom.Rect{0, 0, 29, 29}, 30)
	fe := newFakeEnv(30, 30, map[fabric.NetID]*fakeNet{0: fat})
	opts := DefaultOptions()
	opts.NumWorkers = 4
	c := newTestCtx(fe, opts)

	node := &partition.Node{
		Region:  geom.Rect{0, 0, 29, 29},
		CutAxis: geom.AxisX,
		CutPos:  14,
		Left:    &partition.Node{},
		Right:   &partition.Node{},
	}
	low, high, ok := c.routeAndDecompose(0, 0, node)
	if !ok {
		t.Fatal("routeAndDecompose() failed")
	}
	skeletonCalls := len(fe.callsFor(0))

	for _, vnet := range []partition.VirtualNet{low, high} {
		before := len(fe.callsFor(0))
		flags := c.routeVirtualNet(0, vnet)
		if !flags.success {
			t.Fatalf("routeVirtualNet(%v) failed", vnet.Side)
		}
		for _, call := range fe.callsFor(0)[before:] {
			if call.bb != vnet.ClippedBB {
				t.Errorf("virtual net call bounded by %v, want %v", call.bb, vnet.ClippedBB)
			}
			x, _ := fe.env.SinkCoords(0, call.isink)
			if !vnet.ClippedBB.Contains(x, 0) && !vnet.ClippedBB.Contains(x, 29) {
				t.Errorf("sink %d at x=%d routed outside %v", call.isink, x, vnet.ClippedBB)
			}
		}
	}

	// Every sink is routed exactly once across skeleton and both halves.
	total := len(fe.callsFor(0))
	if total != 30 {
		t.Errorf("total connections = %d (skeleton %d), want 30", total, skeletonCalls)
	}
	if remaining := fe.env.State.Tree(0).RemainingSinks(); len(remaining) != 0 {
		t.Errorf("unrouted sinks remain: %v", remaining)
	}
}

func TestRouteVirtualNetFailureDisablesDecomposition(t *testing.T) {
	fat := wideNet(geom.Rect{0, 0, 29, 29}, 30)
	fe := newFakeEnv(30, 30, map[fabric.NetID]*fakeNet{0: fat})
	opts := DefaultOptions()
	opts.NumWorkers = 4
	c := newTestCtx(fe, opts)

	node := &partition.Node{
		Region:  geom.Rect{0, 0, 29, 29},
		CutAxis: geom.AxisX,
		CutPos:  14,
		Left:    &partition.Node{},
		Right:   &partition.Node{},
	}
	low, high, ok := c.routeAndDecompose(0, 0, node)
	if !ok {
		t.Fatal("routeAndDecompose() failed")
	}
	node.Left.VirtualNets = []partition.VirtualNet{low}
	node.Right.VirtualNets = []partition.VirtualNet{high}

	// Fail all further connections: the virtual net routing fails and the
	// net must never be decomposed again.
	fe.failNets[0] = true
	flags := c.routeVirtualNet(0, low)
	if flags.success {
		t.Fatal("routeVirtualNet succeeded unexpectedly")
	}

	// The scheduler handles the failed virtual net in the child node.
	tokens := newWorkerTokens(opts.NumWorkers)
	var wg sync.WaitGroup
	wg.Add(1)
	c.routeNode(node.Left, tokens, &wg, 1)
	wg.Wait()

	if c.shouldDecompose(0, 0, 14, geom.AxisX) {
		t.Error("net still decomposable after virtual net failure")
	}
}
