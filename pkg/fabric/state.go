package fabric

import (
	"sync"

	"github.com/matzehuels/gridroute/pkg/geom"
)

// RoutingState is the shared mutable routing context: per-net bounding boxes,
// route trees, net delays and status flags.
//
// Workers mutate disjoint per-net slots under the partition-tree invariant,
// so individual entries need no locking; the maps themselves are fully
// populated up front by NewRoutingState and never grow afterwards.
type RoutingState struct {
	bb     map[NetID]*geom.Rect
	trees  map[NetID]*RouteTree
	delay  map[NetID][]float64
	status map[NetID]*netStatus
}

type netStatus struct {
	mu     sync.Mutex
	routed bool
	fixed  bool
}

// NewRoutingState allocates slots for every net, with bounding boxes from
// loadBB and no route trees yet.
func NewRoutingState(nl Netlist, loadBB func(net NetID) geom.Rect) *RoutingState {
	s := &RoutingState{
		bb:     make(map[NetID]*geom.Rect),
		trees:  make(map[NetID]*RouteTree),
		delay:  make(map[NetID][]float64),
		status: make(map[NetID]*netStatus),
	}
	for _, net := range nl.Nets() {
		bb := loadBB(net)
		s.bb[net] = &bb
		s.delay[net] = make([]float64, nl.SinkCount(net)+1)
		s.status[net] = &netStatus{}
	}
	return s
}

// RouteBB returns the net's current bounding box.
func (s *RoutingState) RouteBB(net NetID) geom.Rect { return *s.bb[net] }

// SetRouteBB replaces the net's bounding box.
func (s *RoutingState) SetRouteBB(net NetID, bb geom.Rect) { *s.bb[net] = bb }

// Tree returns the net's route tree, or nil if it was never routed.
func (s *RoutingState) Tree(net NetID) *RouteTree { return s.trees[net] }

// EnsureTree returns the net's route tree, creating a single-source tree when
// none exists. Called only by the single worker that owns the net's node.
func (s *RoutingState) EnsureTree(net NetID, root RRNodeID, numSinks int) *RouteTree {
	if t := s.trees[net]; t != nil {
		return t
	}
	t := NewRouteTree(root, numSinks)
	s.trees[net] = t
	return t
}

// SetTree installs a tree for the net, used when restoring a snapshot.
func (s *RoutingState) SetTree(net NetID, t *RouteTree) { s.trees[net] = t }

// NetDelay returns the per-sink delay slice of the net, indexed by isink.
func (s *RoutingState) NetDelay(net NetID) []float64 { return s.delay[net] }

// IsRouted reports whether the net was routed this iteration.
func (s *RoutingState) IsRouted(net NetID) bool {
	st := s.status[net]
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.routed
}

// SetRouted updates the net's routed flag.
func (s *RoutingState) SetRouted(net NetID, routed bool) {
	st := s.status[net]
	st.mu.Lock()
	st.routed = routed
	st.mu.Unlock()
}

// IsFixed reports whether the net is pre-routed and must not be touched.
func (s *RoutingState) IsFixed(net NetID) bool {
	st := s.status[net]
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.fixed
}

// SetFixed updates the net's fixed flag.
func (s *RoutingState) SetFixed(net NetID, fixed bool) {
	st := s.status[net]
	st.mu.Lock()
	st.fixed = fixed
	st.mu.Unlock()
}

// Nets returns the IDs with allocated slots, in no particular order.
func (s *RoutingState) Nets() []NetID {
	out := make([]NetID, 0, len(s.bb))
	for net := range s.bb {
		out = append(out, net)
	}
	return out
}

// SnapshotTrees deep-copies every route tree, for best-routing preservation.
func (s *RoutingState) SnapshotTrees() map[NetID]*RouteTree {
	out := make(map[NetID]*RouteTree, len(s.trees))
	for net, t := range s.trees {
		if t != nil {
			out[net] = t.Clone()
		}
	}
	return out
}

// Env bundles the collaborators the routing core consumes. Timing, Budgets
// and LoadRouteBB may be nil; everything else is required.
type Env struct {
	Netlist   Netlist
	Grid      Grid
	RR        RRGraph
	Timing    TimingAnalyzer
	Budgets   BudgetProvider
	NewRouter RouterFactory
	State     *RoutingState

	// LoadRouteBB recomputes a net's bounding box from its terminals with
	// the given inflation factor, used when the conflicted congestion mode
	// scales bounding boxes. When nil, boxes grow in place instead.
	LoadRouteBB func(net NetID, bbFac int) geom.Rect
}

// FullDeviceBB returns the bounding box covering the whole grid.
func (e *Env) FullDeviceBB() geom.Rect {
	return geom.Rect{XMin: 0, YMin: 0, XMax: e.Grid.Width() - 1, YMax: e.Grid.Height() - 1}
}

// SinkCoords returns the grid position of a sink terminal.
func (e *Env) SinkCoords(net NetID, isink int) (int, int) {
	rr := e.Netlist.Terminals(net)[isink]
	return e.RR.NodeXLow(rr), e.RR.NodeYLow(rr)
}
