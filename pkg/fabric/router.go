package fabric

import "github.com/matzehuels/gridroute/pkg/geom"

// ConnFlags is the outcome of routing a single connection.
type ConnFlags struct {
	// Success is false when no path exists inside the given bounding box and
	// the RR graph offers none outside it either.
	Success bool
	// RetryWithFullBB is set when a path may exist outside the caller's
	// bounding box. The caller escalates the net to a full-device retry.
	RetryWithFullBB bool
}

// DelayBudget carries the per-connection delay constraints when routing
// budgets are enabled.
type DelayBudget struct {
	MinDelay             float64
	TargetDelay          float64
	MaxDelay             float64
	ShortPathCriticality float64
}

// CostParams parameterizes the cost function of a single connection search.
type CostParams struct {
	Criticality float64
	AStarFac    float64
	BendCost    float64
	PresFac     float64
	// Budget is nil unless routing budgets are enabled.
	Budget *DelayBudget
}

// RouterStats counts work done by a connection router and the net-level
// driver above it. Stats are worker-local and merged after the tree joins.
type RouterStats struct {
	NetsRouted        int
	ConnectionsRouted int
	HeapPushes        int
	HeapPops          int
}

// Add accumulates other into s.
func (s *RouterStats) Add(other RouterStats) {
	s.NetsRouted += other.NetsRouted
	s.ConnectionsRouted += other.ConnectionsRouted
	s.HeapPushes += other.HeapPushes
	s.HeapPops += other.HeapPops
}

// ConnectionRouter routes one connection at a time: a maze expansion from the
// net's current route tree to one sink, bounded by a caller-supplied bounding
// box which it must honor as a hard frontier.
//
// Implementations are large stateful expanders (internal buffers, a heap).
// One instance must only ever be used by one goroutine at a time; the core
// keeps one per worker.
type ConnectionRouter interface {
	// RouteSink expands from tree toward sink isink of net, staying inside
	// bb. On success it must call tree.MarkReached with the routed delay.
	RouteSink(net NetID, isink int, cost CostParams, bb geom.Rect, tree *RouteTree, stats *RouterStats) ConnFlags
	// SetRCVEnabled toggles routing-constraint-violation mode, used when the
	// budgets algorithm demands hold-slack aware expansion.
	SetRCVEnabled(enabled bool)
}

// RouterFactory constructs a fresh ConnectionRouter of the requested heap
// variant ("binary" or "bucket"), copying the environment's exemplar
// configuration. The core calls it once at startup to validate the heap type
// and then lazily once per worker. An unknown heap is a programmer error and
// must be reported, not guessed around.
type RouterFactory func(heap string) (ConnectionRouter, error)
