// Package route implements the parallel net-routing core: a partition-tree
// scheduler that routes disjoint regions of the device concurrently, an
// intra-net decomposition protocol for nets that straddle cutlines, and the
// outer congestion-negotiation loop.
//
// The entry point is [Runner.Run] (or the [TryParallelRoute] convenience
// wrapper). The core consumes its collaborators through [fabric.Env] and
// drives them for up to MaxRouterIterations iterations, inflating congestion
// penalties until the routing is legal or declared hopeless.
package route

import (
	"runtime"

	"github.com/matzehuels/gridroute/pkg/errors"
)

// HeapType selects the connection router's internal priority queue.
type HeapType string

const (
	// BinaryHeap is the exact binary heap router.
	BinaryHeap HeapType = "binary"
	// BucketHeap is the approximate bucket heap router.
	BucketHeap HeapType = "bucket"
)

// BBUpdateMode controls how per-net bounding boxes evolve across iterations.
type BBUpdateMode string

const (
	BBUpdateStatic  BBUpdateMode = "static"
	BBUpdateDynamic BBUpdateMode = "dynamic"
)

// FailurePredictorMode configures the early-abort routing predictor.
type FailurePredictorMode string

const (
	PredictorOff        FailurePredictorMode = "off"
	PredictorSafe       FailurePredictorMode = "safe"
	PredictorAggressive FailurePredictorMode = "aggressive"
)

// InitialTimingMode selects first-iteration criticalities.
type InitialTimingMode string

const (
	// TimingAllCritical makes every net critical on the first iteration for
	// a min-delay routing.
	TimingAllCritical InitialTimingMode = "all_critical"
	// TimingLookahead estimates initial delays from the router lookahead and
	// runs STA before the first iteration.
	TimingLookahead InitialTimingMode = "lookahead"
)

// RipupMode controls forced delay-driven rerouting of legal connections.
type RipupMode string

const (
	RipupOn   RipupMode = "on"
	RipupOff  RipupMode = "off"
	RipupAuto RipupMode = "auto"
)

// BudgetsAlgorithm selects the routing-budgets strategy.
type BudgetsAlgorithm string

const (
	BudgetsDisabled BudgetsAlgorithm = "disabled"
	BudgetsYoyo     BudgetsAlgorithm = "yoyo"
)

// Options holds every routing knob recognized by the core. The zero value is
// not usable; start from [DefaultOptions]. Fields carry toml tags so a
// configuration file can be decoded straight into them.
type Options struct {
	RouterHeap HeapType `toml:"router_heap"`

	NumWorkers          int `toml:"num_workers"`
	MaxRouterIterations int `toml:"max_router_iterations"`
	MaxConvergenceCount int `toml:"max_convergence_count"`

	FirstIterPresFac float64 `toml:"first_iter_pres_fac"`
	InitialPresFac   float64 `toml:"initial_pres_fac"`
	PresFacMult      float64 `toml:"pres_fac_mult"`
	AccFac           float64 `toml:"acc_fac"`
	AStarFac         float64 `toml:"astar_fac"`
	BendCost         float64 `toml:"bend_cost"`

	BBFactor            int          `toml:"bb_factor"`
	RouteBBUpdate       BBUpdateMode `toml:"route_bb_update"`
	HighFanoutThreshold int          `toml:"high_fanout_threshold"`

	FailurePredictor           FailurePredictorMode `toml:"routing_failure_predictor"`
	CongestedIterThresholdFrac float64              `toml:"congested_routing_iteration_threshold_frac"`

	InitialTiming  InitialTimingMode `toml:"initial_timing"`
	MaxCriticality float64           `toml:"max_criticality"`
	CriticalityExp float64           `toml:"criticality_exp"`

	IncrRerouteDelayRipup RipupMode `toml:"incr_reroute_delay_ripup"`
	TwoStageClockRouting  bool      `toml:"two_stage_clock_routing"`

	BudgetsAlgorithm BudgetsAlgorithm `toml:"routing_budgets_algorithm"`
	HasChokingSpot   bool             `toml:"has_choking_spot"`

	MinIncrementalRerouteFanout  int     `toml:"min_incremental_reroute_fanout"`
	InitWirelengthAbortThreshold float64 `toml:"init_wirelength_abort_threshold"`

	// Decompose enables splitting fat cutline-straddling nets into virtual
	// nets. UsePartitionTree=false routes the whole netlist serially.
	Decompose        bool `toml:"decompose"`
	UsePartitionTree bool `toml:"use_partition_tree"`

	SaveRoutingPerIteration        bool `toml:"save_routing_per_iteration"`
	ExitAfterFirstRoutingIteration bool `toml:"exit_after_first_routing_iteration"`
}

// DefaultOptions returns the options used when nothing is configured.
func DefaultOptions() Options {
	return Options{
		RouterHeap:                   BinaryHeap,
		NumWorkers:                   runtime.NumCPU(),
		MaxRouterIterations:          50,
		MaxConvergenceCount:          1,
		FirstIterPresFac:             0,
		InitialPresFac:               0.5,
		PresFacMult:                  1.3,
		AccFac:                       1,
		AStarFac:                     1.2,
		BendCost:                     1,
		BBFactor:                     3,
		RouteBBUpdate:                BBUpdateStatic,
		HighFanoutThreshold:          64,
		FailurePredictor:             PredictorSafe,
		CongestedIterThresholdFrac:   1,
		InitialTiming:                TimingAllCritical,
		MaxCriticality:               0.99,
		CriticalityExp:               1,
		IncrRerouteDelayRipup:        RipupAuto,
		BudgetsAlgorithm:             BudgetsDisabled,
		MinIncrementalRerouteFanout:  16,
		InitWirelengthAbortThreshold: 0.85,
		Decompose:                    true,
		UsePartitionTree:             true,
	}
}

// Validate checks enum values and ranges.
func (o *Options) Validate() error {
	switch o.RouterHeap {
	case BinaryHeap, BucketHeap:
	default:
		return errors.New(errors.ErrCodeUnknownHeap, "unknown router heap %q", o.RouterHeap)
	}
	if o.NumWorkers < 1 {
		return errors.New(errors.ErrCodeInvalidConfig, "num_workers must be >= 1, got %d", o.NumWorkers)
	}
	if o.MaxRouterIterations < 1 {
		return errors.New(errors.ErrCodeInvalidConfig, "max_router_iterations must be >= 1, got %d", o.MaxRouterIterations)
	}
	switch o.RouteBBUpdate {
	case BBUpdateStatic, BBUpdateDynamic:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown route_bb_update %q", o.RouteBBUpdate)
	}
	switch o.FailurePredictor {
	case PredictorOff, PredictorSafe, PredictorAggressive:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown routing_failure_predictor %q", o.FailurePredictor)
	}
	switch o.InitialTiming {
	case TimingAllCritical, TimingLookahead:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown initial_timing %q", o.InitialTiming)
	}
	switch o.IncrRerouteDelayRipup {
	case RipupOn, RipupOff, RipupAuto:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown incr_reroute_delay_ripup %q", o.IncrRerouteDelayRipup)
	}
	switch o.BudgetsAlgorithm {
	case BudgetsDisabled, BudgetsYoyo:
	default:
		return errors.New(errors.ErrCodeInvalidConfig, "unknown routing_budgets_algorithm %q", o.BudgetsAlgorithm)
	}
	return nil
}
