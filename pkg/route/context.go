package route

import (
	"context"
	"math"

	charmlog "github.com/charmbracelet/log"

	"github.com/matzehuels/gridroute/pkg/fabric"
)

// criticalitySource yields the effective criticality of a sink pin for the
// current iteration. On the first iteration this may be a constant rather
// than real STA results.
type criticalitySource interface {
	criticality(net fabric.NetID, isink int) float64
}

// constCriticality forces every pin to a fixed criticality: 1 for min-delay
// routing before STA results exist, 0 for routability-driven routing.
type constCriticality float64

func (c constCriticality) criticality(fabric.NetID, int) float64 { return float64(c) }

// staCriticality reads the timing analyzer, shaped by the max_criticality
// clamp and criticality_exp sharpening.
type staCriticality struct {
	timing  fabric.TimingAnalyzer
	maxCrit float64
	exp     float64
}

func (s staCriticality) criticality(net fabric.NetID, isink int) float64 {
	crit := min(s.timing.Criticality(net, isink), s.maxCrit)
	if s.exp != 1 {
		crit = math.Pow(crit, s.exp)
	}
	return crit
}

// iterCtx is the read-mostly context handed to every partition-tree task for
// one routing iteration.
type iterCtx struct {
	ctx  context.Context
	env  *fabric.Env
	opts Options

	itry          int
	presFac       float64
	worstNegSlack float64
	crit          criticalitySource
	log           *charmlog.Logger

	// workers holds the per-worker connection routers and stats.
	workers *workerSlots

	// netsToRetry collects nets needing a full-device BB next iteration.
	netsToRetry *retryQueue
	// decompRetries counts decomposition reroutes per net.
	decompRetries decompCounter
}

// costParams assembles the connection cost parameters for one sink.
func (c *iterCtx) costParams(net fabric.NetID, isink int) fabric.CostParams {
	cost := fabric.CostParams{
		Criticality: c.crit.criticality(net, isink),
		AStarFac:    c.opts.AStarFac,
		BendCost:    c.opts.BendCost,
		PresFac:     c.presFac,
	}
	if b := c.env.Budgets; b != nil && b.IsSet() {
		cost.Budget = &fabric.DelayBudget{
			MinDelay:             b.MinDelayBudget(net, isink),
			TargetDelay:          b.DelayTarget(net, isink),
			MaxDelay:             b.MaxDelayBudget(net, isink),
			ShortPathCriticality: b.ShortPathCriticality(net, isink),
		}
	}
	return cost
}

// workerSlots stores one connection router and stats struct per worker,
// created on demand from the environment's exemplar factory. A slot is only
// ever used by the task currently holding that worker's token, so slots need
// no locking.
type workerSlots struct {
	factory func() fabric.ConnectionRouter
	routers []fabric.ConnectionRouter
	stats   []fabric.RouterStats
}

func newWorkerSlots(n int, factory func() fabric.ConnectionRouter) *workerSlots {
	return &workerSlots{
		factory: factory,
		routers: make([]fabric.ConnectionRouter, n),
		stats:   make([]fabric.RouterStats, n),
	}
}

// router returns worker w's connection router, constructing it on first use.
func (s *workerSlots) router(w int) fabric.ConnectionRouter {
	if s.routers[w] == nil {
		s.routers[w] = s.factory()
	}
	return s.routers[w]
}

// statsFor returns worker w's stats accumulator.
func (s *workerSlots) statsFor(w int) *fabric.RouterStats { return &s.stats[w] }

// resetStats zeroes all per-worker stats at the start of an iteration.
func (s *workerSlots) resetStats() {
	for i := range s.stats {
		s.stats[i] = fabric.RouterStats{}
	}
}

// merged returns the sum of all per-worker stats.
func (s *workerSlots) merged() fabric.RouterStats {
	var out fabric.RouterStats
	for i := range s.stats {
		out.Add(s.stats[i])
	}
	return out
}

// forEachRouter applies fn to every router constructed so far.
func (s *workerSlots) forEachRouter(fn func(fabric.ConnectionRouter)) {
	for _, r := range s.routers {
		if r != nil {
			fn(r)
		}
	}
}
