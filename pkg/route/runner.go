package route

import (
	"context"
	"encoding/json"
	"math"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/matzehuels/gridroute/pkg/errors"
	"github.com/matzehuels/gridroute/pkg/fabric"
	"github.com/matzehuels/gridroute/pkg/geom"
	"github.com/matzehuels/gridroute/pkg/observability"
	"github.com/matzehuels/gridroute/pkg/partition"
	"github.com/matzehuels/gridroute/pkg/snapshot"
)

// Bounding boxes are scaled by bbScaleFactor every bbScaleIterCount
// iterations while the router is in conflicted congestion mode.
const (
	bbScaleFactor    = 2
	bbScaleIterCount = 5
)

// rcvFinishEarlyCountdown lets budget-driven (RCV) routing finish early when
// this many iterations pass without resolvable negative hold slack.
const rcvFinishEarlyCountdown = 15

// presFacMax caps the congestion penalty to avoid overflow at high iteration
// counts.
const presFacMax = 1e25

// budgetIncreaseFactor is the extra delay added to min/max budgets when hold
// slack is struggling to resolve.
const budgetIncreaseFactor = 300e-12

// congestionMode is the router's global operating mode.
type congestionMode int

const (
	congestionNormal congestionMode = iota
	// congestionConflicted focuses on resolving routing conflicts: legal
	// connections are left alone and bounding boxes grow.
	congestionConflicted
)

// routingMetrics is the quality of a saved routing, used to decide whether
// a new legal routing improves on the stored best.
type routingMetrics struct {
	valid        bool
	criticalPath float64
	setupWNS     float64
	setupTNS     float64
	holdWNS      float64
	holdTNS      float64
	wirelength   int
}

// Runner executes the parallel routing flow. Both the CLI and library
// callers use this to avoid duplicating the iteration logic.
//
// The zero value is not usable; populate Env and Opts, then call Run.
type Runner struct {
	Env    *fabric.Env
	Opts   Options
	Logger *charmlog.Logger

	// Snapshots receives per-iteration routing records when
	// SaveRoutingPerIteration is on. Optional.
	Snapshots snapshot.Store
	// RunID tags debug output and snapshot keys; generated when empty.
	RunID string

	// DebugLogFile is where the partition-tree trace is flushed at the end
	// of the run. Defaults to "partition_tree.log"; set "-" to discard.
	DebugLogFile string
}

// TryParallelRoute routes every net of the environment's netlist with the
// given options. It returns true when a fully legal routing was found. The
// error return covers configuration and environment failures, not routing
// failure.
func TryParallelRoute(ctx context.Context, env *fabric.Env, opts Options, logger *charmlog.Logger) (bool, error) {
	r := &Runner{Env: env, Opts: opts, Logger: logger}
	return r.Run(ctx)
}

// Run drives up to MaxRouterIterations routing iterations and returns
// whether a legal routing was found and restored.
func (r *Runner) Run(ctx context.Context) (bool, error) {
	if err := r.Opts.Validate(); err != nil {
		return false, err
	}
	if r.Logger == nil {
		r.Logger = charmlog.Default()
	}
	if r.RunID == "" {
		r.RunID = uuid.NewString()
	}
	if r.DebugLogFile == "" {
		r.DebugLogFile = "partition_tree.log"
	}

	env := r.Env
	opts := r.Opts
	nl := env.Netlist
	logger := r.Logger.With("run", r.RunID)

	// Surface an unknown heap before any worker asks for a router.
	if _, err := env.NewRouter(string(opts.RouterHeap)); err != nil {
		return false, errors.Wrap(errors.ErrCodeUnknownHeap, err, "constructing %s heap router", opts.RouterHeap)
	}
	factory := func() fabric.ConnectionRouter {
		router, err := env.NewRouter(string(opts.RouterHeap))
		if err != nil {
			// Validated above; a failure here is an environment bug.
			panic(errors.Wrap(errors.ErrCodeInternal, err, "router factory failed after validation"))
		}
		return router
	}

	abortIterThreshold := math.Inf(1)
	switch opts.FailurePredictor {
	case PredictorSafe:
		abortIterThreshold = predictorAbortFactorSafe * float64(opts.MaxRouterIterations)
	case PredictorAggressive:
		abortIterThreshold = predictorAbortFactorAggressive * float64(opts.MaxRouterIterations)
	}
	highEffortThreshold := opts.CongestedIterThresholdFrac * float64(opts.MaxRouterIterations)

	maxFanout := 0
	for _, net := range nl.Nets() {
		maxFanout = max(maxFanout, nl.SinkCount(net))
	}

	// Ignored nets keep zero delay; routed nets get theirs updated in place.
	for _, net := range nl.Nets() {
		if nl.IsIgnored(net) {
			clearDelays(env.State.NetDelay(net))
		}
	}

	// First iteration criticalities: all-critical for a min-delay routing
	// when timing is on, zero when optimizing wirelength only.
	var crit criticalitySource = constCriticality(0)
	if env.Timing != nil {
		switch opts.InitialTiming {
		case TimingLookahead:
			env.Timing.Update()
			crit = staCriticality{timing: env.Timing, maxCrit: opts.MaxCriticality, exp: opts.CriticalityExp}
		default:
			crit = constCriticality(1)
		}
	}

	workers := newWorkerSlots(opts.NumWorkers, factory)
	netsToRetry := &retryQueue{}
	decompRetries := newDecompCounter(nl)
	pred := &predictor{}

	presFac := opts.FirstIterPresFac
	bbFac := opts.BBFactor
	mode := congestionNormal
	itryConflictedMode := 0
	itrySinceLastConvergence := -1
	legalConvergenceCount := 0
	rcvFinishedCount := rcvFinishEarlyCountdown
	routingIsSuccessful := false

	var bestTrees map[fabric.NetID]*fabric.RouteTree
	var bestMetrics routingMetrics
	var totalStats fabric.RouterStats

	rcvEnabled := false
	startTime := time.Now()
	prevElapsed := time.Duration(0)

	itry := 0
	for itry = 1; itry <= opts.MaxRouterIterations; itry++ {
		if err := ctx.Err(); err != nil {
			return false, errors.Wrap(errors.ErrCodeAborted, err, "routing cancelled at iteration %d", itry)
		}
		observability.Router().OnIterationStart(ctx, itry)

		workers.resetStats()
		for _, net := range nl.Nets() {
			env.State.SetRouted(net, false)
			env.State.SetFixed(net, false)
		}
		if itrySinceLastConvergence >= 0 {
			itrySinceLastConvergence++
		}

		worstNegSlack := 0.0
		if env.Budgets != nil && env.Budgets.IsSet() && env.Timing != nil {
			worstNegSlack = env.Timing.HoldTNS()
		}

		// Base costs depend only on fanout; updating them here keeps the
		// call out of the parallel tasks.
		env.RR.UpdateBaseCosts(maxFanout)

		ic := &iterCtx{
			ctx:           ctx,
			env:           env,
			opts:          opts,
			itry:          itry,
			presFac:       presFac,
			worstNegSlack: worstNegSlack,
			crit:          crit,
			log:           logger,
			workers:       workers,
			netsToRetry:   netsToRetry,
			decompRetries: decompRetries,
		}

		var results RouteIterResults
		if opts.UsePartitionTree {
			buildStart := time.Now()
			tree := partition.Build(nl, env.State, env.Grid)
			partition.Logf("built partition tree in %s", time.Since(buildStart).Round(time.Microsecond))
			results = ic.routeTree(tree)
		} else {
			results = ic.routeSerial(nl.Nets())
		}

		if !results.IsRoutable {
			logger.Error("routing impossible: disconnected routing-resource graph", "iteration", itry)
			return false, nil
		}

		accFac := opts.AccFac
		if itry == 1 {
			accFac = 0
		}
		overuse := env.RR.UpdateAccCostAndOveruse(accFac)
		wirelength := env.RR.Wirelength()
		pred.addIterationOveruse(itry, overuse.OverusedNodes)
		estSuccessIter := pred.estimateSuccessIteration()

		criticalPath := math.NaN()
		if env.Timing != nil {
			env.Timing.Update()
			criticalPath = env.Timing.CriticalPathDelay()
			// Use real STA criticalities from here on.
			crit = staCriticality{timing: env.Timing, maxCrit: opts.MaxCriticality, exp: opts.CriticalityExp}
		}

		elapsed := time.Since(startTime)
		r.printRouteStatus(logger, itry, elapsed-prevElapsed, presFac, results, overuse, wirelength, criticalPath, estSuccessIter)
		prevElapsed = elapsed
		observability.Router().OnIterationComplete(ctx, itry, overuse.OverusedNodes, wirelength.UsedWirelength, elapsed)
		totalStats.Add(results.Stats)

		if opts.SaveRoutingPerIteration && r.Snapshots != nil {
			r.saveSnapshot(ctx, logger, itry, overuse, wirelength)
		}

		routingIsFeasible := overuse.OverusedNodes == 0

		// Convergence: a legal routing with no pending full-device retries.
		if netsToRetry.empty() && r.isIterationComplete(routingIsFeasible, rcvFinishedCount == 0) {
			if isBetterQuality(env, bestMetrics, wirelength, criticalPath) {
				bestTrees = env.State.SnapshotTrees()
				bestMetrics = r.captureMetrics(wirelength, criticalPath)
				routingIsSuccessful = true
			}
			// Drop the penalty so critical connections take direct routes on
			// the next pass; it is restored to initial_pres_fac right after.
			presFac = opts.FirstIterPresFac
			legalConvergenceCount++
			itrySinceLastConvergence = 0
			observability.Router().OnConverged(ctx, itry, wirelength.UsedWirelength)
			logger.Info("legal routing found", "iteration", itry, "wirelength", wirelength.UsedWirelength)
		}

		if itrySinceLastConvergence == 1 {
			presFac = opts.InitialPresFac
		}

		if legalConvergenceCount >= opts.MaxConvergenceCount ||
			results.Stats.ConnectionsRouted == 0 ||
			r.earlyReconvergenceExit(itrySinceLastConvergence, criticalPath, bestMetrics) {
			break
		}

		if itry == 1 && r.earlyExitHeuristic(wirelength) {
			observability.Router().OnAborted(ctx, itry, "wirelength usage too high after first iteration")
			logger.Warn("routing aborted: first-iteration wirelength usage exceeds threshold",
				"used", wirelength.Used(), "threshold", opts.InitWirelengthAbortThreshold)
			break
		}

		if overuse.OverusedNodes > predictorMinAbsoluteOveruse &&
			!math.IsNaN(estSuccessIter) && estSuccessIter > abortIterThreshold &&
			opts.BudgetsAlgorithm != BudgetsYoyo {
			observability.Router().OnAborted(ctx, itry, "predicted success iteration too high")
			logger.Warn("routing aborted: predicted success iteration is too high",
				"predicted", estSuccessIter, "threshold", abortIterThreshold)
			break
		}

		if itry == 1 && opts.ExitAfterFirstRoutingIteration {
			logger.Info("exiting after first routing iteration as requested")
			break
		}

		// Prepare the next iteration.
		if opts.RouteBBUpdate == BBUpdateDynamic {
			updated := r.dynamicUpdateBoundingBoxes(results.ReroutedNets)
			logger.Debug("bounding boxes updated", "count", updated)
		}

		if float64(itry) >= highEffortThreshold {
			mode = congestionConflicted
		}

		if itry == 1 {
			presFac = opts.InitialPresFac
		} else {
			presFac = min(presFac*opts.PresFacMult, presFacMax)

			if env.Budgets != nil && env.Budgets.IsSet() {
				if itry > 5 && worstNegSlack != 0 {
					if env.Budgets.IncreaseMinBudgetsIfStruggling(budgetIncreaseFactor, worstNegSlack) {
						rcvFinishedCount--
					} else {
						rcvFinishedCount = rcvFinishEarlyCountdown
					}
				}
			}
		}

		if mode == congestionConflicted {
			if itryConflictedMode%bbScaleIterCount == 0 {
				maxGridDim := max(env.Grid.Width(), env.Grid.Height())
				bbFac = min(maxGridDim, bbFac*bbScaleFactor)
				r.reloadBoundingBoxes(bbFac)
				logger.Debug("scaled bounding boxes", "bb_fac", bbFac)
			}
			itryConflictedMode++
		}

		if env.Budgets != nil && opts.BudgetsAlgorithm == BudgetsYoyo && !env.Budgets.IsSet() {
			env.Budgets.Load()
			if !rcvEnabled {
				workers.forEachRouter(func(cr fabric.ConnectionRouter) { cr.SetRCVEnabled(true) })
				rcvEnabled = true
			}
		}

		if env.Timing == nil {
			// Keep delays and criticalities at zero so wirelength stays the
			// optimization target.
			for _, net := range nl.Nets() {
				clearDelays(env.State.NetDelay(net))
			}
		}
	}

	if routingIsSuccessful {
		logger.Info("restoring best routing")
		r.restoreBestRouting(bestTrees)
		if env.Timing != nil {
			logger.Info("critical path", "ns", bestMetrics.criticalPath*1e9)
		}
		logger.Info("routing successful", "iterations", itry,
			"nets_routed", totalStats.NetsRouted,
			"connections_routed", totalStats.ConnectionsRouted,
			"heap_pushes", totalStats.HeapPushes,
			"heap_pops", totalStats.HeapPops)
	} else {
		overuse := env.RR.UpdateAccCostAndOveruse(0)
		logger.Error("routing failed", "overused_nodes", overuse.OverusedNodes,
			"total_nodes", overuse.TotalNodes)
	}

	if r.DebugLogFile != "-" {
		if err := partition.WriteLog(r.DebugLogFile); err != nil {
			logger.Warn("could not write partition tree log", "file", r.DebugLogFile, "err", err)
		}
	}

	return routingIsSuccessful, nil
}

// isIterationComplete decides whether a feasible iteration counts as
// converged. Budget-driven (RCV) routing keeps going until negative hold
// slack resolves or the early-finish countdown expires.
func (r *Runner) isIterationComplete(feasible bool, rcvCountdownDone bool) bool {
	if !feasible {
		return false
	}
	if r.Opts.BudgetsAlgorithm == BudgetsYoyo && r.Env.Budgets != nil && r.Env.Budgets.IsSet() && r.Env.Timing != nil {
		if r.Env.Timing.HoldWNS() < 0 && !rcvCountdownDone {
			return false
		}
	}
	return true
}

// earlyReconvergenceExit stops re-routing after a convergence when several
// extra iterations have not improved the critical path.
func (r *Runner) earlyReconvergenceExit(itrySince int, criticalPath float64, best routingMetrics) bool {
	if itrySince < 3 || !best.valid || r.Env.Timing == nil {
		return false
	}
	return math.IsNaN(criticalPath) || criticalPath >= best.criticalPath
}

// earlyExitHeuristic predicts an unroutable design from first-iteration
// wirelength pressure.
func (r *Runner) earlyExitHeuristic(wl fabric.WirelengthInfo) bool {
	return wl.Used() > r.Opts.InitWirelengthAbortThreshold
}

// isBetterQuality compares a fresh legal routing against the stored best.
func isBetterQuality(env *fabric.Env, best routingMetrics, wl fabric.WirelengthInfo, criticalPath float64) bool {
	if !best.valid {
		return true
	}
	if env.Timing != nil && !math.IsNaN(criticalPath) {
		if criticalPath != best.criticalPath {
			return criticalPath < best.criticalPath
		}
	}
	return wl.UsedWirelength < best.wirelength
}

// captureMetrics records the quality of the current routing.
func (r *Runner) captureMetrics(wl fabric.WirelengthInfo, criticalPath float64) routingMetrics {
	m := routingMetrics{valid: true, wirelength: wl.UsedWirelength, criticalPath: criticalPath}
	if t := r.Env.Timing; t != nil {
		m.setupWNS = t.SetupWNS()
		m.setupTNS = t.SetupTNS()
		m.holdWNS = t.HoldWNS()
		m.holdTNS = t.HoldTNS()
	}
	return m
}

// restoreBestRouting swaps the current routing for the saved best and
// rewrites congestion costs to match: the live trees' contributions come
// out, the snapshot's go back in.
func (r *Runner) restoreBestRouting(best map[fabric.NetID]*fabric.RouteTree) {
	env := r.Env
	for _, net := range env.Netlist.Nets() {
		if cur := env.State.Tree(net); cur != nil {
			env.RR.ApplyTreeCost(cur, -1)
		}
		if tree, ok := best[net]; ok {
			env.RR.ApplyTreeCost(tree, 1)
			env.State.SetTree(net, tree)
		}
	}
}

// dynamicUpdateBoundingBoxes grows the bounding box of every rerouted net by
// one grid unit on each side, clamped to the device. Boxes only ever grow.
func (r *Runner) dynamicUpdateBoundingBoxes(rerouted []fabric.NetID) int {
	env := r.Env
	full := env.FullDeviceBB()
	updated := 0
	for _, net := range rerouted {
		if env.Netlist.SinkCount(net) > r.Opts.HighFanoutThreshold {
			// High fanout nets already have big boxes; growing them mostly
			// costs run-time.
			continue
		}
		bb := env.State.RouteBB(net)
		grown := geom.Rect{
			XMin: max(full.XMin, bb.XMin-1),
			YMin: max(full.YMin, bb.YMin-1),
			XMax: min(full.XMax, bb.XMax+1),
			YMax: min(full.YMax, bb.YMax+1),
		}
		if grown != bb {
			env.State.SetRouteBB(net, grown)
			updated++
		}
	}
	return updated
}

// reloadBoundingBoxes recomputes every net's box at the scaled factor,
// keeping each at least as large as before.
func (r *Runner) reloadBoundingBoxes(bbFac int) {
	env := r.Env
	for _, net := range env.Netlist.Nets() {
		bb := env.State.RouteBB(net)
		var grown geom.Rect
		if env.LoadRouteBB != nil {
			grown = union(bb, env.LoadRouteBB(net, bbFac))
		} else {
			full := env.FullDeviceBB()
			grown = geom.Rect{
				XMin: max(full.XMin, bb.XMin-bbFac),
				YMin: max(full.YMin, bb.YMin-bbFac),
				XMax: min(full.XMax, bb.XMax+bbFac),
				YMax: min(full.YMax, bb.YMax+bbFac),
			}
		}
		env.State.SetRouteBB(net, grown)
	}
}

func union(a, b geom.Rect) geom.Rect {
	return geom.Rect{
		XMin: min(a.XMin, b.XMin),
		YMin: min(a.YMin, b.YMin),
		XMax: max(a.XMax, b.XMax),
		YMax: max(a.YMax, b.YMax),
	}
}

// printRouteStatus logs the per-iteration status line.
func (r *Runner) printRouteStatus(logger *charmlog.Logger, itry int, elapsed time.Duration, presFac float64,
	results RouteIterResults, overuse fabric.OveruseInfo, wl fabric.WirelengthInfo, criticalPath, estSuccessIter float64) {
	fields := []any{
		"iteration", itry,
		"time", elapsed.Round(time.Millisecond),
		"pres_fac", presFac,
		"overused", overuse.OverusedNodes,
		"wirelength", wl.UsedWirelength,
		"nets", results.Stats.NetsRouted,
		"connections", results.Stats.ConnectionsRouted,
	}
	if !math.IsNaN(criticalPath) {
		fields = append(fields, "critical_path_ns", criticalPath*1e9)
	}
	if !math.IsNaN(estSuccessIter) {
		fields = append(fields, "est_success_iter", estSuccessIter)
	}
	logger.Info("route status", fields...)
}

// saveSnapshot serializes the current routing into the snapshot store.
func (r *Runner) saveSnapshot(ctx context.Context, logger *charmlog.Logger, itry int, overuse fabric.OveruseInfo, wl fabric.WirelengthInfo) {
	rec := snapshot.RecordFromState(r.RunID, itry, r.Env.State, overuse.OverusedNodes, wl.UsedWirelength)
	data, err := json.Marshal(rec)
	if err != nil {
		logger.Warn("could not serialize snapshot", "iteration", itry, "err", err)
		return
	}
	key := snapshot.Key(r.RunID, itry)
	if err := r.Snapshots.Save(ctx, key, data); err != nil {
		observability.Snapshot().OnSnapshotError(ctx, "store", key, err)
		logger.Warn("could not save snapshot", "key", key, "err", err)
		return
	}
	observability.Snapshot().OnSnapshotSave(ctx, "store", key, len(data))
}

func clearDelays(d []float64) {
	for i := range d {
		d[i] = 0
	}
}
