package route

import "math"

// abort factors scale MaxRouterIterations into the predicted-iteration
// threshold past which the router gives up on a congested design.
const (
	predictorAbortFactorSafe       = 1.5
	predictorAbortFactorAggressive = 1.0
)

// predictorMinAbsoluteOveruse is the overuse below which the predictor's
// estimate is ignored: with few overused nodes the router is close enough
// that aborting would be premature.
const predictorMinAbsoluteOveruse = 64

// predictorWindow bounds the regression to recent iterations, where the
// overuse trend is most representative.
const predictorWindow = 5

// predictor estimates the iteration at which routing will converge, from
// the trend of overused-node counts.
type predictor struct {
	iters   []float64
	overuse []float64
}

// addIterationOveruse records the overused node count of an iteration.
func (p *predictor) addIterationOveruse(itry int, overusedNodes int) {
	p.iters = append(p.iters, float64(itry))
	p.overuse = append(p.overuse, float64(overusedNodes))
}

// estimateSuccessIteration extrapolates a least-squares fit of the recent
// overuse trend to zero. Returns NaN when there is no decreasing trend yet.
func (p *predictor) estimateSuccessIteration() float64 {
	n := len(p.iters)
	if n < 2 {
		return math.NaN()
	}
	lo := max(0, n-predictorWindow)
	xs, ys := p.iters[lo:], p.overuse[lo:]

	var sumX, sumY, sumXX, sumXY float64
	for i := range xs {
		sumX += xs[i]
		sumY += ys[i]
		sumXX += xs[i] * xs[i]
		sumXY += xs[i] * ys[i]
	}
	k := float64(len(xs))
	denom := k*sumXX - sumX*sumX
	if denom == 0 {
		return math.NaN()
	}
	slope := (k*sumXY - sumX*sumY) / denom
	if slope >= 0 {
		return math.NaN()
	}
	intercept := (sumY - slope*sumX) / k

	// Overuse hits zero at -intercept/slope.
	return -intercept / slope
}
