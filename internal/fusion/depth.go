package fusion

import "math"

// DepthDerivTau is the EMA time constant for the depth-rate estimate.
const DepthDerivTau = 0.064

// DepthDeriv is a single-pole exponential moving average over the
// finite-difference depth rate, used by the depth PID's derivative term.
type DepthDeriv struct {
	Prev  float64 // previous depth sample, meters
	EMA   float64 // filtered rate, meters/second
	ready bool
}

// Update folds in a new depth sample taken dt seconds after the previous
// one and returns the filtered derivative. The first call after
// construction only seeds Prev and returns zero, since there is no prior
// sample to difference against.
func (d *DepthDeriv) Update(depth, dt float64) float64 {
	if !d.ready {
		d.Prev = depth
		d.ready = true
		return 0
	}
	d.EMA = EMAStep(depth, d.Prev, d.EMA, dt)
	d.Prev = depth
	return d.EMA
}

// EMAStep applies one step of the depth-derivative EMA given a raw depth
// sample, the previous raw sample, and the previous filtered rate. It is
// the formula DepthDeriv.Update wraps, exposed directly for callers (the
// regulator's depth-hold axis) that persist Prev/EMA across ticks
// themselves rather than owning a DepthDeriv value.
func EMAStep(depth, prevDepth, prevEMA, dt float64) float64 {
	alpha := math.Exp(-dt / DepthDerivTau)
	return alpha*prevEMA + (1-alpha)*(depth-prevDepth)/dt
}
