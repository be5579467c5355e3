package thruster

import "math"

// batteryEmaAlpha smooths the instantaneous percentage estimate.
const batteryEmaAlpha = 0.1

// BatteryEstimator tracks the EMA-smoothed battery percentage derived
// from ESC voltage telemetry. This replaces the propulsion stack's
// coulomb-counting discharge-curve model: that model needs a known
// capacity and discharge curve to integrate against, neither of which
// this firmware has — it only ever sees the instantaneous voltage each
// ESC reports — so the simpler linear voltage-to-percentage map the
// telemetry protocol actually specifies is what is implemented here.
type BatteryEstimator struct {
	pct   float64
	ready bool
}

// Update folds in one telemetry sample: the mean of the ESCs' nonzero
// voltage readings, linearly mapped from [minVoltage, maxVoltage] to
// [0, 100] and clamped, then smoothed by an EMA. Readers where every ESC
// voltage is zero (no telemetry yet) leave the estimate unchanged.
func (b *BatteryEstimator) Update(voltages [8]float64, minVoltage, maxVoltage float64) float64 {
	sum, n := 0.0, 0
	for _, v := range voltages {
		if v != 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return b.pct
	}
	mean := sum / float64(n)

	pct := (mean - minVoltage) / (maxVoltage - minVoltage) * 100
	pct = math.Max(0, math.Min(100, pct))

	if !b.ready {
		b.pct = pct
		b.ready = true
		return b.pct
	}
	b.pct = batteryEmaAlpha*pct + (1-batteryEmaAlpha)*b.pct
	return b.pct
}
