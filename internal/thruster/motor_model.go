package thruster

import "math"

// EfficiencyPoint is a sample on a motor's load-vs-efficiency curve.
// Adapted from the propulsion stack's airframe motor model: that model
// simulated RPM and current from KV rating and throttle, which has no
// analogue here, since each thruster's ESC reports real voltage,
// current and winding temperature over telemetry. What is reusable is
// the interpolated efficiency curve and the thermal-margin derating
// logic, so only those survive, driven by measured values instead of a
// simulated electrical model.
type EfficiencyPoint struct {
	LoadPercent float64
	Efficiency  float64
}

// ThermalConfig bounds safe operation for one thruster's ESC.
type ThermalConfig struct {
	MaxTempC      float64
	EfficiencyMap []EfficiencyPoint
}

// DefaultThermalConfig mirrors typical small brushless ESC ratings.
func DefaultThermalConfig() ThermalConfig {
	return ThermalConfig{
		MaxTempC: 90.0,
		EfficiencyMap: []EfficiencyPoint{
			{LoadPercent: 0.1, Efficiency: 0.60},
			{LoadPercent: 0.3, Efficiency: 0.80},
			{LoadPercent: 0.5, Efficiency: 0.88},
			{LoadPercent: 0.7, Efficiency: 0.90},
			{LoadPercent: 0.9, Efficiency: 0.87},
			{LoadPercent: 1.0, Efficiency: 0.82},
		},
	}
}

// ThermalMargin returns how close a reported winding temperature is to
// MaxTempC, normalized to [0,1] where 0 means at or past the limit.
func (c ThermalConfig) ThermalMargin(tempC float64) float64 {
	margin := (c.MaxTempC - tempC) / (c.MaxTempC - 25.0)
	return math.Max(0, math.Min(1, margin))
}

// MaxSafeThrust derates the commanded thrust magnitude (already in
// [-1,1]) when a motor's thermal margin is low, preserving sign.
func (c ThermalConfig) MaxSafeThrust(commanded, tempC float64) float64 {
	margin := c.ThermalMargin(tempC)
	cap := 1.0
	switch {
	case margin < 0.2:
		cap = 0.5
	case margin < 0.4:
		cap = 0.75
	}
	if commanded > cap {
		return cap
	}
	if commanded < -cap {
		return -cap
	}
	return commanded
}

// Efficiency interpolates the load-vs-efficiency curve at the given
// load fraction (0-1). No code outside the tests calls it, and no
// diagnostics endpoint reports it.
func (c ThermalConfig) Efficiency(load float64) float64 {
	curve := c.EfficiencyMap
	if len(curve) == 0 {
		return 0.85
	}
	for i := 0; i < len(curve)-1; i++ {
		if load >= curve[i].LoadPercent && load <= curve[i+1].LoadPercent {
			span := curve[i+1].LoadPercent - curve[i].LoadPercent
			effSpan := curve[i+1].Efficiency - curve[i].Efficiency
			return curve[i].Efficiency + (load-curve[i].LoadPercent)/span*effSpan
		}
	}
	if load < curve[0].LoadPercent {
		return curve[0].Efficiency
	}
	return curve[len(curve)-1].Efficiency
}
