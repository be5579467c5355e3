// Package fusion holds the sensor-fusion primitives feeding the
// regulator: a complementary filter for attitude and a single-pole EMA
// for the depth derivative. Both are deliberately simple first-order
// filters rather than a full state-space estimator — the control
// pipeline only closes the loop on depth and attitude, never horizontal
// position, so a multi-state Kalman filter has nothing extra to estimate
// here.
package fusion

import "math"

const (
	// ComplementaryAlpha weights the gyro-integrated estimate against the
	// accelerometer-derived angle on every fusion update.
	ComplementaryAlpha = 0.98
	// InvertedRollThreshold marks the roll angle beyond which the vehicle
	// is considered inverted, flipping the pitch integration sign.
	InvertedRollThreshold = 90.0
	// PitchLimit bounds the estimated pitch angle.
	PitchLimit = 90.0
	// RollWrapMax is the upper bound of the wrapped roll range (-180, 180].
	RollWrapMax = 180.0
)

// AttitudeEstimator holds the rolling pitch/roll estimate produced by the
// complementary filter. It is owned by the regulator; only the control
// tick calls Update.
type AttitudeEstimator struct {
	Pitch float64
	Roll  float64
}

// Update fuses one IMU sample into the running estimate. accel is
// (ax, ay, az) in m/s^2; gyro is (gx, gy, gz) in rad/s; dt is the sample
// interval in seconds. Update takes no health flag: while the IMU is
// unhealthy, callers skip the call so the estimate is left untouched.
func (e *AttitudeEstimator) Update(accel, gyro [3]float64, dt float64) {
	gx := radToDeg(gyro[0])
	gy := radToDeg(gyro[1])

	accelPitch := radToDeg(math.Atan2(accel[0], math.Sqrt(accel[1]*accel[1]+accel[2]*accel[2])))
	accelRoll := radToDeg(math.Atan2(accel[1], accel[2]))

	rollPrev := e.Roll
	diff := accelRoll - rollPrev
	switch {
	case diff > 180:
		rollPrev += 360
	case diff < -180:
		rollPrev -= 360
	}

	var pitchIntegrated float64
	if math.Abs(rollPrev) >= InvertedRollThreshold {
		pitchIntegrated = e.Pitch + gy*dt
	} else {
		pitchIntegrated = e.Pitch - gy*dt
	}

	pitch := ComplementaryAlpha*pitchIntegrated + (1-ComplementaryAlpha)*accelPitch
	roll := ComplementaryAlpha*(rollPrev+gx*dt) + (1-ComplementaryAlpha)*accelRoll

	e.Pitch = clamp(pitch, -PitchLimit, PitchLimit)
	e.Roll = wrapRoll(roll)
}

// wrapRoll reduces r to the (-180, 180] range.
func wrapRoll(r float64) float64 {
	r = math.Mod(r+RollWrapMax, 2*RollWrapMax)
	if r <= 0 {
		r += 2 * RollWrapMax
	}
	return r - RollWrapMax
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func radToDeg(r float64) float64 { return r * 180 / math.Pi }

// DegToRad converts degrees to radians; exported for the regulator's
// actuation math, which operates on radians per the PID formula.
func DegToRad(d float64) float64 { return d * math.Pi / 180 }
