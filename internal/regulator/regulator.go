// Package regulator runs the three closed-loop stabilization axes (pitch,
// roll, depth) and combines their actuation with the operator's direction
// command into the 8-long vector the thruster allocator consumes.
package regulator

import (
	"math"

	"github.com/arobi/trident/internal/config"
	"github.com/arobi/trident/internal/fusion"
	"github.com/arobi/trident/internal/state"
	"github.com/sirupsen/logrus"
)

// IntegralClipDeg bounds the pitch/roll integrators.
const IntegralClipDeg = 40.0

// IntegralClipDepth bounds the depth integrator.
const IntegralClipDepth = 3.0

// Regulator owns no state of its own beyond a logger: every value it reads
// or mutates lives in the shared *state.Vehicle, so Tick is safe to call
// from exactly one goroutine (the control tick) without additional
// synchronization of its own.
type Regulator struct {
	log *logrus.Logger
}

// New returns a Regulator that logs orientation-transform failures (and
// nothing else — it is otherwise stateless) through log.
func New(log *logrus.Logger) *Regulator {
	return &Regulator{log: log}
}

// Tick runs one control-tick's worth of work: attitude fusion update,
// setpoint ramping, the three PID axes, and combination with the
// operator command. dv is the operator direction vector after smoothing
// (the caller owns smoothing, since it is an output-path concern, not a
// PID one); accel/gyro are the latest IMU sample (the attitude update is
// skipped while the IMU is unhealthy, but gyro still feeds the pitch/roll
// derivative terms); dt is the tick's elapsed time in seconds. It returns the
// 8-long combined actuation vector ready for the allocator pipeline.
func (r *Regulator) Tick(v *state.Vehicle, dv [8]float64, accel, gyro [3]float64, dt float64) [8]float64 {
	var out [8]float64
	v.WithLock(func(vv *state.Vehicle) {
		cfg := vv.Config()

		if vv.Health.ImuOK {
			est := fusion.AttitudeEstimator{Pitch: vv.Regulator.Pitch, Roll: vv.Regulator.Roll}
			est.Update(accel, gyro, dt)
			vv.Regulator.Pitch = est.Pitch
			vv.Regulator.Roll = est.Roll
		}

		r.updateSetpoints(vv, cfg, dv, dt)
		out = r.combine(vv, cfg, dv, gyro, dt)
	})
	return out
}

func (r *Regulator) updateSetpoints(vv *state.Vehicle, cfg *config.RovConfig, dv [8]float64, dt float64) {
	if vv.Status.PitchStabilization {
		desired := vv.Regulator.DesiredPitch + dv[3]*cfg.RegulatorPID.Pitch.Rate*dt
		vv.Regulator.DesiredPitch = clampF(desired, -80, 80)
	}
	if vv.Status.RollStabilization {
		desired := vv.Regulator.DesiredRoll + dv[5]*cfg.RegulatorPID.Roll.Rate*dt
		if desired > fusion.RollWrapMax {
			desired -= 360
		}
		if desired < -fusion.RollWrapMax {
			desired += 360
		}
		current := vv.Regulator.Roll
		if desired-current > fusion.RollWrapMax {
			desired -= 360
		}
		if desired-current < -fusion.RollWrapMax {
			desired += 360
		}
		vv.Regulator.DesiredRoll = desired
	}
}

func (r *Regulator) combine(vv *state.Vehicle, cfg *config.RovConfig, dv [8]float64, gyro [3]float64, dt float64) [8]float64 {
	var regVec [8]float64

	heave := r.handleDepthHold(vv, cfg, dt)
	regVec[0], regVec[1], regVec[2] = heave[0], heave[1], heave[2]
	regVec[3] = r.handlePitchStabilization(vv, cfg, dv, gyro, dt)
	regVec[5] = r.handleRollStabilization(vv, cfg, dv, gyro, dt)

	regPower := cfg.Power.RegulatorMaxPower / 100
	for i := range regVec {
		regVec[i] = clampF(regVec[i], -regPower, regPower)
	}

	userScale := cfg.Power.UserMaxPower / 100
	var userVec [8]float64
	for i := range dv {
		userVec[i] = dv[i] * userScale
	}
	if vv.Status.PitchStabilization {
		userVec[3] = 0
	}
	if vv.Status.RollStabilization {
		userVec[5] = 0
	}

	var combined [8]float64
	for i := range combined {
		combined[i] = userVec[i] + regVec[i]
	}

	if vv.Status.PitchStabilization || vv.Status.RollStabilization {
		combined = r.applyOrientationTransform(combined, vv.Regulator.Pitch, vv.Regulator.Roll, cfg.DirectionCoefficients)
	}

	// Channels 6 and 7 are reserved padding; the pipeline never populates them.
	combined[6], combined[7] = 0, 0
	return combined
}

func (r *Regulator) handleDepthHold(vv *state.Vehicle, cfg *config.RovConfig, dt float64) [3]float64 {
	if !vv.Status.DepthHold {
		return [3]float64{}
	}

	depth := vv.Pressure.Depth
	desired := vv.Regulator.DesiredDepth

	vv.Regulator.IntegralDepth = clampF(vv.Regulator.IntegralDepth-(desired-depth)*dt, -IntegralClipDepth, IntegralClipDepth)

	vv.Regulator.DepthDerivEMA = fusion.EMAStep(depth, vv.Regulator.PreviousDepth, vv.Regulator.DepthDerivEMA, dt)
	vv.Regulator.PreviousDepth = depth

	errVal := -(desired - depth)
	gains := cfg.RegulatorPID.Depth
	uWorld := gains.Kp*errVal + gains.Ki*vv.Regulator.IntegralDepth + gains.Kd*vv.Regulator.DepthDerivEMA

	return transformHeaveWorldToBody(uWorld, vv.Regulator.Pitch, vv.Regulator.Roll, cfg.DirectionCoefficients)
}

func (r *Regulator) handlePitchStabilization(vv *state.Vehicle, cfg *config.RovConfig, dv [8]float64, gyro [3]float64, dt float64) float64 {
	if !vv.Status.PitchStabilization {
		return 0
	}
	gains := cfg.RegulatorPID.Pitch
	desired := vv.Regulator.DesiredPitch
	current := vv.Regulator.Pitch

	integralScale := clampF(1-math.Abs(dv[3]), 0, 1)
	vv.Regulator.IntegralPitch = clampF(vv.Regulator.IntegralPitch+(desired-current)*dt*integralScale, -IntegralClipDeg, IntegralClipDeg)

	gyDeg := gyro[1] * 180 / math.Pi
	u := gains.Kp*fusion.DegToRad(desired-current) +
		gains.Ki*fusion.DegToRad(vv.Regulator.IntegralPitch) -
		gains.Kd*fusion.DegToRad(-gyDeg)

	if math.Abs(vv.Regulator.Roll) >= fusion.InvertedRollThreshold {
		u = -u
	}
	return u
}

func (r *Regulator) handleRollStabilization(vv *state.Vehicle, cfg *config.RovConfig, dv [8]float64, gyro [3]float64, dt float64) float64 {
	if !vv.Status.RollStabilization {
		return 0
	}
	gains := cfg.RegulatorPID.Roll
	desired := vv.Regulator.DesiredRoll
	current := vv.Regulator.Roll

	integralScale := clampF(1-math.Abs(dv[5]), 0, 1)
	vv.Regulator.IntegralRoll = clampF(vv.Regulator.IntegralRoll+(desired-current)*dt*integralScale, -IntegralClipDeg, IntegralClipDeg)

	gxDeg := gyro[0] * 180 / math.Pi
	u := gains.Kp*fusion.DegToRad(desired-current) +
		gains.Ki*fusion.DegToRad(vv.Regulator.IntegralRoll) -
		gains.Kd*fusion.DegToRad(gxDeg)
	return u
}

// applyOrientationTransform rotates the combined actuation's orientation
// channels (pitch/yaw/roll, indices 3/4/5) from world to body coordinates
// so operator yaw input still produces body-relative motion while
// stabilization is active. It operates on the already-combined vector
// (not the raw operator command), since that is the actuation whose
// orientation components need transforming.
func (r *Regulator) applyOrientationTransform(combined [8]float64, pitch, roll float64, coeff config.DirectionCoefficients) [8]float64 {
	pitchG, yawG, rollG := combined[3], combined[4], combined[5]

	if coeff.Pitch == 0 || coeff.Yaw == 0 || coeff.Roll == 0 {
		r.log.Error("regulator coordinate system change failed: a pitch/yaw/roll direction coefficient is zero")
		return combined
	}

	cp := math.Cos(fusion.DegToRad(pitch))
	sp := math.Sin(fusion.DegToRad(pitch))
	cr := math.Cos(fusion.DegToRad(roll))
	sr := math.Sin(fusion.DegToRad(roll))

	pitchL := cr*pitchG + sr*cp*yawG*(coeff.Yaw/coeff.Pitch)
	rollL := rollG - sp*yawG*(coeff.Yaw/coeff.Roll)
	yawL := cr*cp*yawG - sr*pitchG*(coeff.Pitch/coeff.Yaw)

	combined[3], combined[4], combined[5] = pitchL, yawL, rollL
	return combined
}

func clampF(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
