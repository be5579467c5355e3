// Package autotune implements the relay-feedback PID auto-tuner: it
// drives one stabilization axis at a time into a sustained oscillation,
// fits a sinusoid to the response, and derives PID gains from the
// oscillation's period and amplitude via the classic Ziegler-Nichols
// relay-tuning formulas.
package autotune

import (
	"errors"
	"math"
	"time"

	"github.com/arobi/trident/internal/config"
	"github.com/arobi/trident/internal/metrics"
	"github.com/arobi/trident/internal/state"
	"github.com/sirupsen/logrus"
)

// Axis identifies which stabilization loop is being tuned.
type Axis int

const (
	AxisPitch Axis = iota
	AxisRoll
	AxisDepth
	axisDone
)

func (a Axis) String() string {
	switch a {
	case AxisPitch:
		return "pitch"
	case AxisRoll:
		return "roll"
	case AxisDepth:
		return "depth"
	default:
		return "done"
	}
}

type step int

const (
	stepFindZero step = iota
	stepFindAmplitude
	stepOscillate
	stepFitCurve
)

const (
	zeroThresholdDeg        = 3.0
	amplitudeThresholdDeg   = 30.0
	zeroThresholdDepth      = 0.05
	amplitudeThresholdDepth = 0.5
	oscillationDuration     = 10 * time.Second
	zeroStep                = 0.001
	amplitudeStep           = 0.002
)

// ErrNotReady is returned by Start when the vehicle is not in a safe
// state to begin auto-tuning.
var ErrNotReady = errors.New("autotune: vehicle not ready (sensors unhealthy or already tilted)")

// Suggestions carries the derived gains for the axes that completed a
// fit. An axis field with all-zero gains means fitting failed for
// that axis, mirroring the zero-gain fallback of the curve fit.
type Suggestions struct {
	Pitch config.AxisGains
	Roll  config.AxisGains
	Depth config.AxisGains
}

type sample struct {
	t float64
	v float64
}

// Tuner runs the pitch -> roll -> depth tuning sequence. It holds no
// reference to *state.Vehicle between calls: every method takes the
// vehicle explicitly and reads/writes it under the vehicle's own lock.
type Tuner struct {
	log *logrus.Logger

	axis Axis
	step step

	zeroActuation float64
	amplitude     float64
	oscStart      time.Time
	samples       []sample

	suggestions Suggestions
}

// New returns an idle Tuner. Call Start to begin a run.
func New(log *logrus.Logger) *Tuner {
	return &Tuner{log: log}
}

// Start validates preconditions and begins the pitch phase. It returns
// ErrNotReady without mutating the vehicle if the IMU or pressure sensor
// is unhealthy, or the vehicle is already tilted more than 10 degrees on
// either axis.
func (t *Tuner) Start(v *state.Vehicle) error {
	var ready bool
	v.WithLock(func(vv *state.Vehicle) {
		ready = vv.Health.ImuOK && vv.Health.PressureSensorOK &&
			math.Abs(vv.Regulator.Pitch) <= 10 && math.Abs(vv.Regulator.Roll) <= 10
		if ready {
			vv.Regulator.AutoTuningActive = true
			vv.Regulator.AutoTuningStart = time.Now()
		}
	})
	if !ready {
		metrics.RecordAutoTuneRun("rejected")
		return ErrNotReady
	}
	t.axis = AxisPitch
	t.step = stepFindZero
	t.zeroActuation = 0
	t.amplitude = 0
	t.samples = nil
	t.suggestions = Suggestions{}
	metrics.UpdateAutoTunePhase(AxisPitch.String(), 1)
	metrics.UpdateAutoTunePhase(AxisRoll.String(), 0)
	metrics.UpdateAutoTunePhase(AxisDepth.String(), 0)
	t.log.Info("starting regulator auto tuning")
	return nil
}

// Cancel aborts an in-progress run and clears the active flag.
func (t *Tuner) Cancel(v *state.Vehicle) {
	v.WithLock(func(vv *state.Vehicle) {
		vv.Regulator.AutoTuningActive = false
	})
	if t.axis != axisDone {
		metrics.RecordAutoTuneRun("canceled")
	}
	t.axis = AxisPitch
	t.step = stepFindZero
	t.samples = nil
	metrics.UpdateAutoTunePhase(AxisPitch.String(), 0)
	metrics.UpdateAutoTunePhase(AxisRoll.String(), 0)
	metrics.UpdateAutoTunePhase(AxisDepth.String(), 0)
}

// Done reports whether the last Step call completed the depth phase.
func (t *Tuner) Done() bool { return t.axis == axisDone }

// Suggestions returns the gains derived so far. Valid once Done reports
// true, but callers may also inspect it mid-run for a partial result.
func (t *Tuner) Suggestions() Suggestions { return t.suggestions }

// axisMeasurement returns the current value and the value it must
// converge toward to be "centered" for the zero-finding step.
func axisMeasurement(vv *state.Vehicle, axis Axis) (current, target float64) {
	switch axis {
	case AxisPitch:
		return vv.Regulator.Pitch, 0
	case AxisRoll:
		return vv.Regulator.Roll, 0
	default:
		return vv.Pressure.Depth, vv.Regulator.DesiredDepth
	}
}

func axisThresholds(axis Axis) (zero, amplitude float64) {
	if axis == AxisDepth {
		return zeroThresholdDepth, amplitudeThresholdDepth
	}
	return zeroThresholdDeg, amplitudeThresholdDeg
}

// buildVector places actuation into the direction-vector slot the given
// axis drives, with roll also carrying a small pitch-compensation term
// (the original relay test couples slightly into pitch because the
// vehicle's roll thrusters are not perfectly decoupled from pitch).
func buildVector(axis Axis, actuation, pitchComp float64) [8]float64 {
	var out [8]float64
	switch axis {
	case AxisPitch:
		out[3] = actuation
	case AxisRoll:
		out[3] = pitchComp
		out[5] = actuation
	case AxisDepth:
		out[2] = actuation
	}
	return out
}

// Step advances the tuning state machine by one control tick and
// returns the direction vector to send to the allocator this tick in
// place of the regular regulator output. Call only while the vehicle's
// AutoTuningActive flag is set (Start sets it; a completed run or
// Cancel clears it).
func (t *Tuner) Step(v *state.Vehicle, dt float64) [8]float64 {
	if t.axis == axisDone {
		return [8]float64{}
	}

	var (
		current, target, pitchVal float64
		kpPitch                   float64
	)
	v.WithLock(func(vv *state.Vehicle) {
		current, target = axisMeasurement(vv, t.axis)
		pitchVal = vv.Regulator.Pitch
		kpPitch = vv.Config().RegulatorPID.Pitch.Kp
	})

	err := current - target
	zeroThresh, ampThresh := axisThresholds(t.axis)
	pitchComp := -pitchVal * kpPitch * 0.5

	switch t.step {
	case stepFindZero:
		if math.Abs(err) < zeroThresh {
			t.step = stepFindAmplitude
			t.log.WithField("axis", t.axis).Info("auto-tune zero point found")
			return buildVector(t.axis, t.zeroActuation, pitchComp)
		}
		if err > 0 {
			t.zeroActuation -= zeroStep
		} else {
			t.zeroActuation += zeroStep
		}
		return buildVector(t.axis, t.zeroActuation, pitchComp)

	case stepFindAmplitude:
		t.amplitude += amplitudeStep
		actuation := t.zeroActuation + t.amplitude
		if err < 0 {
			actuation = t.zeroActuation - t.amplitude
		}
		if math.Abs(err) > ampThresh {
			t.step = stepOscillate
			t.oscStart = time.Now()
			t.log.WithFields(logrus.Fields{"axis": t.axis, "amplitude": t.amplitude}).Info("auto-tune amplitude found")
		}
		return buildVector(t.axis, actuation, pitchComp)

	case stepOscillate:
		elapsed := time.Since(t.oscStart)
		if elapsed >= oscillationDuration {
			t.step = stepFitCurve
			t.fitAxis()
			return [8]float64{}
		}
		actuation := t.zeroActuation + t.amplitude
		if err < 0 {
			actuation = t.zeroActuation - t.amplitude
		}
		t.samples = append(t.samples, sample{t: elapsed.Seconds(), v: current})
		return buildVector(t.axis, actuation, pitchComp)

	case stepFitCurve:
		t.advanceAxis(v)
		return [8]float64{}
	}
	return [8]float64{}
}

func (t *Tuner) advanceAxis(v *state.Vehicle) {
	metrics.UpdateAutoTunePhase(t.axis.String(), 2)
	switch t.axis {
	case AxisPitch:
		t.axis = AxisRoll
	case AxisRoll:
		t.axis = AxisDepth
	default:
		t.axis = axisDone
		v.WithLock(func(vv *state.Vehicle) { vv.Regulator.AutoTuningActive = false })
		metrics.RecordAutoTuneRun("completed")
		t.log.Info("regulator auto tuning completed")
		return
	}
	t.step = stepFindZero
	t.samples = nil
	t.zeroActuation = 0
	t.amplitude = 0
	metrics.UpdateAutoTunePhase(t.axis.String(), 1)
	t.log.WithField("axis", t.axis).Info("starting auto-tune phase")
}

// fitAxis fits a sinusoid to the oscillation recorded for the current
// axis and derives Ziegler-Nichols gains from its period and amplitude.
// A failed fit yields all-zero gains rather than aborting the run, so
// later axes still get tuned.
func (t *Tuner) fitAxis() {
	if len(t.samples) == 0 {
		t.log.WithField("axis", t.axis).Error("no oscillation data recorded")
		t.setGains(config.AxisGains{})
		return
	}

	times := make([]float64, len(t.samples))
	values := make([]float64, len(t.samples))
	t0 := t.samples[0].t
	for i, s := range t.samples {
		times[i] = s.t - t0
		values[i] = s.v
	}

	p0 := initialGuess(values)
	fit, err := fitSine(times, values, p0)
	if err != nil {
		t.log.WithError(err).WithField("axis", t.axis).Error("auto-tune curve fit failed")
		t.setGains(config.AxisGains{})
		return
	}

	tu := 1 / fit.freq
	ku := (4 * t.amplitude) / (math.Pi * fit.amplitude)
	kp := 0.6 * ku
	ki := 1.2 * ku / tu
	kd := 0.075 * ku * tu

	t.log.WithFields(logrus.Fields{"axis": t.axis, "kp": kp, "ki": ki, "kd": kd}).Info("auto-tune PID derived")
	t.setGains(config.AxisGains{Kp: kp, Ki: ki, Kd: kd})
}

// setGains stores g as the current axis's suggestion. Callers pass only
// Kp/Ki/Kd, so the suggested Rate is zero; auto-tuning derives no
// operator-rate scale.
func (t *Tuner) setGains(g config.AxisGains) {
	switch t.axis {
	case AxisPitch:
		t.suggestions.Pitch = g
	case AxisRoll:
		t.suggestions.Roll = g
	case AxisDepth:
		t.suggestions.Depth = g
	}
}
