package thruster

import (
	"context"
	"time"

	"github.com/arobi/trident/internal/autotune"
	"github.com/arobi/trident/internal/metrics"
	"github.com/arobi/trident/internal/regulator"
	"github.com/arobi/trident/internal/serial"
	"github.com/arobi/trident/internal/state"
	"github.com/sirupsen/logrus"
)

// TestDuration is how long a single thruster test run drives its motor.
const TestDuration = 10 * time.Second

// CommandTimeout is how stale an operator direction command may be
// before the watchdog drops to neutral.
const CommandTimeout = 200 * time.Millisecond

// sendRetries is how many consecutive frame-write failures are tolerated
// before the microcontroller link is marked unhealthy.
const sendRetries = 3

// Sender owns the 60Hz output loop: it decides, every tick, which of
// auto-tune / thruster-test / fresh-operator-command / watchdog-neutral
// governs the motors, and writes the resulting frame to the serial link.
type Sender struct {
	log       *logrus.Logger
	transport *serial.Transport
	reg       *regulator.Regulator
	tuner     *autotune.Tuner

	smoother            Smoother
	lastTickAt          time.Time
	watchdogNeutralSent bool
}

// NewSender wires a Sender to its transport, regulator and auto-tuner.
func NewSender(log *logrus.Logger, t *serial.Transport, reg *regulator.Regulator, tuner *autotune.Tuner) *Sender {
	return &Sender{log: log, transport: t, reg: reg, tuner: tuner}
}

// Run drives the send loop at TickHz until ctx is canceled. It sends a
// neutral frame once on exit so the vehicle never coasts on its last
// command after a controlled shutdown.
func (s *Sender) Run(ctx context.Context, v *state.Vehicle) {
	ticker := time.NewTicker(time.Duration(float64(time.Second) / TickHz))
	defer ticker.Stop()

	s.lastTickAt = time.Now()
	last := NeutralFrame()

	for {
		select {
		case <-ctx.Done():
			s.writeWithRetry(NeutralFrame())
			return
		case now := <-ticker.C:
			tickStart := time.Now()
			dt := now.Sub(s.lastTickAt).Seconds()
			s.lastTickAt = now
			var healthy bool
			v.WithRLock(func(vv *state.Vehicle) { healthy = vv.Health.MicrocontrollerOK })
			if !healthy {
				continue
			}

			pulses, sent := s.determineFrame(v, now, dt)
			if sent {
				last = EncodeFrame(pulses)
			}
			if s.writeWithRetry(last) {
				metrics.RecordSerialFrame("tx", "ok")
			} else {
				v.WithLock(func(vv *state.Vehicle) { vv.Health.MicrocontrollerOK = false })
				s.log.Error("thruster send failed 3 times, disabling microcontroller link")
				metrics.RecordSerialFrame("tx", "error")
				metrics.RecordSerialWriteError()
			}
			metrics.RecordControlTick(time.Since(tickStart), time.Duration(float64(time.Second)/TickHz))
		}
	}
}

// determineFrame implements the output-path priority: auto-tune beats
// a thruster test beats a fresh operator command beats the watchdog
// neutral. It returns (pulses, true) when a new frame was computed, or
// (_, false) to mean "keep sending the last frame": the neutral frame is
// computed once when the command timeout is crossed, and Run then re-sends
// that same frame every tick until another source takes over.
func (s *Sender) determineFrame(v *state.Vehicle, now time.Time, dt float64) ([NumMotors]uint16, bool) {
	var (
		autoTuning      bool
		testThruster    *int
		directionVector [8]float64
		lastDirectionAt time.Time
		accel, gyro     [3]float64
		cfg             = v.Config()
	)
	v.WithRLock(func(vv *state.Vehicle) {
		autoTuning = vv.Regulator.AutoTuningActive
		testThruster = vv.Thrusters.TestThruster
		directionVector = vv.Thrusters.DirectionVector
		lastDirectionAt = vv.Thrusters.LastDirectionAt
		accel = vv.Imu.Acceleration
		gyro = vv.Imu.Gyroscope
	})

	if autoTuning {
		s.watchdogNeutralSent = false
		dv := s.tuner.Step(v, dt)
		t := Allocate(dv, cfg.ThrusterAllocation)
		t = Reorder(t, cfg.ThrusterPinIdentifiers)
		t = SpinCorrect(t, cfg.ThrusterSpinDirections)
		t = Clip(t)
		return PulseWidths(t), true
	}

	if testThruster != nil {
		if tv, active := s.handleThrusterTest(v, *testThruster, now); active {
			s.watchdogNeutralSent = false
			t := Reorder(tv, cfg.ThrusterPinIdentifiers)
			t = SpinCorrect(t, cfg.ThrusterSpinDirections)
			t = Clip(t)
			return PulseWidths(t), true
		}
		// test just completed this tick; fall through to the regular path
	}

	if !lastDirectionAt.IsZero() && now.Sub(lastDirectionAt) < CommandTimeout {
		s.watchdogNeutralSent = false
		smoothed := s.smoother.Step(directionVector, cfg.SmoothingFactor)
		combined := s.reg.Tick(v, smoothed, accel, gyro, dt)
		return BuildPulses(combined, cfg), true
	}

	if s.watchdogNeutralSent {
		return [NumMotors]uint16{}, false
	}
	s.watchdogNeutralSent = true
	metrics.RecordWatchdogTrip()
	return [NumMotors]uint16{Neutral, Neutral, Neutral, Neutral, Neutral, Neutral, Neutral, Neutral}, true
}

// handleThrusterTest drives a single motor at a fixed low thrust for
// TestDuration, logging the remaining whole seconds each time that value
// changes; no operator toast is sent for the countdown. It returns
// active=false once the window elapses, clearing the test slot.
func (s *Sender) handleThrusterTest(v *state.Vehicle, motor int, now time.Time) ([8]float64, bool) {
	var start time.Time
	v.WithRLock(func(vv *state.Vehicle) { start = vv.Thrusters.TestStartTime })

	elapsed := now.Sub(start)
	if elapsed >= TestDuration {
		v.WithLock(func(vv *state.Vehicle) { vv.Thrusters.TestThruster = nil })
		s.log.WithField("motor", motor).Info("thruster test completed")
		return [8]float64{}, false
	}

	remaining := int((TestDuration - elapsed).Seconds())
	v.WithLock(func(vv *state.Vehicle) {
		if vv.Thrusters.LastRemaining != remaining {
			vv.Thrusters.LastRemaining = remaining
			s.log.WithFields(logrus.Fields{"motor": motor, "remaining": remaining}).Info("thruster test in progress")
		}
	})

	var tv [8]float64
	tv[motor] = 0.1
	return tv, true
}

func (s *Sender) writeWithRetry(frame [FrameLen]byte) bool {
	for attempt := 0; attempt < sendRetries; attempt++ {
		if err := s.transport.Write(frame[:]); err == nil {
			return true
		} else if attempt < sendRetries-1 {
			s.log.WithError(err).Warn("thruster frame write failed, retrying")
			time.Sleep(100 * time.Millisecond)
		}
	}
	return false
}
