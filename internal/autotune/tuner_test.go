package autotune

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arobi/trident/internal/config"
	"github.com/arobi/trident/internal/state"
	"github.com/sirupsen/logrus"
)

func testVehicle(t *testing.T) *state.Vehicle {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trident.config.json")
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	mgr, err := config.NewManager(path, log)
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}
	return state.New(mgr)
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestStart_RejectsWhenImuUnhealthy(t *testing.T) {
	v := testVehicle(t)
	v.WithLock(func(vv *state.Vehicle) { vv.Health.PressureSensorOK = true })
	tuner := New(testLogger())

	if err := tuner.Start(v); err != ErrNotReady {
		t.Errorf("Start with unhealthy IMU = %v, want ErrNotReady", err)
	}
}

func TestStart_RejectsWhenTilted(t *testing.T) {
	v := testVehicle(t)
	v.WithLock(func(vv *state.Vehicle) {
		vv.Health.ImuOK = true
		vv.Health.PressureSensorOK = true
		vv.Regulator.Pitch = 20
	})
	tuner := New(testLogger())

	if err := tuner.Start(v); err != ErrNotReady {
		t.Errorf("Start while tilted 20deg = %v, want ErrNotReady", err)
	}
}

func TestStart_BeginsAtPitchAxis(t *testing.T) {
	v := testVehicle(t)
	v.WithLock(func(vv *state.Vehicle) {
		vv.Health.ImuOK = true
		vv.Health.PressureSensorOK = true
	})
	tuner := New(testLogger())

	if err := tuner.Start(v); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tuner.axis != AxisPitch {
		t.Errorf("axis after Start = %v, want AxisPitch", tuner.axis)
	}
	var active bool
	v.WithRLock(func(vv *state.Vehicle) { active = vv.Regulator.AutoTuningActive })
	if !active {
		t.Error("Start did not set AutoTuningActive true")
	}
}

func TestCancel_ClearsActiveFlagAndResetsAxis(t *testing.T) {
	v := testVehicle(t)
	v.WithLock(func(vv *state.Vehicle) {
		vv.Health.ImuOK = true
		vv.Health.PressureSensorOK = true
	})
	tuner := New(testLogger())
	if err := tuner.Start(v); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tuner.axis = AxisRoll

	tuner.Cancel(v)

	var active bool
	v.WithRLock(func(vv *state.Vehicle) { active = vv.Regulator.AutoTuningActive })
	if active {
		t.Error("Cancel did not clear AutoTuningActive")
	}
	if tuner.axis != AxisPitch {
		t.Errorf("axis after Cancel = %v, want AxisPitch", tuner.axis)
	}
}

func TestDone_FalseUntilAllAxesComplete(t *testing.T) {
	v := testVehicle(t)
	v.WithLock(func(vv *state.Vehicle) {
		vv.Health.ImuOK = true
		vv.Health.PressureSensorOK = true
	})
	tuner := New(testLogger())
	if err := tuner.Start(v); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if tuner.Done() {
		t.Error("Done() true immediately after Start")
	}
}

func TestBuildVector_PlacesActuationOnCorrectAxis(t *testing.T) {
	out := buildVector(AxisPitch, 0.5, 0)
	if out[3] != 0.5 {
		t.Errorf("AxisPitch actuation landed on channel %v, not 3: %v", out, out[3])
	}

	out = buildVector(AxisDepth, 0.3, 0)
	if out[2] != 0.3 {
		t.Errorf("AxisDepth actuation landed on channel %v, not 2: %v", out, out[2])
	}

	out = buildVector(AxisRoll, 0.4, 0.1)
	if out[5] != 0.4 || out[3] != 0.1 {
		t.Errorf("AxisRoll actuation = %v, want channel 5 = 0.4 and channel 3 (pitch comp) = 0.1", out)
	}
}
