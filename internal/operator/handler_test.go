package operator

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/arobi/trident/internal/autotune"
	"github.com/arobi/trident/internal/config"
	"github.com/arobi/trident/internal/state"
)

func testServer(t *testing.T) (*Server, *connection) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trident.config.json")
	log := testOperatorLogger()
	mgr, err := config.NewManager(path, log)
	if err != nil {
		t.Fatalf("config.NewManager: %v", err)
	}
	v := state.New(mgr)
	tuner := autotune.New(log)
	s := New(log, nil, v, tuner, "test")
	c := newTestConnection(s)
	return s, c
}

func drainToast(t *testing.T, c *connection) Toast {
	t.Helper()
	select {
	case env := <-c.send:
		var toast Toast
		if err := json.Unmarshal(env.Payload, &toast); err != nil {
			t.Fatalf("unmarshal toast payload: %v", err)
		}
		return toast
	default:
		t.Fatal("expected a toast to have been enqueued")
		return Toast{}
	}
}

func TestHandleDirectionVector_SetsVehicleState(t *testing.T) {
	s, c := testServer(t)
	s.handleDirectionVector(c, []byte(`[1,0,0,0,0,0,0,0]`))

	got, fresh := s.vehicle.DirectionVectorFresh(0)
	_ = fresh
	if got[0] != 1 {
		t.Errorf("DirectionVector[0] = %v, want 1", got[0])
	}
}

func TestHandleDirectionVector_IgnoresMalformedPayload(t *testing.T) {
	s, c := testServer(t)
	s.handleDirectionVector(c, []byte(`not json`))
	// must not panic; direction vector stays at its zero value
	got, _ := s.vehicle.DirectionVectorFresh(0)
	if got != ([8]float64{}) {
		t.Errorf("DirectionVector = %v after malformed payload, want unchanged zero vector", got)
	}
}

func TestHandleStartThrusterTest_RejectsOutOfRangeMotor(t *testing.T) {
	s, c := testServer(t)
	s.handleStartThrusterTest(c, []byte(`{"motor":9}`))

	toast := drainToast(t, c)
	if toast.Kind != ToastError {
		t.Errorf("toast kind = %v, want ToastError for an out-of-range motor index", toast.Kind)
	}
}

func TestHandleStartThrusterTest_SetsTestSlot(t *testing.T) {
	s, c := testServer(t)
	s.handleStartThrusterTest(c, []byte(`{"motor":3}`))

	s.vehicle.WithRLock(func(vv *state.Vehicle) {
		if vv.Thrusters.TestThruster == nil || *vv.Thrusters.TestThruster != 3 {
			t.Errorf("TestThruster = %v, want pointer to 3", vv.Thrusters.TestThruster)
		}
	})
}

func TestHandleCancelThrusterTest_ClearsTestSlot(t *testing.T) {
	s, c := testServer(t)
	s.handleStartThrusterTest(c, []byte(`{"motor":2}`))
	s.handleCancelThrusterTest(c)

	s.vehicle.WithRLock(func(vv *state.Vehicle) {
		if vv.Thrusters.TestThruster != nil {
			t.Error("TestThruster not cleared after cancel")
		}
	})
}

func TestHandleToggleAutoStabilization_EnablesBothAxes(t *testing.T) {
	s, c := testServer(t)
	s.handleToggleAutoStabilization(c)

	s.vehicle.WithRLock(func(vv *state.Vehicle) {
		if !vv.Status.PitchStabilization || !vv.Status.RollStabilization {
			t.Error("expected both pitch and roll stabilization enabled after first toggle")
		}
	})
}

func TestHandleToggleAutoStabilization_DisablingClearsSetpoints(t *testing.T) {
	s, c := testServer(t)
	s.vehicle.WithLock(func(vv *state.Vehicle) {
		vv.Regulator.DesiredPitch = 15
		vv.Regulator.DesiredRoll = -10
	})
	s.handleToggleAutoStabilization(c) // enable
	s.handleToggleAutoStabilization(c) // disable

	s.vehicle.WithRLock(func(vv *state.Vehicle) {
		if vv.Regulator.DesiredPitch != 0 || vv.Regulator.DesiredRoll != 0 {
			t.Errorf("setpoints not cleared on disable: pitch=%v roll=%v", vv.Regulator.DesiredPitch, vv.Regulator.DesiredRoll)
		}
	})
}

func TestHandleToggleDepthHold_SeedsDesiredDepthFromCurrent(t *testing.T) {
	s, c := testServer(t)
	s.vehicle.WithLock(func(vv *state.Vehicle) {
		vv.Pressure.Depth = 7.5
		vv.Regulator.IntegralDepth = 3.0
	})
	s.handleToggleDepthHold(c)

	s.vehicle.WithRLock(func(vv *state.Vehicle) {
		if !vv.Status.DepthHold {
			t.Error("DepthHold not enabled after toggle")
		}
		if vv.Regulator.DesiredDepth != 7.5 {
			t.Errorf("DesiredDepth = %v, want seeded from current depth 7.5", vv.Regulator.DesiredDepth)
		}
		if vv.Regulator.IntegralDepth != 0 {
			t.Errorf("IntegralDepth = %v, want reset to 0 on enable", vv.Regulator.IntegralDepth)
		}
	})
}

func TestHandleGetConfig_SendsCurrentConfig(t *testing.T) {
	s, c := testServer(t)
	s.handleGetConfig(c)

	select {
	case env := <-c.send:
		if env.Type != TypeConfig {
			t.Errorf("envelope type = %q, want %q", env.Type, TypeConfig)
		}
	default:
		t.Error("handleGetConfig did not enqueue a config message")
	}
}

func TestHandleCustomAction_IgnoresMalformedPayload(t *testing.T) {
	s, c := testServer(t)
	s.handleCustomAction(c, []byte(`not json`)) // must not panic
}
