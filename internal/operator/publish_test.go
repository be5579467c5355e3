package operator

import (
	"encoding/json"
	"testing"

	"github.com/arobi/trident/internal/state"
)

func TestPublishTelemetry_BroadcastsDepthAndAttitude(t *testing.T) {
	s, c := testServer(t)
	s.register(c)
	p := NewPublisher(s, s.vehicle, s.tuner)

	s.vehicle.WithLock(func(vv *state.Vehicle) {
		vv.Regulator.Pitch = 5
		vv.Pressure.Depth = 2.5
	})

	p.publishTelemetry()

	env := <-c.send
	if env.Type != TypeTelemetry {
		t.Fatalf("envelope type = %q, want %q", env.Type, TypeTelemetry)
	}
	var payload TelemetryPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal telemetry: %v", err)
	}
	if payload.Pitch != 5 {
		t.Errorf("payload.Pitch = %v, want 5", payload.Pitch)
	}
	if payload.Depth != 2.5 {
		t.Errorf("payload.Depth = %v, want 2.5", payload.Depth)
	}
}

func TestPublishStatus_BroadcastsHealthFlags(t *testing.T) {
	s, c := testServer(t)
	s.register(c)
	p := NewPublisher(s, s.vehicle, s.tuner)

	s.vehicle.WithLock(func(vv *state.Vehicle) {
		vv.Health.ImuOK = true
		vv.Status.DepthHold = true
	})

	p.publishStatus()

	env := <-c.send
	if env.Type != TypeStatusUpdate {
		t.Fatalf("envelope type = %q, want %q", env.Type, TypeStatusUpdate)
	}
	var payload StatusPayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		t.Fatalf("unmarshal status: %v", err)
	}
	if !payload.Health.ImuOK {
		t.Error("payload.Health.ImuOK = false, want true")
	}
	if !payload.DepthHold {
		t.Error("payload.DepthHold = false, want true")
	}
}

func TestPublishSuggestionsIfDone_SilentBeforeTunerDone(t *testing.T) {
	s, c := testServer(t)
	s.register(c)
	p := NewPublisher(s, s.vehicle, s.tuner)

	// Cancel leaves the tuner idle, never in its done state
	for i := 0; i < 3; i++ {
		s.tuner.Cancel(s.vehicle) // reset, not done yet; Done() requires axis==axisDone
	}

	p.publishSuggestionsIfDone()
	select {
	case <-c.send:
		t.Fatal("suggestions broadcast before the tuner reported done")
	default:
	}
}
