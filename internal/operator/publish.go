package operator

import (
	"context"
	"math"
	"time"

	"github.com/arobi/trident/internal/autotune"
	"github.com/arobi/trident/internal/metrics"
	"github.com/arobi/trident/internal/state"
	"github.com/arobi/trident/internal/thruster"
)

// TelemetryHz and StatusHz are the outbound publish cadences.
const (
	TelemetryHz = 60.0
	StatusHz    = 2.0
)

// Publisher drives the two periodic outbound senders: telemetry at
// TelemetryHz and status at StatusHz. With no connected operator their
// broadcasts are dropped silently (the status tick still updates the
// battery estimate and metrics), so this loop runs unconditionally
// rather than gating on connection state.
type Publisher struct {
	server  *Server
	vehicle *state.Vehicle
	tuner   *autotune.Tuner
	battery thruster.BatteryEstimator

	suggestionsSent bool
}

// NewPublisher wires a Publisher to the server it broadcasts through, the
// vehicle state it reads from, and the tuner whose completion it watches
// for so regulatorSuggestions goes out exactly once per run.
func NewPublisher(s *Server, v *state.Vehicle, tuner *autotune.Tuner) *Publisher {
	return &Publisher{server: s, vehicle: v, tuner: tuner}
}

// Run drives both publish loops until ctx is canceled.
func (p *Publisher) Run(ctx context.Context) {
	telemetry := time.NewTicker(time.Duration(float64(time.Second) / TelemetryHz))
	status := time.NewTicker(time.Duration(float64(time.Second) / StatusHz))
	defer telemetry.Stop()
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-telemetry.C:
			p.publishTelemetry()
		case <-status.C:
			p.publishStatus()
			p.publishSuggestionsIfDone()
		}
	}
}

// publishSuggestionsIfDone sends the auto-tuner's derived gains exactly
// once per completed run, latched by suggestionsSent until the next Start
// resets the tuner out of axisDone.
func (p *Publisher) publishSuggestionsIfDone() {
	if !p.tuner.Done() {
		p.suggestionsSent = false
		return
	}
	if p.suggestionsSent {
		return
	}
	p.suggestionsSent = true

	sug := p.tuner.Suggestions()
	p.server.Broadcast(TypeRegulatorSuggestions, SuggestionsPayload{
		Pitch: AxisGainsPayload{Kp: sug.Pitch.Kp, Ki: sug.Pitch.Ki, Kd: sug.Pitch.Kd},
		Roll:  AxisGainsPayload{Kp: sug.Roll.Kp, Ki: sug.Roll.Ki, Kd: sug.Roll.Kd},
		Depth: AxisGainsPayload{Kp: sug.Depth.Kp, Ki: sug.Depth.Ki, Kd: sug.Depth.Kd},
	})
}

func (p *Publisher) publishTelemetry() {
	snap := p.vehicle.Snapshot()

	var elecTemp float64
	n := 0
	for _, t := range snap.Esc.Temperature {
		if t != 0 {
			elecTemp += t
			n++
		}
	}
	if n > 0 {
		elecTemp /= float64(n)
	}

	var dv [8]float64
	dv, _ = p.vehicle.DirectionVectorFresh(24 * time.Hour)
	work := 0.0
	for _, c := range dv {
		work += math.Abs(c)
	}
	work = math.Min(100, work/float64(len(dv))*100)

	p.server.Broadcast(TypeTelemetry, TelemetryPayload{
		Pitch:                  snap.Regulator.Pitch,
		Roll:                   snap.Regulator.Roll,
		Yaw:                    snap.Regulator.Yaw,
		Depth:                  snap.Pressure.Depth,
		DesiredPitch:           snap.Regulator.DesiredPitch,
		DesiredRoll:            snap.Regulator.DesiredRoll,
		DesiredYaw:             0,
		DesiredDepth:           snap.Regulator.DesiredDepth,
		WaterTemperature:       snap.Pressure.WaterTemperature,
		ElectronicsTemperature: elecTemp,
		ThrusterRpms:           snap.Esc.ERPM,
		WorkIndicatorPercentage: work,
	})
	metrics.RecordTelemetryPublished()
	metrics.UpdatePressureDepth(snap.Pressure.Depth)
	for i, rpm := range snap.Esc.ERPM {
		metrics.UpdateThrusterRPM(i, rpm)
	}
}

func (p *Publisher) publishStatus() {
	snap := p.vehicle.Snapshot()
	cfg := p.vehicle.Config()

	pct := p.battery.Update(snap.Esc.Voltage, cfg.Power.BatteryMinVoltage, cfg.Power.BatteryMaxVoltage)

	p.server.Broadcast(TypeStatusUpdate, StatusPayload{
		AutoStabilization: snap.Status.PitchStabilization && snap.Status.RollStabilization,
		DepthHold:         snap.Status.DepthHold,
		BatteryPercentage: pct,
		Health: HealthPayload{
			ImuOK:             snap.Health.ImuOK,
			PressureSensorOK:  snap.Health.PressureSensorOK,
			MicrocontrollerOK: snap.Health.MicrocontrollerOK,
		},
	})
	metrics.RecordStatusPublished()
	metrics.UpdateBatteryPercent(pct)
	metrics.UpdateSensorHealth("imu", snap.Health.ImuOK)
	metrics.UpdateSensorHealth("pressure", snap.Health.PressureSensorOK)
	metrics.UpdateSensorHealth("microcontroller", snap.Health.MicrocontrollerOK)
}
