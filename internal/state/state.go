// Package state holds the single shared vehicle state structure and the
// coarse lock that serializes access to it. Every periodic loop in the
// firmware reads and writes through a *Vehicle; no subsystem keeps its own
// copy of fields it does not own.
package state

import (
	"sync"
	"time"

	"github.com/arobi/trident/internal/config"
)

// ImuSample is the most recent inertial reading. Overwritten wholesale on
// every IMU poll.
type ImuSample struct {
	Acceleration [3]float64 // m/s^2, body frame
	Gyroscope    [3]float64 // rad/s, body frame
	Temperature  float64    // degrees C
	MeasuredAt   time.Time
}

// PressureSample is the most recent depth reading. Overwritten wholesale on
// every pressure-sensor poll.
type PressureSample struct {
	Pressure         float64 // kPa
	WaterTemperature float64 // degrees C
	Depth            float64 // meters, positive down
	MeasuredAt       time.Time
}

// EscReading holds the latest telemetry value decoded for each of the
// eight motors, indexed by motor id.
type EscReading struct {
	ERPM        [8]float64
	Voltage     [8]float64
	Current     [8]float64
	Temperature [8]float64
	Stress      [8]float64
}

// RegulatorState is the PID regulator's owned state: estimated attitude,
// desired setpoints, integrators and auto-tune bookkeeping. Mutated by
// the control tick, and also by the operator toggle handlers and the
// auto-tuner.
type RegulatorState struct {
	Pitch, Roll, Yaw float64 // estimated attitude, degrees (yaw unmodeled, held at 0)

	DesiredPitch float64
	DesiredRoll  float64
	DesiredDepth float64

	IntegralPitch float64
	IntegralRoll  float64
	IntegralDepth float64

	PreviousDepth float64
	DepthDerivEMA float64

	LastUpdate time.Time

	AutoTuningActive bool
	AutoTuningStart  time.Time
}

// ThrusterState is the operator-facing actuation request: the raw 8-long
// direction vector plus thruster-test bookkeeping. Set by protocol
// handlers, consumed by the output sender.
type ThrusterState struct {
	DirectionVector  [8]float64
	LastDirectionAt  time.Time
	TestThruster     *int // nil when no test is active
	TestStartTime    time.Time
	LastRemaining    int // last integer-second remaining value logged
}

// SystemHealth tracks per-subsystem health flags, flipped by the owning
// adapter on init and after repeated failures.
type SystemHealth struct {
	ImuOK             bool
	PressureSensorOK  bool
	MicrocontrollerOK bool
}

// SystemStatus tracks operator-toggleable modes plus the derived battery
// estimate.
type SystemStatus struct {
	PitchStabilization bool
	RollStabilization  bool
	DepthHold          bool
	BatteryPercentage  float64
}

// Vehicle is the single shared mutable structure. A coarse RWMutex
// protects every field; no lock is ever held across a device I/O call or
// network send — callers copy out from or set into the struct and release
// the lock before doing blocking work.
type Vehicle struct {
	mu sync.RWMutex

	Imu       ImuSample
	Pressure  PressureSample
	Esc       EscReading
	Regulator RegulatorState
	Thrusters ThrusterState
	Health    SystemHealth
	Status    SystemStatus

	cfg *config.Manager
}

// New creates a Vehicle bound to the given config manager. Health flags
// start false: adapters flip them true only after a first successful read.
func New(cfg *config.Manager) *Vehicle {
	return &Vehicle{cfg: cfg}
}

// Config returns the current configuration snapshot. Safe to call from any
// loop; the manager itself is the synchronization point for reloads.
func (v *Vehicle) Config() *config.RovConfig {
	return v.cfg.Get()
}

// ConfigManager exposes the underlying manager for handlers that need to
// replace or persist configuration (e.g. setConfig).
func (v *Vehicle) ConfigManager() *config.Manager {
	return v.cfg
}

// WithLock runs fn with the coarse write lock held. fn must not block on
// I/O or take long: it exists to make multi-field updates atomic.
func (v *Vehicle) WithLock(fn func(*Vehicle)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	fn(v)
}

// WithRLock runs fn with the coarse read lock held, for consistent
// multi-field snapshots (e.g. building a telemetry payload).
func (v *Vehicle) WithRLock(fn func(*Vehicle)) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	fn(v)
}

// SetImu overwrites the IMU sample and flips health true.
func (v *Vehicle) SetImu(s ImuSample) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Imu = s
	v.Health.ImuOK = true
}

// SetImuUnhealthy flips the IMU health flag false without touching the
// last-known sample, so stale estimates retain their last values.
func (v *Vehicle) SetImuUnhealthy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Health.ImuOK = false
}

// SetPressure overwrites the pressure sample and flips health true.
func (v *Vehicle) SetPressure(s PressureSample) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Pressure = s
	v.Health.PressureSensorOK = true
}

// SetPressureUnhealthy flips the pressure-sensor health flag false.
func (v *Vehicle) SetPressureUnhealthy() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Health.PressureSensorOK = false
}

// SetDirectionVector overwrites the operator direction command and stamps
// the freshness clock the output sender's watchdog reads.
func (v *Vehicle) SetDirectionVector(d [8]float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.Thrusters.DirectionVector = d
	v.Thrusters.LastDirectionAt = time.Now()
}

// DirectionVectorFresh reports whether a direction command has arrived
// within the given staleness window.
func (v *Vehicle) DirectionVectorFresh(window time.Duration) ([8]float64, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	fresh := time.Since(v.Thrusters.LastDirectionAt) <= window
	return v.Thrusters.DirectionVector, fresh
}

// Snapshot is an internally-consistent read of everything the telemetry
// and status publishers need, taken under a single lock acquisition.
type Snapshot struct {
	Regulator RegulatorState
	Esc       EscReading
	Pressure  PressureSample
	Health    SystemHealth
	Status    SystemStatus
}

// Snapshot takes a coherent, point-in-time copy of the fields telemetry
// and status messages are built from.
func (v *Vehicle) Snapshot() Snapshot {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return Snapshot{
		Regulator: v.Regulator,
		Esc:       v.Esc,
		Pressure:  v.Pressure,
		Health:    v.Health,
		Status:    v.Status,
	}
}
