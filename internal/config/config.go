// Package config loads, persists and hot-reloads the vehicle's RovConfig.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// AxisGains holds the PID gains and operator rate scale for one regulator axis.
type AxisGains struct {
	Kp   float64 `json:"kp"`
	Ki   float64 `json:"ki"`
	Kd   float64 `json:"kd"`
	Rate float64 `json:"rate"`
}

// RegulatorGains holds the three closed-loop axes. Yaw has no PID axis: it is
// pure operator-rate passthrough, per the control-pipeline design.
type RegulatorGains struct {
	Pitch AxisGains `json:"pitch"`
	Roll  AxisGains `json:"roll"`
	Depth AxisGains `json:"depth"`
}

// DirectionCoefficients scales each of the six direction-vector axes before
// allocation. All six are present (surge/sway/heave/pitch/yaw/roll): the
// later configuration revision this schema is based on added pitch/yaw/roll
// coefficients for body-frame orientation mixing; the earlier revision that
// only carried surge/sway/heave is not reproduced.
type DirectionCoefficients struct {
	Surge float64 `json:"surge"`
	Sway  float64 `json:"sway"`
	Heave float64 `json:"heave"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	Roll  float64 `json:"roll"`
}

// Power holds the saturation limits and the ESC voltage range used for the
// battery-percentage estimate.
type Power struct {
	UserMaxPower      float64 `json:"userMaxPower"`
	RegulatorMaxPower float64 `json:"regulatorMaxPower"`
	BatteryMinVoltage float64 `json:"batteryMinVoltage"`
	BatteryMaxVoltage float64 `json:"batteryMaxVoltage"`
}

// RovConfig is the complete, persisted vehicle configuration. Field names
// are the canonical (latest-revision) schema: `rate`, not `turnSpeed`; all
// six direction coefficients, not just surge/sway/heave. Older files are
// migrated on load, see migrate().
type RovConfig struct {
	FirmwareVariant        string                `json:"firmwareVariant"`
	FluidType              string                `json:"fluidType"`
	SmoothingFactor        float64               `json:"smoothingFactor"`
	ThrusterPinIdentifiers [8]int                `json:"thrusterPinIdentifiers"`
	ThrusterSpinDirections [8]int                `json:"thrusterSpinDirections"`
	ThrusterAllocation     [8][8]float64         `json:"thrusterAllocation"`
	RegulatorPID           RegulatorGains        `json:"regulatorPid"`
	DirectionCoefficients  DirectionCoefficients `json:"directionCoefficients"`
	Power                  Power                 `json:"power"`
}

// Default returns the factory configuration: identity pin mapping, all
// thrusters spinning forward, the canonical 8x6-in-8x8 allocation matrix.
func Default() *RovConfig {
	return &RovConfig{
		FirmwareVariant:        "dshot",
		FluidType:              "saltWater",
		SmoothingFactor:        0.0,
		ThrusterPinIdentifiers: [8]int{0, 1, 2, 3, 4, 5, 6, 7},
		ThrusterSpinDirections: [8]int{1, 1, 1, 1, 1, 1, 1, 1},
		ThrusterAllocation: [8][8]float64{
			{1, 1, 0, 0, -1, 0, 0, 0},
			{1, -1, 0, 0, 1, 0, 0, 0},
			{0, 0, 1, 1, 0, 1, 0, 0},
			{0, 0, 1, 1, 0, -1, 0, 0},
			{0, 0, 1, -1, 0, 1, 0, 0},
			{0, 0, 1, -1, 0, -1, 0, 0},
			{-1, -1, 0, 0, 1, 0, 0, 0},
			{-1, 1, 0, 0, -1, 0, 0, 0},
		},
		RegulatorPID: RegulatorGains{
			Pitch: AxisGains{Kp: 2, Ki: 0, Kd: 0.1, Rate: 1.0},
			Roll:  AxisGains{Kp: 1, Ki: 0, Kd: 0.1, Rate: 1.0},
			Depth: AxisGains{Kp: 0.5, Ki: 0, Kd: 0.1, Rate: 1.0},
		},
		DirectionCoefficients: DirectionCoefficients{
			Surge: 1, Sway: 1, Heave: 1, Pitch: 1, Yaw: 1, Roll: 1,
		},
		Power: Power{
			UserMaxPower:      30,
			RegulatorMaxPower: 30,
			BatteryMinVoltage: 14,
			BatteryMaxVoltage: 21.5,
		},
	}
}

// legacy is a superset of the fields seen across older config revisions,
// used only to detect and migrate pre-canonical field names.
type legacy struct {
	RegulatorPID struct {
		Pitch struct {
			Kp        float64  `json:"kp"`
			Ki        float64  `json:"ki"`
			Kd        float64  `json:"kd"`
			TurnSpeed *float64 `json:"turnSpeed"`
			Rate      *float64 `json:"rate"`
		} `json:"pitch"`
	} `json:"regulatorPid"`
	DirectionCoefficients struct {
		Strafe     *float64 `json:"strafe"`
		Horizontal *float64 `json:"horizontal"`
		Vertical   *float64 `json:"vertical"`
	} `json:"directionCoefficients"`
}

// Manager owns the on-disk config file: atomic load/save and a live
// fsnotify watch so an operator editing the file directly is picked up
// without a restart.
type Manager struct {
	path   string
	log    *logrus.Logger
	mu     sync.Mutex
	cfg    *RovConfig
	watch  *fsnotify.Watcher
	onLoad func(*RovConfig)
}

// NewManager constructs a Manager bound to path, loading (and creating with
// defaults if absent) the config immediately.
func NewManager(path string, log *logrus.Logger) (*Manager, error) {
	m := &Manager{path: path, log: log}
	cfg, err := m.loadOrCreate()
	if err != nil {
		return nil, err
	}
	m.cfg = cfg
	return m, nil
}

// Get returns the current configuration. Callers must not mutate the
// returned value; Set replaces it wholesale under the lock.
func (m *Manager) Get() *RovConfig {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Set replaces the configuration by pointer-swap and persists it.
func (m *Manager) Set(cfg *RovConfig) error {
	m.mu.Lock()
	m.cfg = cfg
	m.mu.Unlock()
	return m.save(cfg)
}

// OnReload registers a callback invoked whenever the file is reloaded,
// either via Set or via an external edit detected by the watcher.
func (m *Manager) OnReload(fn func(*RovConfig)) {
	m.onLoad = fn
}

func (m *Manager) loadOrCreate() (*RovConfig, error) {
	raw, err := os.ReadFile(m.path)
	if os.IsNotExist(err) {
		cfg := Default()
		return cfg, m.save(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		m.log.WithError(err).Warn("config file unparseable, falling back to defaults")
		return cfg, m.save(cfg)
	}
	migrate(cfg, raw)
	return cfg, nil
}

// migrate rewrites deprecated field spellings found in raw JSON onto cfg's
// canonical fields. Because RovConfig only declares canonical JSON tags,
// the legacy names are invisible to json.Unmarshal above; this recovers
// them from a second, permissive pass.
func migrate(cfg *RovConfig, raw []byte) {
	var lg legacy
	if err := json.Unmarshal(raw, &lg); err != nil {
		return
	}
	if lg.RegulatorPID.Pitch.TurnSpeed != nil && lg.RegulatorPID.Pitch.Rate == nil {
		cfg.RegulatorPID.Pitch.Rate = *lg.RegulatorPID.Pitch.TurnSpeed
	}
	if lg.DirectionCoefficients.Horizontal != nil {
		cfg.DirectionCoefficients.Surge = *lg.DirectionCoefficients.Horizontal
	}
	if lg.DirectionCoefficients.Strafe != nil {
		cfg.DirectionCoefficients.Sway = *lg.DirectionCoefficients.Strafe
	}
	if lg.DirectionCoefficients.Vertical != nil {
		cfg.DirectionCoefficients.Heave = *lg.DirectionCoefficients.Vertical
	}
}

// save writes cfg to a temp file in the same directory, then renames it
// over the target path, so a crash mid-write never corrupts the file.
func (m *Manager) save(cfg *RovConfig) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(m.path)
	tmp, err := os.CreateTemp(dir, ".rovconfig-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, m.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Watch starts the fsnotify watcher on the config file's directory; on any
// write event for the config path it reloads and invokes onLoad. Callers
// should arrange for Close to be called on shutdown.
func (m *Manager) Watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(m.path)); err != nil {
		w.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	m.watch = w

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(m.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := m.loadOrCreate()
				if err != nil {
					m.log.WithError(err).Warn("config reload failed")
					continue
				}
				m.mu.Lock()
				m.cfg = cfg
				m.mu.Unlock()
				m.log.Info("config reloaded from external edit")
				if m.onLoad != nil {
					m.onLoad(cfg)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				m.log.WithError(err).Warn("config watcher error")
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if running.
func (m *Manager) Close() error {
	if m.watch != nil {
		return m.watch.Close()
	}
	return nil
}
