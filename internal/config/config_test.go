package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestNewManager_CreatesDefaultWhenMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trident.config.json")
	m, err := NewManager(path, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("expected config file to be created at %s: %v", path, err)
	}
	if m.Get().FirmwareVariant != Default().FirmwareVariant {
		t.Errorf("Get() = %+v, want default config", m.Get())
	}
}

func TestNewManager_LoadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trident.config.json")
	cfg := Default()
	cfg.FluidType = "freshWater"
	data, _ := json.Marshal(cfg)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	m, err := NewManager(path, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if got := m.Get().FluidType; got != "freshWater" {
		t.Errorf("FluidType = %q, want %q", got, "freshWater")
	}
}

func TestNewManager_MigratesLegacyFieldNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trident.config.json")
	legacyJSON := []byte(`{
		"regulatorPid": {"pitch": {"kp": 2, "ki": 0, "kd": 0.1, "turnSpeed": 2.5}},
		"directionCoefficients": {"horizontal": 1.5, "strafe": 0.5, "vertical": 0.75}
	}`)
	if err := os.WriteFile(path, legacyJSON, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	m, err := NewManager(path, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cfg := m.Get()
	if cfg.RegulatorPID.Pitch.Rate != 2.5 {
		t.Errorf("migrated Rate = %v, want 2.5", cfg.RegulatorPID.Pitch.Rate)
	}
	if cfg.DirectionCoefficients.Surge != 1.5 {
		t.Errorf("migrated Surge = %v, want 1.5", cfg.DirectionCoefficients.Surge)
	}
	if cfg.DirectionCoefficients.Sway != 0.5 {
		t.Errorf("migrated Sway = %v, want 0.5", cfg.DirectionCoefficients.Sway)
	}
	if cfg.DirectionCoefficients.Heave != 0.75 {
		t.Errorf("migrated Heave = %v, want 0.75", cfg.DirectionCoefficients.Heave)
	}
}

func TestManager_SetPersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trident.config.json")
	m, err := NewManager(path, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	cfg := Default()
	cfg.SmoothingFactor = 0.5
	if err := m.Set(cfg); err != nil {
		t.Fatalf("Set: %v", err)
	}

	m2, err := NewManager(path, testLogger())
	if err != nil {
		t.Fatalf("second NewManager: %v", err)
	}
	if got := m2.Get().SmoothingFactor; got != 0.5 {
		t.Errorf("reloaded SmoothingFactor = %v, want 0.5", got)
	}
}

func TestNewManager_FallsBackToDefaultsOnUnparseableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trident.config.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	m, err := NewManager(path, testLogger())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	if m.Get().FirmwareVariant != Default().FirmwareVariant {
		t.Errorf("expected defaults on unparseable file, got %+v", m.Get())
	}
}
