package thruster

import "testing"

func TestThermalMargin_AtLimitIsZero(t *testing.T) {
	cfg := DefaultThermalConfig()
	if m := cfg.ThermalMargin(cfg.MaxTempC); m != 0 {
		t.Errorf("ThermalMargin at max temp = %v, want 0", m)
	}
}

func TestThermalMargin_AtRoomTempIsOne(t *testing.T) {
	cfg := DefaultThermalConfig()
	if m := cfg.ThermalMargin(25.0); m != 1 {
		t.Errorf("ThermalMargin at 25C = %v, want 1", m)
	}
}

func TestMaxSafeThrust_DeratesNearLimit(t *testing.T) {
	cfg := DefaultThermalConfig()
	hot := cfg.MaxTempC - 0.1*(cfg.MaxTempC-25.0)
	out := cfg.MaxSafeThrust(1.0, hot)
	if out > 0.5 {
		t.Errorf("MaxSafeThrust near thermal limit = %v, want <= 0.5", out)
	}
}

func TestMaxSafeThrust_NoDerationAtRoomTemp(t *testing.T) {
	cfg := DefaultThermalConfig()
	out := cfg.MaxSafeThrust(0.8, 25.0)
	if out != 0.8 {
		t.Errorf("MaxSafeThrust at room temp = %v, want unchanged 0.8", out)
	}
}

func TestMaxSafeThrust_PreservesSign(t *testing.T) {
	cfg := DefaultThermalConfig()
	hot := cfg.MaxTempC - 0.1*(cfg.MaxTempC-25.0)
	out := cfg.MaxSafeThrust(-1.0, hot)
	if out >= 0 {
		t.Errorf("MaxSafeThrust(-1.0, hot) = %v, want negative", out)
	}
}

func TestEfficiency_InterpolatesBetweenPoints(t *testing.T) {
	cfg := DefaultThermalConfig()
	eff := cfg.Efficiency(0.2)
	if eff <= 0.60 || eff >= 0.80 {
		t.Errorf("Efficiency(0.2) = %v, want strictly between 0.60 and 0.80", eff)
	}
}

func TestEfficiency_ClampsOutsideCurve(t *testing.T) {
	cfg := DefaultThermalConfig()
	if eff := cfg.Efficiency(0); eff != cfg.EfficiencyMap[0].Efficiency {
		t.Errorf("Efficiency(0) = %v, want first curve point %v", eff, cfg.EfficiencyMap[0].Efficiency)
	}
	last := cfg.EfficiencyMap[len(cfg.EfficiencyMap)-1].Efficiency
	if eff := cfg.Efficiency(2.0); eff != last {
		t.Errorf("Efficiency(2.0) = %v, want last curve point %v", eff, last)
	}
}
