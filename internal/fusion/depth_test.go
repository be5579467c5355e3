package fusion

import "testing"

func TestDepthDeriv_FirstCallReturnsZero(t *testing.T) {
	var d DepthDeriv
	if got := d.Update(5.0, 0.1); got != 0 {
		t.Errorf("first Update = %v, want 0", got)
	}
	if d.Prev != 5.0 {
		t.Errorf("Prev = %v, want 5.0 seeded from first sample", d.Prev)
	}
}

func TestDepthDeriv_PositiveRateOnDescent(t *testing.T) {
	var d DepthDeriv
	d.Update(5.0, 0.1)
	rate := d.Update(5.5, 0.1)
	if rate <= 0 {
		t.Errorf("rate after descending 0.5m in 0.1s = %v, want positive", rate)
	}
}

func TestEMAStep_MatchesDepthDerivUpdate(t *testing.T) {
	var d DepthDeriv
	d.Update(10.0, 0.1)
	viaMethod := d.Update(10.2, 0.1)

	viaFunc := EMAStep(10.2, 10.0, 0.0, 0.1)
	if viaMethod != viaFunc {
		t.Errorf("EMAStep(10.2, 10.0, 0, 0.1) = %v, want to match DepthDeriv.Update's second call %v", viaFunc, viaMethod)
	}
}
