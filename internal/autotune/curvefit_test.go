package autotune

import (
	"math"
	"testing"
)

func generateSine(amp, freq, phase, offset float64, n int, dt float64) ([]float64, []float64) {
	times := make([]float64, n)
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		t := float64(i) * dt
		times[i] = t
		values[i] = amp*math.Sin(2*math.Pi*freq*t+phase) + offset
	}
	return times, values
}

func TestFitSine_RecoversKnownParameters(t *testing.T) {
	wantAmp, wantFreq, wantOffset := 5.0, 0.2, 1.5
	times, values := generateSine(wantAmp, wantFreq, 0.3, wantOffset, 200, 0.05)

	p0 := initialGuess(values)
	fit, err := fitSine(times, values, p0)
	if err != nil {
		t.Fatalf("fitSine: %v", err)
	}
	if math.Abs(fit.amplitude-wantAmp) > 0.1 {
		t.Errorf("fit.amplitude = %v, want close to %v", fit.amplitude, wantAmp)
	}
	if math.Abs(fit.freq-wantFreq) > 0.01 {
		t.Errorf("fit.freq = %v, want close to %v", fit.freq, wantFreq)
	}
	if math.Abs(fit.offset-wantOffset) > 0.1 {
		t.Errorf("fit.offset = %v, want close to %v", fit.offset, wantOffset)
	}
}

func TestFitSine_TooFewSamplesFails(t *testing.T) {
	_, err := fitSine([]float64{0, 1, 2}, []float64{0, 1, 0}, sineParams{})
	if err != ErrFitFailed {
		t.Errorf("fitSine with 3 samples = %v, want ErrFitFailed", err)
	}
}

func TestInitialGuess_AmplitudeIsHalfPeakToPeak(t *testing.T) {
	values := []float64{-2, 4, -2, 4, -2, 4}
	guess := initialGuess(values)
	if guess.amplitude != 3 {
		t.Errorf("initialGuess amplitude = %v, want 3", guess.amplitude)
	}
	if guess.offset != 1 {
		t.Errorf("initialGuess offset = %v, want 1", guess.offset)
	}
}
