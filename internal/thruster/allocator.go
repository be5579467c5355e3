package thruster

import (
	"github.com/arobi/trident/internal/config"
	"github.com/arobi/trident/internal/metrics"
)

// TickHz is the nominal control-tick and output-send rate.
const TickHz = 60.0

// Smoother holds the per-tick smoothing state for the direction vector.
// One Smoother belongs to the output sender; it is not safe for concurrent
// use because only the sender goroutine ever calls Step.
type Smoother struct {
	prev [8]float64
}

// Step advances the smoothed direction vector one tick toward d, limited to
// a step of 1/(TickHz*smoothingFactor) per axis. A smoothingFactor at or
// below one tick period makes this a no-op pass-through.
func (s *Smoother) Step(d [8]float64, smoothingFactor float64) [8]float64 {
	if smoothingFactor <= 1.0/TickHz {
		s.prev = d
		return d
	}
	delta := 1.0 / (TickHz * smoothingFactor)
	var out [8]float64
	for i := range d {
		step := d[i] - s.prev[i]
		switch {
		case step > delta:
			step = delta
		case step < -delta:
			step = -delta
		}
		out[i] = s.prev[i] + step
	}
	s.prev = out
	return out
}

// Allocate multiplies the 8-long direction vector by the 8x8 allocation
// matrix, producing a raw per-motor thrust vector.
func Allocate(d [8]float64, m [8][8]float64) [8]float64 {
	var t [8]float64
	for i := 0; i < 8; i++ {
		sum := 0.0
		for j := 0; j < 8; j++ {
			sum += m[i][j] * d[j]
		}
		t[i] = sum
	}
	return t
}

// Reorder maps allocator output onto physical pins: out[i] = t[pins[i]].
func Reorder(t [8]float64, pins [8]int) [8]float64 {
	var out [8]float64
	for i, pin := range pins {
		out[i] = t[pin]
	}
	return out
}

// SpinCorrect applies the per-motor spin-direction sign.
func SpinCorrect(t [8]float64, spin [8]int) [8]float64 {
	var out [8]float64
	for i := range t {
		out[i] = t[i] * float64(spin[i])
	}
	return out
}

// Clip saturates each element to [-1, 1].
func Clip(t [8]float64) [8]float64 {
	var out [8]float64
	for i, v := range t {
		switch {
		case v > 1:
			v = 1
			metrics.RecordAllocatorClip()
		case v < -1:
			v = -1
			metrics.RecordAllocatorClip()
		}
		out[i] = v
	}
	return out
}

// PulseWidths maps a clipped thrust vector to eight pulse-widths.
func PulseWidths(t [8]float64) [NumMotors]uint16 {
	var p [NumMotors]uint16
	for i, v := range t {
		p[i] = PulseFromThrust(v)
	}
	return p
}

// BuildPulses runs the full allocation pipeline in the mandated order:
// allocate, reorder, spin, clip, pulse-map. Smoothing is applied by the
// caller before Allocate is invoked, since it operates on the direction
// vector, not the post-allocation thrust vector.
func BuildPulses(d [8]float64, cfg *config.RovConfig) [NumMotors]uint16 {
	t := Allocate(d, cfg.ThrusterAllocation)
	t = Reorder(t, cfg.ThrusterPinIdentifiers)
	t = SpinCorrect(t, cfg.ThrusterSpinDirections)
	t = Clip(t)
	return PulseWidths(t)
}
