package autotune

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
)

// sineParams are the four parameters of a*sin(2*pi*f*x+phi)+offset.
type sineParams struct {
	amplitude float64
	freq      float64
	phase     float64
	offset    float64
}

// ErrFitFailed is returned when the Gauss-Newton iteration fails to
// converge to a usable fit.
var ErrFitFailed = errors.New("autotune: curve fit did not converge")

// fitSine fits a decaying-free sinusoid to (times, values) via
// Gauss-Newton least squares, starting from p0. No ready-made nonlinear
// least-squares routine appears anywhere in the retrieval pack (gonum's
// exposed surface here is limited to mat), so the normal-equations
// update is built directly on gonum/mat primitives, following the same
// pattern as the heave transform's ridge solve.
func fitSine(times, values []float64, p0 sineParams) (sineParams, error) {
	if len(times) < 4 {
		return sineParams{}, ErrFitFailed
	}

	p := p0
	n := len(times)

	for iter := 0; iter < 100; iter++ {
		residual := mat.NewVecDense(n, nil)
		jac := mat.NewDense(n, 4, nil)

		for i, t := range times {
			theta := 2*math.Pi*p.freq*t + p.phase
			model := p.amplitude*math.Sin(theta) + p.offset
			residual.SetVec(i, values[i]-model)

			jac.Set(i, 0, math.Sin(theta))
			jac.Set(i, 1, p.amplitude*math.Cos(theta)*2*math.Pi*t)
			jac.Set(i, 2, p.amplitude*math.Cos(theta))
			jac.Set(i, 3, 1)
		}

		var jt mat.Dense
		jt.CloneFrom(jac.T())

		var jtj mat.Dense
		jtj.Mul(&jt, jac)
		for i := 0; i < 4; i++ {
			jtj.Set(i, i, jtj.At(i, i)+1e-6)
		}

		var jtr mat.VecDense
		jtr.MulVec(&jt, residual)

		var delta mat.VecDense
		if err := delta.SolveVec(&jtj, &jtr); err != nil {
			return sineParams{}, ErrFitFailed
		}

		p.amplitude += delta.AtVec(0)
		p.freq += delta.AtVec(1)
		p.phase += delta.AtVec(2)
		p.offset += delta.AtVec(3)

		if mat.Norm(&delta, 2) < 1e-9 {
			break
		}
	}

	if p.freq <= 0 || math.IsNaN(p.amplitude) || math.IsNaN(p.freq) {
		return sineParams{}, ErrFitFailed
	}
	p.amplitude = math.Abs(p.amplitude)
	return p, nil
}

// initialGuess builds the p0 the original curve fit seeds from: half the
// peak-to-peak spread for amplitude, a 0.1Hz guess for frequency, zero
// phase, and the sample mean for offset.
func initialGuess(values []float64) sineParams {
	lo, hi := values[0], values[0]
	sum := 0.0
	for _, v := range values {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		sum += v
	}
	return sineParams{
		amplitude: (hi - lo) / 2,
		freq:      1.0 / 10.0,
		phase:     0,
		offset:    sum / float64(len(values)),
	}
}
