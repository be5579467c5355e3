package regulator

import (
	"math"

	"github.com/arobi/trident/internal/config"
	"github.com/arobi/trident/internal/fusion"
	"gonum.org/v1/gonum/mat"
)

// ridgeLambda is the Tikhonov regularization weight used to recover a
// least-squares solution when the body-to-world rotation matrix is
// singular (pitch or roll passing through a gimbal-like configuration).
const ridgeLambda = 1e-6

// transformHeaveWorldToBody maps a world-frame depth actuation (a pure
// z-axis command) into body-frame (surge, sway, heave) by solving
// A*x = (0, 0, u), where A is the body-to-world rotation composed with a
// per-axis direction-coefficient scaling. If A is singular the solve
// falls back to a regularized least-squares solution rather than
// propagating a NaN.
func transformHeaveWorldToBody(u, pitchDeg, rollDeg float64, coeff config.DirectionCoefficients) [3]float64 {
	cp := math.Cos(fusion.DegToRad(pitchDeg))
	sp := math.Sin(fusion.DegToRad(pitchDeg))
	cr := math.Cos(fusion.DegToRad(rollDeg))
	sr := math.Sin(fusion.DegToRad(rollDeg))

	rot := mat.NewDense(3, 3, []float64{
		cp, sp * sr, -sp * cr,
		0, cr, sr,
		sp, cp * -sr, cp * cr,
	})

	heaveCoeff := coeff.Heave
	if heaveCoeff == 0 {
		heaveCoeff = 1
	}
	surgeCoeff := math.Max(coeff.Surge/heaveCoeff, 0.1)
	swayCoeff := math.Max(coeff.Sway/heaveCoeff, 0.1)

	scale := mat.NewDiagDense(3, []float64{surgeCoeff, swayCoeff, 1})

	var a mat.Dense
	a.Mul(rot, scale)

	b := mat.NewVecDense(3, []float64{0, 0, u})

	var x mat.VecDense
	if err := x.SolveVec(&a, b); err != nil {
		x = *ridgeLeastSquares(&a, b)
	}

	return [3]float64{x.AtVec(0), x.AtVec(1), x.AtVec(2)}
}

// ridgeLeastSquares solves (A^T A + lambda*I) x = A^T b, the normal-
// equations form of a Tikhonov-regularized least-squares fit. It always
// has a solution, approximating the Moore-Penrose pseudoinverse solve as
// lambda shrinks, so it is a safe fallback when A itself is singular.
func ridgeLeastSquares(a *mat.Dense, b *mat.VecDense) *mat.VecDense {
	_, c := a.Dims()

	var at mat.Dense
	at.CloneFrom(a.T())

	var ata mat.Dense
	ata.Mul(&at, a)
	for i := 0; i < c; i++ {
		ata.Set(i, i, ata.At(i, i)+ridgeLambda)
	}

	var atb mat.VecDense
	atb.MulVec(&at, b)

	x := mat.NewVecDense(c, nil)
	if err := x.SolveVec(&ata, &atb); err != nil {
		// Totally degenerate input (e.g. a zero matrix): return zero
		// actuation rather than propagate an error into the control tick.
		return mat.NewVecDense(c, nil)
	}
	return x
}
