package conic

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestVector(t *testing.T) {
	d := NewDataWithScale([]r2.Point{{X: 2, Y: 3}}, 1.5)
	xi := d.Vector(0)

	want := []float64{4, 12, 9, 6, 9, 2.25}
	require.Equal(t, VecSize, xi.Len())
	for i, w := range want {
		require.InDelta(t, w, xi.AtVec(i), 1e-12)
	}
}

func TestVarianceMatchesJacobianProduct(t *testing.T) {
	d := NewData([]r2.Point{{X: 1.2, Y: -0.7}})
	v := d.Variance(0)

	// V = J J^T with J the 6x2 embedding Jacobian.
	j := d.jacobian(0)
	var want mat.Dense
	want.Mul(j, j.T())
	for r := range VecSize {
		for c := range VecSize {
			require.InDelta(t, want.At(r, c), v.At(r, c), 1e-12)
			// Symmetry comes with the product form.
			require.InDelta(t, v.At(c, r), v.At(r, c), 1e-12)
		}
	}
	// The f0^2 component carries no noise.
	for c := range VecSize {
		require.Zero(t, v.At(VecSize-1, c))
	}
}

func TestWeightsDegenerateTheta(t *testing.T) {
	d := NewData([]r2.Point{{X: 1, Y: 0}, {X: 0, Y: 1}})

	for _, theta := range []*mat.VecDense{nil, mat.NewVecDense(VecSize, nil)} {
		w := d.Weights(theta)
		require.Len(t, w, 2)
		for _, wi := range w {
			require.Equal(t, 1.0, wi)
		}
	}
}

func TestWeightsInverseVariance(t *testing.T) {
	d := NewData([]r2.Point{{X: 2, Y: 0}})
	theta := mat.NewVecDense(VecSize, []float64{1, 0, 4, 0, 0, -4})

	w := d.Weights(theta)
	denom := mat.Inner(theta, d.Variance(0), theta)
	require.InDelta(t, 1/denom, w[0], 1e-12)
}

func TestUpdateDeltaOnCurvePoints(t *testing.T) {
	// Points exactly on x^2 + 4y^2 - 4 = 0 need no correction.
	pts := []r2.Point{
		{X: 2, Y: 0}, {X: -2, Y: 0}, {X: 0, Y: 1}, {X: 0, Y: -1},
		{X: 2 * math.Cos(math.Pi/4), Y: math.Sin(math.Pi / 4)},
	}
	d := NewData(pts)
	theta := mat.NewVecDense(VecSize, []float64{1, 0, 4, 0, 0, -4})

	total := d.UpdateDelta(theta)
	require.InDelta(t, 0, total, 1e-20)
	for i, p := range d.Points() {
		require.InDelta(t, pts[i].X, p.X, 1e-12)
		require.InDelta(t, pts[i].Y, p.Y, 1e-12)
	}
}

func TestUpdateDeltaMovesTowardCurve(t *testing.T) {
	// A point slightly off the unit circle moves onto it.
	d := NewData([]r2.Point{{X: 1.1, Y: 0}})
	theta := mat.NewVecDense(VecSize, []float64{1, 0, 1, 0, 0, -1})

	total := d.UpdateDelta(theta)
	require.Greater(t, total, 0.0)

	p := d.Points()[0]
	onCurve := p.X*p.X + p.Y*p.Y - 1
	require.InDelta(t, 0, onCurve, 1e-2)
}

func TestDataOwnsItsPoints(t *testing.T) {
	pts := []r2.Point{{X: 1.1, Y: 0}}
	d := NewData(pts)
	theta := mat.NewVecDense(VecSize, []float64{1, 0, 1, 0, 0, -1})
	d.UpdateDelta(theta)

	// The caller's slice must not be touched by the correction.
	require.Equal(t, 1.1, pts[0].X)
	require.Equal(t, 0.0, pts[0].Y)
}
