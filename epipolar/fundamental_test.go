package epipolar

import (
	"math"
	"math/rand"
	"testing"

	"github.com/MeKo-Tech/geofit/fit"
	"github.com/MeKo-Tech/geofit/internal/testutil"
	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// randomFundamental builds F = [t]x R from a random rotation and
// translation, the rank-2 form a true fundamental matrix takes.
func randomFundamental(rnd *rand.Rand) *mat.Dense {
	r := rotate(identity3(),
		rnd.Float64()*2*math.Pi, rnd.Float64()*2*math.Pi, rnd.Float64()*2*math.Pi)
	tx, ty, tz := rnd.Float64()+0.5, rnd.Float64()+0.5, rnd.Float64()+0.5
	skew := mat.NewDense(3, 3, []float64{
		0, -tz, ty,
		tz, 0, -tx,
		-ty, tx, 0,
	})
	f := mat.NewDense(3, 3, nil)
	f.Mul(skew, r)
	f.Scale(1/mat.Norm(f, 2), f)
	return f
}

func identity3() *mat.Dense {
	m := mat.NewDense(3, 3, nil)
	for i := range 3 {
		m.Set(i, i, 1)
	}
	return m
}

// correspondences samples n pairs satisfying u^T F v = 0 exactly, with
// optional Gaussian noise of the given deviation added afterwards.
func correspondences(rnd *rand.Rand, f *mat.Dense, n int, noise float64) []r2.Point {
	pts := make([]r2.Point, 0, 2*n)
	for len(pts) < 2*n {
		u := []float64{rnd.Float64()*2 - 1, rnd.Float64()*2 - 1, 1}
		// The epipolar line of u in the second image.
		lx := f.At(0, 0)*u[0] + f.At(1, 0)*u[1] + f.At(2, 0)
		ly := f.At(0, 1)*u[0] + f.At(1, 1)*u[1] + f.At(2, 1)
		lz := f.At(0, 2)*u[0] + f.At(1, 2)*u[1] + f.At(2, 2)

		var vx, vy float64
		switch {
		case math.Abs(ly) > math.Abs(lx) && math.Abs(ly) > 1e-6:
			vx = rnd.Float64()*2 - 1
			vy = -(lx*vx + lz) / ly
		case math.Abs(lx) > 1e-6:
			vy = rnd.Float64()*2 - 1
			vx = -(ly*vy + lz) / lx
		default:
			continue
		}
		if math.Abs(vx) > 10 || math.Abs(vy) > 10 {
			continue
		}
		pts = append(pts,
			r2.Point{X: u[0] + rnd.NormFloat64()*noise, Y: u[1] + rnd.NormFloat64()*noise},
			r2.Point{X: vx + rnd.NormFloat64()*noise, Y: vy + rnd.NormFloat64()*noise})
	}
	return pts
}

func TestFundamentalVectorMatchesConstraint(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	f := randomFundamental(rnd)
	pts := correspondences(rnd, f, 20, 0)
	data := NewFundamentalMatrixData(pts)
	theta := VecFromMatrix(f)

	require.Equal(t, 20, data.Len())
	for i := range data.Len() {
		require.InDelta(t, 0, mat.Dot(theta, data.Vector(i)), 1e-10)
	}
}

func TestFundamentalLeastSquaresExact(t *testing.T) {
	rnd := rand.New(rand.NewSource(11))
	f := randomFundamental(rnd)
	pts := correspondences(rnd, f, 30, 0)

	sol, err := fit.LeastSquares(NewFundamentalMatrixData(pts), fit.DefaultConfig())
	require.NoError(t, err)

	want := testutil.Normalize(vecAsSlice(VecFromMatrix(f)))
	normalizeTheta(sol.Theta)
	testutil.RequireVecMatchIgnoreSign(t, want, sol.Theta, 1e-5)
}

func TestFundamentalEstimatorsStatistical(t *testing.T) {
	// Over 100 trials with small pixel noise, every estimator must reach a
	// Sampson residual below 1e-4 in at least 90% of trials.
	const trials = 100
	const noise = 1e-5
	const residualLimit = 1e-4
	cfg := fit.DefaultConfig()

	estimators := []struct {
		name string
		run  func(pts []r2.Point) (*fit.Solution, error)
	}{
		{"least squares", func(pts []r2.Point) (*fit.Solution, error) {
			return fit.LeastSquares(NewFundamentalMatrixData(pts), cfg)
		}},
		{"iterative reweight", func(pts []r2.Point) (*fit.Solution, error) {
			return fit.IterativeReweight(NewFundamentalMatrixData(pts), cfg)
		}},
		{"taubin", func(pts []r2.Point) (*fit.Solution, error) {
			return fit.Taubin(NewFundamentalMatrixData(pts), cfg)
		}},
		{"renormalization", func(pts []r2.Point) (*fit.Solution, error) {
			return fit.Renormalization(NewFundamentalMatrixData(pts), cfg)
		}},
		{"fns", func(pts []r2.Point) (*fit.Solution, error) {
			return fit.FNS(NewFundamentalMatrixData(pts), cfg)
		}},
	}

	for _, est := range estimators {
		t.Run(est.name, func(t *testing.T) {
			rnd := rand.New(rand.NewSource(23))
			success := 0
			for range trials {
				f := randomFundamental(rnd)
				pts := correspondences(rnd, f, 50, noise)

				sol, err := est.run(pts)
				require.NoError(t, err)

				data := NewFundamentalMatrixData(pts)
				if sampsonCost(data, MatrixFromVec(sol.Theta)) < residualLimit {
					success++
				}
			}
			require.GreaterOrEqual(t, success, 90, "only %d/%d trials under %v", success, trials, residualLimit)
		})
	}
}

func TestFundamentalGeometricDistanceExact(t *testing.T) {
	rnd := rand.New(rand.NewSource(31))
	f := randomFundamental(rnd)
	pts := correspondences(rnd, f, 30, 0)

	sol, err := fit.MinimizeGeometricDistance(NewFundamentalMatrixData(pts), fit.DefaultConfig())
	require.NoError(t, err)
	require.Len(t, sol.Points, len(pts))
	for i, p := range sol.Points {
		require.InDelta(t, pts[i].X, p.X, 1e-8)
		require.InDelta(t, pts[i].Y, p.Y, 1e-8)
	}
}

func TestFundamentalInsufficientData(t *testing.T) {
	rnd := rand.New(rand.NewSource(37))
	f := randomFundamental(rnd)
	pts := correspondences(rnd, f, 7, 0) // eight pairs required

	_, err := fit.LeastSquares(NewFundamentalMatrixData(pts), fit.DefaultConfig())
	require.ErrorIs(t, err, fit.ErrInsufficientData)
}

func vecAsSlice(v *mat.VecDense) []float64 {
	out := make([]float64, v.Len())
	for i := range out {
		out[i] = v.AtVec(i)
	}
	return out
}

func normalizeTheta(v *mat.VecDense) {
	v.ScaleVec(1/mat.Norm(v, 2), v)
}
