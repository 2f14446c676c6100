// Package testutil provides comparison helpers for homogeneous parameter
// vectors, which are only determined up to sign and scale.
package testutil

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// Normalize scales v to unit Euclidean norm.
func Normalize(v []float64) []float64 {
	sum := 0.0
	for _, x := range v {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

// RequireVecMatchIgnoreSign asserts that got equals want component-wise
// within tol, after flipping got's sign if it points away from want.
func RequireVecMatchIgnoreSign(t *testing.T, want []float64, got *mat.VecDense, tol float64) {
	t.Helper()
	require.Equal(t, len(want), got.Len())

	dot := 0.0
	for i, w := range want {
		dot += w * got.AtVec(i)
	}
	sign := 1.0
	if dot < 0 {
		sign = -1
	}
	for i, w := range want {
		require.InDelta(t, w, sign*got.AtVec(i), tol,
			"component %d: want %v, got %v", i, w, sign*got.AtVec(i))
	}
}

// RequireMatrixMatch asserts element-wise equality of two matrices within
// tol.
func RequireMatrixMatch(t *testing.T, want, got mat.Matrix, tol float64) {
	t.Helper()
	wr, wc := want.Dims()
	gr, gc := got.Dims()
	require.Equal(t, wr, gr)
	require.Equal(t, wc, gc)
	for i := range wr {
		for j := range wc {
			require.InDelta(t, want.At(i, j), got.At(i, j), tol,
				"element (%d,%d)", i, j)
		}
	}
}
