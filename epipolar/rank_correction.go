package epipolar

import (
	"fmt"

	"github.com/MeKo-Tech/geofit/linalg"
	"gonum.org/v1/gonum/mat"
)

// VecFromMatrix flattens a 3x3 matrix row-major into the 9-dimensional
// parameter vector convention used by the two-view models.
func VecFromMatrix(m *mat.Dense) *mat.VecDense {
	out := mat.NewVecDense(9, nil)
	for r := range 3 {
		for c := range 3 {
			out.SetVec(r*3+c, m.At(r, c))
		}
	}
	return out
}

// MatrixFromVec reshapes a 9-dimensional parameter vector into its
// row-major 3x3 matrix.
func MatrixFromVec(v *mat.VecDense) *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	for r := range 3 {
		for c := range 3 {
			out.Set(r, c, v.AtVec(r*3+c))
		}
	}
	return out
}

// RankCorrection projects m onto the nearest rank-2 matrix by zeroing its
// smallest singular value, the constraint a fundamental matrix must
// satisfy. The remaining singular triplets are preserved.
func RankCorrection(m *mat.Dense) (*mat.Dense, error) {
	u, s, v, err := linalg.OrderedSVD(m)
	if err != nil {
		return nil, fmt.Errorf("rank correction: %w", err)
	}
	s[len(s)-1] = 0

	d := mat.NewDiagDense(len(s), s)
	out := mat.NewDense(3, 3, nil)
	out.Mul(u, d)
	out.Mul(out, v.T())
	return out, nil
}
