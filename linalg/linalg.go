// Package linalg provides the dense linear-algebra kernels shared by the
// fitting algorithms: SVD pseudo-inverse, minimum-singular-vector least
// squares, and the generalized (constrained) eigen-solve used by the
// Taubin-family estimators.
package linalg

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrFactorization is returned when an SVD or related decomposition could
// not produce its factors, typically on numerically degenerate input.
var ErrFactorization = errors.New("linalg: matrix factorization failed")

// rankTolerance is the floor below which a singular value is treated as
// exactly zero when inverting.
const rankTolerance = 1e-5

// constraintTolerance decides whether a singular value of a constraint
// matrix belongs to its null space.
const constraintTolerance = 1e-15

// PseudoInverse computes the Moore-Penrose pseudo-inverse of a via SVD.
// Singular values below the rank tolerance are inverted to zero instead of
// producing huge entries from near-zero division.
func PseudoInverse(a mat.Matrix) (*mat.Dense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDThin) {
		r, c := a.Dims()
		return nil, fmt.Errorf("pseudo-inverse of %dx%d matrix: %w", r, c, ErrFactorization)
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)
	values := svd.Values(nil)

	inv := mat.NewDiagDense(len(values), nil)
	for i, s := range values {
		if s < rankTolerance {
			continue
		}
		inv.SetDiag(i, 1/s)
	}

	r, c := a.Dims()
	out := mat.NewDense(c, r, nil)
	var tmp mat.Dense
	tmp.Mul(&v, inv)
	out.Mul(&tmp, u.T())
	return out, nil
}

// LeastSquares solves the inhomogeneous system min |Ax - b| through the
// pseudo-inverse: x = pinv(A) b.
func LeastSquares(a mat.Matrix, b *mat.VecDense) (*mat.VecDense, error) {
	pinv, err := PseudoInverse(a)
	if err != nil {
		return nil, fmt.Errorf("least squares: %w", err)
	}
	_, c := a.Dims()
	x := mat.NewVecDense(c, nil)
	x.MulVec(pinv, b)
	return x, nil
}

// Lstsq solves the homogeneous problem min |Ax| subject to |x| = 1, whose
// closed-form solution is the right singular vector belonging to the
// smallest singular value of A.
func Lstsq(a mat.Matrix) (*mat.VecDense, error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFullV) {
		r, c := a.Dims()
		return nil, fmt.Errorf("lstsq on %dx%d matrix: %w", r, c, ErrFactorization)
	}
	var v mat.Dense
	svd.VTo(&v)
	_, n := a.Dims()
	// Singular values come out in descending order, so the minimizer is
	// the last column of V.
	return mat.VecDenseCopyOf(v.ColView(n - 1)), nil
}

// ConstrainedLstsq solves the generalized problem min |Ax| subject to
// |Cx| = 1. The constraint matrix may be singular: columns of A rotated by
// the right singular vectors of C are partitioned into a nonsingular block
// and a null block, the reduced problem is solved on the nonsingular block
// and the null-block part is recovered through the pseudo-inverse.
func ConstrainedLstsq(a, c mat.Matrix) (*mat.VecDense, error) {
	ar, ac := a.Dims()
	_, cc := c.Dims()
	if ac != cc {
		return nil, fmt.Errorf("constrained lstsq: a has %d columns, c has %d", ac, cc)
	}

	var svd mat.SVD
	if !svd.Factorize(c, mat.SVDFullV) {
		return nil, fmt.Errorf("constrained lstsq constraint: %w", ErrFactorization)
	}
	var v mat.Dense
	svd.VTo(&v)
	values := svd.Values(nil)
	sing := make([]float64, cc)
	copy(sing, values)

	// Rotate A into the constraint's singular basis.
	var aHat mat.Dense
	aHat.Mul(a, &v)

	var nonzero, zero []int
	for i, s := range sing {
		if math.Abs(s) < constraintTolerance {
			zero = append(zero, i)
		} else {
			nonzero = append(nonzero, i)
		}
	}
	if len(nonzero) == 0 {
		return nil, errors.New("constrained lstsq: constraint matrix is zero")
	}

	a1 := pickColumns(&aHat, nonzero)
	if len(zero) == 0 {
		xHat, err := Lstsq(a1)
		if err != nil {
			return nil, err
		}
		x := mat.NewVecDense(cc, nil)
		x.MulVec(&v, xHat)
		return x, nil
	}

	a2 := pickColumns(&aHat, zero)
	a2Pinv, err := PseudoInverse(a2)
	if err != nil {
		return nil, fmt.Errorf("constrained lstsq null block: %w", err)
	}
	d1Inv := mat.NewDiagDense(len(nonzero), nil)
	for i, idx := range nonzero {
		d1Inv.SetDiag(i, 1/sing[idx])
	}

	// A'' = (A2 A2^+ - I) A1 D1^-1
	var proj mat.Dense
	proj.Mul(a2, a2Pinv)
	for i := range ar {
		proj.Set(i, i, proj.At(i, i)-1)
	}
	var reduced mat.Dense
	reduced.Mul(&proj, a1)
	reduced.Mul(&reduced, d1Inv)

	xHHat, err := Lstsq(&reduced)
	if err != nil {
		return nil, err
	}
	x1 := mat.NewVecDense(len(nonzero), nil)
	x1.MulVec(d1Inv, xHHat)

	a1x1 := mat.NewVecDense(ar, nil)
	a1x1.MulVec(a1, x1)
	x2 := mat.NewVecDense(len(zero), nil)
	x2.MulVec(a2Pinv, a1x1)
	x2.ScaleVec(-1, x2)

	// Scatter the two sub-solutions back into the rotated basis and
	// un-rotate by V.
	xHat := mat.NewVecDense(cc, nil)
	for i, idx := range nonzero {
		xHat.SetVec(idx, x1.AtVec(i))
	}
	for i, idx := range zero {
		xHat.SetVec(idx, x2.AtVec(i))
	}
	x := mat.NewVecDense(cc, nil)
	x.MulVec(&v, xHat)
	return x, nil
}

// OrderedSVD factors a into U diag(s) V^T with the singular values (and the
// corresponding singular vectors) in descending order. Callers that index
// singular triplets positionally, such as rank correction, rely on this
// ordering.
func OrderedSVD(a mat.Matrix) (u *mat.Dense, s []float64, v *mat.Dense, err error) {
	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		r, c := a.Dims()
		return nil, nil, nil, fmt.Errorf("svd of %dx%d matrix: %w", r, c, ErrFactorization)
	}
	u = &mat.Dense{}
	v = &mat.Dense{}
	svd.UTo(u)
	svd.VTo(v)
	return u, svd.Values(nil), v, nil
}

func pickColumns(m *mat.Dense, cols []int) *mat.Dense {
	r, _ := m.Dims()
	out := mat.NewDense(r, len(cols), nil)
	for j, col := range cols {
		for i := range r {
			out.Set(i, j, m.At(i, col))
		}
	}
	return out
}
