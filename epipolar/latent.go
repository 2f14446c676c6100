package epipolar

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/MeKo-Tech/geofit/linalg"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

const (
	latentMaxIterations = 100
	latentMaxRetries    = 10
	latentStepThreshold = 1e-7
	initialDamping      = 1e-4
	dampingFactor       = 10
)

// LatentVariableMethod refines an estimated fundamental matrix on the
// rank-2 manifold. The matrix is factored as U diag(cos phi, sin phi, 0) V^T
// and a damped Gauss-Newton loop runs over the seven manifold parameters
// (three rotation parameters each for U and V, plus the angle phi),
// minimizing the average Sampson error over the observed pairs. The input
// need not be rank-2; the factorization drops the smallest singular value.
func LatentVariableMethod(m *mat.Dense, points []r2.Point) (*mat.Dense, error) {
	u, s, v, err := linalg.OrderedSVD(m)
	if err != nil {
		return nil, fmt.Errorf("latent variable method: %w", err)
	}
	phi := math.Atan2(s[1], s[0])

	data := NewFundamentalMatrixData(points)
	current := composeFundamental(u, v, phi)
	cost := sampsonCost(data, current)
	damping := initialDamping

	for range latentMaxIterations {
		jac, res := latentJacobian(data, u, v, phi, current)

		// Normal equations with multiplicative damping, classic LM
		// schedule: grow on rejected steps, shrink on accepted ones.
		var jtj mat.Dense
		jtj.Mul(jac.T(), jac)
		grad := mat.NewVecDense(7, nil)
		grad.MulVec(jac.T(), res)

		accepted := false
		var step *mat.VecDense
		for range latentMaxRetries {
			var damped mat.Dense
			damped.CloneFrom(&jtj)
			for i := range 7 {
				damped.Set(i, i, damped.At(i, i)+damping)
			}
			step, err = linalg.LeastSquares(&damped, grad)
			if err != nil {
				return nil, fmt.Errorf("latent variable method step: %w", err)
			}
			step.ScaleVec(-1, step)

			nu := rotate(u, step.AtVec(0), step.AtVec(1), step.AtVec(2))
			nv := rotate(v, step.AtVec(3), step.AtVec(4), step.AtVec(5))
			nphi := phi + step.AtVec(6)
			candidate := composeFundamental(nu, nv, nphi)
			candidateCost := sampsonCost(data, candidate)
			if candidateCost < cost {
				u, v, phi = nu, nv, nphi
				current = candidate
				cost = candidateCost
				damping /= dampingFactor
				accepted = true
				break
			}
			slog.Debug("latent variable step rejected",
				"cost", candidateCost, "best", cost, "damping", damping)
			damping *= dampingFactor
		}
		if !accepted || mat.Norm(step, 2) < latentStepThreshold {
			break
		}
	}
	return current, nil
}

// composeFundamental builds U diag(cos phi, sin phi, 0) V^T.
func composeFundamental(u, v *mat.Dense, phi float64) *mat.Dense {
	d := mat.NewDiagDense(3, []float64{math.Cos(phi), math.Sin(phi), 0})
	out := mat.NewDense(3, 3, nil)
	out.Mul(u, d)
	out.Mul(out, v.T())
	return out
}

// sampsonCost is the average Sampson error of the pairs under f.
func sampsonCost(data *FundamentalMatrixData, f *mat.Dense) float64 {
	theta := VecFromMatrix(f)
	weights := data.Weights(theta)
	cost := 0.0
	for i := range data.Len() {
		dot := mat.Dot(theta, data.Vector(i))
		cost += weights[i] * dot * dot
	}
	return cost / float64(data.Len())
}

// latentJacobian assembles the Gauss-Newton residual vector and its
// Jacobian with respect to the seven manifold parameters, holding the
// Sampson denominators fixed.
func latentJacobian(data *FundamentalMatrixData, u, v *mat.Dense, phi float64, f *mat.Dense) (*mat.Dense, *mat.VecDense) {
	theta := VecFromMatrix(f)
	weights := data.Weights(theta)

	// Tangent directions of vec(F) along each parameter.
	tangents := make([]*mat.VecDense, 7)
	for j := range 3 {
		var df mat.Dense
		df.Mul(basisCrossMatrix(j), f)
		tangents[j] = VecFromMatrix(&df)
	}
	for j := range 3 {
		var df mat.Dense
		df.Mul(f, basisCrossMatrix(j))
		df.Scale(-1, &df)
		tangents[3+j] = VecFromMatrix(&df)
	}
	dPhi := mat.NewDiagDense(3, []float64{-math.Sin(phi), math.Cos(phi), 0})
	var df mat.Dense
	df.Mul(u, dPhi)
	df.Mul(&df, v.T())
	tangents[6] = VecFromMatrix(&df)

	n := data.Len()
	jac := mat.NewDense(n, 7, nil)
	res := mat.NewVecDense(n, nil)
	for i := range n {
		xi := data.Vector(i)
		sw := math.Sqrt(weights[i])
		res.SetVec(i, sw*mat.Dot(theta, xi))
		for j := range 7 {
			jac.Set(i, j, sw*mat.Dot(tangents[j], xi))
		}
	}
	return jac, res
}

// basisCrossMatrix returns the cross-product matrix of the j-th standard
// basis vector.
func basisCrossMatrix(j int) *mat.Dense {
	out := mat.NewDense(3, 3, nil)
	switch j {
	case 0:
		out.Set(1, 2, -1)
		out.Set(2, 1, 1)
	case 1:
		out.Set(0, 2, 1)
		out.Set(2, 0, -1)
	default:
		out.Set(0, 1, -1)
		out.Set(1, 0, 1)
	}
	return out
}

// rotate applies the rotation with axis-angle vector (a, b, c) to m from
// the left.
func rotate(m *mat.Dense, a, b, c float64) *mat.Dense {
	angle := math.Sqrt(a*a + b*b + c*c)
	out := mat.NewDense(3, 3, nil)
	if angle < 1e-15 {
		out.CloneFrom(m)
		return out
	}
	// Rodrigues formula: R = I + sin K + (1 - cos) K^2.
	ux, uy, uz := a/angle, b/angle, c/angle
	cosA, sinA := math.Cos(angle), math.Sin(angle)
	k := mat.NewDense(3, 3, []float64{
		0, -uz, uy,
		uz, 0, -ux,
		-uy, ux, 0,
	})
	rot := mat.NewDense(3, 3, nil)
	for i := range 3 {
		rot.Set(i, i, 1)
	}
	var ks mat.Dense
	ks.Scale(sinA, k)
	rot.Add(rot, &ks)
	var kk mat.Dense
	kk.Mul(k, k)
	kk.Scale(1-cosA, &kk)
	rot.Add(rot, &kk)
	out.Mul(rot, m)
	return out
}
