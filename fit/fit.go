// Package fit implements the statistically-motivated estimator family
// (weighted least squares, Taubin's method, renormalization, FNS and
// geometric-distance minimization) over a common observed-data abstraction.
// The estimators are generic: one implementation serves every data model
// that satisfies ObservedData.
package fit

import (
	"errors"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// ErrInsufficientData is returned when fewer observations are supplied than
// the data model needs to determine its parameter vector.
var ErrInsufficientData = errors.New("fit: not enough observations")

// degenerateNorm is the parameter norm below which weight recomputation
// falls back to uniform weights.
const degenerateNorm = 1e-10

// divergenceFloor is the smallest residual treated as a meaningful
// increase by the divergence guard.
const divergenceFloor = 1e-12

// ObservedData is the capability interface every fitting problem
// implements. It turns raw point observations into per-observation
// embedding vectors, covariance matrices and weights, and exposes the
// weighted scatter matrix the estimators solve against.
//
// Index conventions: Vector takes an equation index in
// [0, Len()*NumEquation()); Variance and the weight slices take a pair
// index in [0, Len()*NumEquation()^2), laid out observation-major as
// idx*NumEquation()^2 + k*NumEquation() + l.
type ObservedData interface {
	// Len returns the number of observations.
	Len() int
	// Vector returns the embedding vector for the given equation index.
	Vector(i int) *mat.VecDense
	// Matrix returns the weighted scatter matrix of the embeddings.
	Matrix(weights []float64) *mat.Dense
	// Variance returns the covariance matrix for the given pair index.
	Variance(i int) *mat.Dense
	// Weights recomputes all weights from the current parameter estimate.
	// A degenerate (near-zero) estimate yields uniform weights.
	Weights(theta *mat.VecDense) []float64
	// VecSize returns the embedding vector length.
	VecSize() int
	// NumEquation returns the number of simultaneous equations per
	// observation.
	NumEquation() int
	// UpdateDelta nudges the model's internal copy of the observation
	// positions toward the model implied by theta and returns the total
	// squared correction magnitude. Only geometric-distance minimization
	// calls it.
	UpdateDelta(theta *mat.VecDense) float64
	// Points returns the observation positions with the accumulated
	// corrections applied.
	Points() []r2.Point
}

// Config holds the iteration tunables shared by the iterative estimators.
type Config struct {
	MaxIterations   int     // outer iteration cap
	Threshold       float64 // parameter-space convergence threshold
	DivergenceRatio float64 // residual growth ratio that triggers the divergence guard
	PointThreshold  float64 // relative correction threshold for geometric-distance minimization
}

// DefaultConfig returns the tunables used throughout the original
// estimation scheme.
func DefaultConfig() Config {
	return Config{
		MaxIterations:   100,
		Threshold:       1e-7,
		DivergenceRatio: 10,
		PointThreshold:  1e-2,
	}
}

// Solution is the result of one estimation run. Theta carries the usual
// homogeneous ambiguity: Theta and its negation describe the same model.
type Solution struct {
	Theta *mat.VecDense
	// Converged reports whether the iteration met its threshold before
	// exhausting the cap (or tripping the divergence guard).
	Converged bool
	// Iterations is the number of outer iterations performed.
	Iterations int
	// Points holds corrected observation positions. Only
	// MinimizeGeometricDistance populates it.
	Points []r2.Point
}

// ScatterMatrix computes the weighted average of xi_i xi_i^T over all
// observations and equation pairs. Data models delegate their Matrix
// implementation here.
func ScatterMatrix(data ObservedData, weights []float64) *mat.Dense {
	vecSize := data.VecSize()
	nEq := data.NumEquation()
	nEqSq := nEq * nEq
	m := mat.NewDense(vecSize, vecSize, nil)
	var outer mat.Dense
	for idx := range data.Len() {
		for k := range nEq {
			xiK := data.Vector(idx*nEq + k)
			for l := range nEq {
				w := weights[idx*nEqSq+k*nEq+l]
				if w == 0 {
					continue
				}
				xiL := data.Vector(idx*nEq + l)
				outer.Mul(xiK, xiL.T())
				var scaled mat.Dense
				scaled.Scale(w, &outer)
				m.Add(m, &scaled)
			}
		}
	}
	m.Scale(1/float64(data.Len()), m)
	return m
}

// ScalarWeights implements Weights for single-equation models:
// w_i = 1 / (theta^T V_i theta), uniform when theta is degenerate.
func ScalarWeights(data ObservedData, theta *mat.VecDense) []float64 {
	n := data.Len()
	weights := make([]float64, n)
	if theta == nil || mat.Norm(theta, 2) < degenerateNorm {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	for i := range n {
		denom := mat.Inner(theta, data.Variance(i), theta)
		if math.Abs(denom) < degenerateNorm {
			weights[i] = 1
			continue
		}
		weights[i] = 1 / denom
	}
	return weights
}

// UniformWeights returns the all-ones weight vector of the length expected
// by Matrix and the Taubin-family solvers.
func UniformWeights(data ObservedData) []float64 {
	weights := make([]float64, data.Len()*data.NumEquation()*data.NumEquation())
	for i := range weights {
		weights[i] = 1
	}
	return weights
}

// minObservations is the minimum observation count for a model: the
// homogeneous parameter vector has VecSize()-1 degrees of freedom and each
// observation contributes NumEquation()-1 independent equations (one, for
// single-equation models).
func minObservations(data ObservedData) int {
	independent := 1
	if data.NumEquation() > 1 {
		independent = data.NumEquation() - 1
	}
	need := data.VecSize() - 1
	return (need + independent - 1) / independent
}

func checkObservations(data ObservedData) error {
	if data.Len() < minObservations(data) {
		return ErrInsufficientData
	}
	return nil
}

// alignSign flips theta in place when it points away from prev, so that
// the convergence distance is measured between representatives of the
// same model.
func alignSign(theta, prev *mat.VecDense) {
	if mat.Dot(theta, prev) < 0 {
		theta.ScaleVec(-1, theta)
	}
}

// normalize scales theta to unit norm in place. The iterative estimators
// compare successive estimates on the unit sphere; the constrained solver
// returns vectors on a weight-dependent scale otherwise.
func normalize(theta *mat.VecDense) {
	n := mat.Norm(theta, 2)
	if n < degenerateNorm {
		return
	}
	theta.ScaleVec(1/n, theta)
}

func paramDistance(theta, prev *mat.VecDense) float64 {
	var diff mat.VecDense
	diff.SubVec(theta, prev)
	return mat.Norm(&diff, 2)
}

// quadraticResidual evaluates theta^T M theta, the algebraic residual the
// divergence guard watches.
func quadraticResidual(theta *mat.VecDense, m *mat.Dense) float64 {
	return mat.Inner(theta, m, theta)
}
