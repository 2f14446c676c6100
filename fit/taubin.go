package fit

import (
	"fmt"

	"github.com/MeKo-Tech/geofit/linalg"
	"gonum.org/v1/gonum/mat"
)

// Taubin solves the generalized eigenproblem min |M theta| subject to
// |N theta| = 1, where N is the weighted average of the embedding
// covariances. The statistically-motivated constraint removes the
// first-order bias of plain least squares. Non-iterative.
func Taubin[D ObservedData](data D, cfg Config) (*Solution, error) {
	if err := checkObservations(data); err != nil {
		return nil, err
	}
	theta, err := taubinWithWeight(data, UniformWeights(data))
	if err != nil {
		return nil, err
	}
	normalize(theta)
	return &Solution{Theta: theta, Converged: true, Iterations: 1}, nil
}

// Renormalization iterates Taubin's method with weights recomputed from the
// current estimate each round, sharing the reweight loop (and divergence
// guard) of the least-squares family.
func Renormalization[D ObservedData](data D, cfg Config) (*Solution, error) {
	if err := checkObservations(data); err != nil {
		return nil, err
	}
	theta, err := taubinWithWeight(data, UniformWeights(data))
	if err != nil {
		return nil, err
	}

	return iterate(data, cfg, theta, func(current *mat.VecDense) (*mat.VecDense, error) {
		return taubinWithWeight(data, data.Weights(current))
	})
}

func taubinWithWeight[D ObservedData](data D, weights []float64) (*mat.VecDense, error) {
	vecSize := data.VecSize()
	nEq := data.NumEquation()
	nEqSq := nEq * nEq

	m := data.Matrix(weights)
	constraint := mat.NewDense(vecSize, vecSize, nil)
	var scaled mat.Dense
	for idx := range data.Len() {
		for i := range nEq {
			for j := range nEq {
				k := idx*nEqSq + i*nEq + j
				scaled.Scale(4*weights[k], data.Variance(k))
				constraint.Add(constraint, &scaled)
			}
		}
	}
	constraint.Scale(1/float64(data.Len()), constraint)

	theta, err := linalg.ConstrainedLstsq(m, constraint)
	if err != nil {
		return nil, fmt.Errorf("taubin: %w", err)
	}
	return theta, nil
}
