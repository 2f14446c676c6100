package fit

import (
	"fmt"

	"github.com/MeKo-Tech/geofit/linalg"
	"gonum.org/v1/gonum/mat"
)

// FNS runs the Fundamental Numerical Scheme: each round subtracts a
// bias-correction term, built from the current estimate and the embedding
// covariances, from the scatter matrix before solving. The fixed point of
// the scheme is unbiased to second order.
func FNS[D ObservedData](data D, cfg Config) (*Solution, error) {
	if err := checkObservations(data); err != nil {
		return nil, err
	}
	// A zero initial estimate yields uniform weights and no bias term, so
	// the first round is plain least squares.
	theta, err := MinimizeSampsonError(data, mat.NewVecDense(data.VecSize(), nil))
	if err != nil {
		return nil, err
	}

	return iterate(data, cfg, theta, func(current *mat.VecDense) (*mat.VecDense, error) {
		return MinimizeSampsonError(data, current)
	})
}

// MinimizeSampsonError performs one FNS round: solve min |(M - L) theta|
// subject to |theta| = 1, where L is the covariance-weighted bias term
// evaluated at the given estimate. It is shared with geometric-distance
// minimization and the latent-variable refinement.
func MinimizeSampsonError[D ObservedData](data D, theta *mat.VecDense) (*mat.VecDense, error) {
	vecSize := data.VecSize()
	nEq := data.NumEquation()
	nEqSq := nEq * nEq

	weights := data.Weights(theta)
	m := data.Matrix(weights)

	l := mat.NewDense(vecSize, vecSize, nil)
	var scaled mat.Dense
	for idx := range data.Len() {
		for k := range nEq {
			dotK := mat.Dot(theta, data.Vector(idx*nEq+k))
			for j := range nEq {
				pair := idx*nEqSq + k*nEq + j
				w := weights[pair]
				if w == 0 {
					continue
				}
				dotJ := mat.Dot(theta, data.Vector(idx*nEq+j))
				scaled.Scale(w*dotK*dotJ, data.Variance(pair))
				l.Add(l, &scaled)
			}
		}
	}
	l.Scale(1/float64(data.Len()), l)

	m.Sub(m, l)
	updated, err := linalg.Lstsq(m)
	if err != nil {
		return nil, fmt.Errorf("sampson error minimization: %w", err)
	}
	return updated, nil
}
