package fit

import (
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/geofit/linalg"
	"gonum.org/v1/gonum/mat"
)

// LeastSquares fits the model by minimizing the unweighted algebraic
// residual: the minimum-singular-vector direction of the scatter matrix.
func LeastSquares[D ObservedData](data D, cfg Config) (*Solution, error) {
	if err := checkObservations(data); err != nil {
		return nil, err
	}
	theta, err := LeastSquaresWithWeight(data, UniformWeights(data))
	if err != nil {
		return nil, err
	}
	return &Solution{Theta: theta, Converged: true, Iterations: 1}, nil
}

// LeastSquaresWithWeight solves a single weighted least-squares round with
// the given weight vector.
func LeastSquaresWithWeight[D ObservedData](data D, weights []float64) (*mat.VecDense, error) {
	theta, err := linalg.Lstsq(data.Matrix(weights))
	if err != nil {
		return nil, fmt.Errorf("weighted least squares: %w", err)
	}
	return theta, nil
}

// IterativeReweight repeats weighted least squares, recomputing the weights
// from the previous estimate each round. The divergence guard keeps the
// last accepted estimate when the algebraic residual grows by more than
// cfg.DivergenceRatio.
func IterativeReweight[D ObservedData](data D, cfg Config) (*Solution, error) {
	if err := checkObservations(data); err != nil {
		return nil, err
	}
	theta, err := LeastSquaresWithWeight(data, UniformWeights(data))
	if err != nil {
		return nil, err
	}

	return iterate(data, cfg, theta, func(current *mat.VecDense) (*mat.VecDense, error) {
		return LeastSquaresWithWeight(data, data.Weights(current))
	})
}

// iterate runs the shared reweight-solve-check loop: sign/scale-normalized
// convergence test, then one solve with weights recomputed from the current
// estimate, guarded against residual blow-up.
func iterate[D ObservedData](data D, cfg Config, theta *mat.VecDense, solve func(*mat.VecDense) (*mat.VecDense, error)) (*Solution, error) {
	prev := mat.NewVecDense(data.VecSize(), nil)
	defaultMatrix := data.Matrix(UniformWeights(data))
	normalize(theta)
	residual := quadraticResidual(theta, defaultMatrix)

	for it := 1; it <= cfg.MaxIterations; it++ {
		alignSign(theta, prev)
		if paramDistance(theta, prev) < cfg.Threshold {
			return &Solution{Theta: theta, Converged: true, Iterations: it}, nil
		}
		prev = mat.VecDenseCopyOf(theta)

		updated, err := solve(theta)
		if err != nil {
			return nil, err
		}
		normalize(updated)
		res := quadraticResidual(updated, defaultMatrix)
		// The floor keeps roundoff-scale fluctuations on near-exact data
		// from tripping the guard.
		if res > residual*cfg.DivergenceRatio && res > divergenceFloor {
			slog.Debug("residual is not decreasing, stopping iteration",
				"iteration", it, "residual", res, "previous", residual)
			return &Solution{Theta: theta, Converged: false, Iterations: it}, nil
		}
		residual = res
		theta = updated
	}
	return &Solution{Theta: theta, Converged: false, Iterations: cfg.MaxIterations}, nil
}
