package fit

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// MinimizeGeometricDistance jointly optimizes the parameter vector and the
// "true" observation positions: each round updates theta through the FNS
// inner solve, then asks the data model to correct its point positions
// toward the current model. It stops when the accumulated squared
// correction settles, measured in point-space rather than parameter-space.
//
// The corrected positions are returned in Solution.Points. The data model's
// internal position copy is mutated; pass a freshly constructed model.
func MinimizeGeometricDistance[D ObservedData](data D, cfg Config) (*Solution, error) {
	if err := checkObservations(data); err != nil {
		return nil, err
	}

	theta := mat.NewVecDense(data.VecSize(), nil)
	geoError := 1e9
	converged := false
	iterations := 0

	for it := 1; it <= cfg.MaxIterations; it++ {
		iterations = it
		updated, err := MinimizeSampsonError(data, theta)
		if err != nil {
			return nil, err
		}
		theta = updated

		correction := data.UpdateDelta(theta)
		if math.Abs(correction-geoError) <= cfg.PointThreshold*geoError {
			converged = true
			break
		}
		geoError = correction
	}

	return &Solution{
		Theta:      theta,
		Converged:  converged,
		Iterations: iterations,
		Points:     data.Points(),
	}, nil
}
