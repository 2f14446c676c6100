// Package ransac provides a generic trial-and-inlier-counting scheme over
// any model estimator: repeatedly fit a model to a random minimal sample,
// keep the trial with the most inliers, then refit on that trial's inlier
// set.
package ransac

import (
	"math/rand"
)

// Estimator is implemented by problems that can be robustly fitted. M is
// the model type, S the sample (observation) type.
type Estimator[M, S any] interface {
	// EstimateFromRandomSample fits a model to one random minimal sample.
	EstimateFromRandomSample(rnd *rand.Rand) M
	// Inliers returns the observations consistent with the model.
	Inliers(model M) []S
	// Estimate fits a model to the given observations.
	Estimate(samples []S) M
}

// Config holds the sampling tunables.
type Config struct {
	MaxIterations int // number of random trials
	MinInliers    int // early-exit inlier count
}

// DefaultConfig returns sampling defaults suited to a few hundred
// observations.
func DefaultConfig() Config {
	return Config{
		MaxIterations: 100,
		MinInliers:    50,
	}
}

// Run executes the scheme and returns the refitted best model. The second
// return value is false when no trial produced any inliers. Sampling is
// deterministic under the caller-supplied source.
func Run[M, S any](e Estimator[M, S], cfg Config, rnd *rand.Rand) (M, bool) {
	var best M
	bestInliers := 0
	found := false

	for range cfg.MaxIterations {
		model := e.EstimateFromRandomSample(rnd)
		n := len(e.Inliers(model))
		if n > bestInliers {
			best = model
			bestInliers = n
			found = true
			if bestInliers > cfg.MinInliers {
				break
			}
		}
	}
	if !found {
		return best, false
	}
	return e.Estimate(e.Inliers(best)), true
}
