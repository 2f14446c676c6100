// Package conic implements the observed-data model for fitting a conic
// (six homogeneous coefficients) to 2D points. The embedding vector
// linearizes the quadratic constraint
//
//	A x^2 + 2B xy + C y^2 + 2 f0 (D x + E y) + f0^2 F = 0
//
// as the inner product of (x^2, 2xy, y^2, 2 f0 x, 2 f0 y, f0^2) with the
// coefficient vector (A, B, C, D, E, F).
package conic

import (
	"github.com/MeKo-Tech/geofit/fit"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// VecSize is the embedding vector length of the conic model.
const VecSize = 6

// DefaultScale is the magnitude-balancing constant f0 used when none is
// given.
const DefaultScale = 1.0

// Data holds one conic fitting problem: one point per observation index.
// It owns a private copy of the positions so geometric correction never
// touches the caller's slice.
type Data struct {
	points []r2.Point
	scale  float64
	delta  []r2.Point
}

var _ fit.ObservedData = (*Data)(nil)

// NewData builds a conic model over the given points with the default
// scale constant.
func NewData(points []r2.Point) *Data {
	return NewDataWithScale(points, DefaultScale)
}

// NewDataWithScale builds a conic model with an explicit scale constant f0.
func NewDataWithScale(points []r2.Point, scale float64) *Data {
	pts := make([]r2.Point, len(points))
	copy(pts, points)
	return &Data{
		points: pts,
		scale:  scale,
		delta:  make([]r2.Point, len(points)),
	}
}

// Len returns the number of observed points.
func (d *Data) Len() int { return len(d.points) }

// VecSize returns the embedding vector length.
func (d *Data) VecSize() int { return VecSize }

// NumEquation returns 1: the conic constraint is a single scalar equation.
func (d *Data) NumEquation() int { return 1 }

func (d *Data) corrected(i int) r2.Point {
	return d.points[i].Add(d.delta[i])
}

// Vector returns the embedding of observation i, evaluated at the
// corrected position.
func (d *Data) Vector(i int) *mat.VecDense {
	p := d.corrected(i)
	f := d.scale
	return mat.NewVecDense(VecSize, []float64{
		p.X * p.X,
		2 * p.X * p.Y,
		p.Y * p.Y,
		2 * f * p.X,
		2 * f * p.Y,
		f * f,
	})
}

// jacobian returns the 6x2 derivative of the embedding with respect to the
// point coordinates, evaluated at the corrected position.
func (d *Data) jacobian(i int) *mat.Dense {
	p := d.corrected(i)
	f := d.scale
	return mat.NewDense(VecSize, 2, []float64{
		2 * p.X, 0,
		2 * p.Y, 2 * p.X,
		0, 2 * p.Y,
		2 * f, 0,
		0, 2 * f,
		0, 0,
	})
}

// Variance returns the first-order covariance of the embedding under unit
// Gaussian pixel noise: J J^T with J the embedding Jacobian.
func (d *Data) Variance(i int) *mat.Dense {
	j := d.jacobian(i)
	v := mat.NewDense(VecSize, VecSize, nil)
	v.Mul(j, j.T())
	return v
}

// Matrix returns the weighted scatter matrix of the embeddings.
func (d *Data) Matrix(weights []float64) *mat.Dense {
	return fit.ScatterMatrix(d, weights)
}

// Weights recomputes the per-point weights 1/(theta^T V_i theta).
func (d *Data) Weights(theta *mat.VecDense) []float64 {
	return fit.ScalarWeights(d, theta)
}

// UpdateDelta moves each stored position toward the conic implied by theta
// using the first-order optimal correction, and returns the total squared
// displacement from the original observations.
func (d *Data) UpdateDelta(theta *mat.VecDense) float64 {
	total := 0.0
	g := mat.NewVecDense(2, nil)
	for i := range d.points {
		g.MulVec(d.jacobian(i).T(), theta)
		gg := mat.Dot(g, g)
		if gg == 0 {
			continue
		}
		// Linearize the constraint at the corrected position; the
		// displacement term accounts for the correction accumulated in
		// earlier rounds.
		residual := mat.Dot(theta, d.Vector(i)) -
			(g.AtVec(0)*d.delta[i].X + g.AtVec(1)*d.delta[i].Y)
		lambda := residual / gg
		d.delta[i] = r2.Point{X: -lambda * g.AtVec(0), Y: -lambda * g.AtVec(1)}
		total += d.delta[i].X*d.delta[i].X + d.delta[i].Y*d.delta[i].Y
	}
	return total
}

// Points returns the observation positions with the accumulated
// corrections applied.
func (d *Data) Points() []r2.Point {
	out := make([]r2.Point, len(d.points))
	for i := range d.points {
		out[i] = d.corrected(i)
	}
	return out
}
