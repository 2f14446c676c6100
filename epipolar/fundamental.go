// Package epipolar implements the two-view observed-data models
// (fundamental matrix and planar homography) together with the rank-2
// correction and manifold refinement applied downstream of the estimators.
//
// Observations are interleaved: [image0_pt_k, image1_pt_k] pairs, one pair
// per observation index. Parameter vectors are the row-major
// vectorizations of the underlying 3x3 matrices.
package epipolar

import (
	"github.com/MeKo-Tech/geofit/fit"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// VecSize is the embedding vector length of both two-view models.
const VecSize = 9

// DefaultScale is the magnitude-balancing constant f0 used when none is
// given.
const DefaultScale = 1.0

// FundamentalMatrixData models the epipolar constraint u^T F v = 0 for the
// homogeneous points u = (x, y, f0) in image 0 and v = (x', y', f0) in
// image 1. The embedding is the Kronecker-style bilinear product of the
// two, so that the constraint is linear in vec(F).
type FundamentalMatrixData struct {
	points []r2.Point
	scale  float64
	delta  []r2.Point
}

var _ fit.ObservedData = (*FundamentalMatrixData)(nil)

// NewFundamentalMatrixData builds the model over interleaved point pairs
// with the default scale constant.
func NewFundamentalMatrixData(points []r2.Point) *FundamentalMatrixData {
	return NewFundamentalMatrixDataWithScale(points, DefaultScale)
}

// NewFundamentalMatrixDataWithScale builds the model with an explicit
// scale constant f0.
func NewFundamentalMatrixDataWithScale(points []r2.Point, scale float64) *FundamentalMatrixData {
	pts := make([]r2.Point, len(points))
	copy(pts, points)
	return &FundamentalMatrixData{
		points: pts,
		scale:  scale,
		delta:  make([]r2.Point, len(points)),
	}
}

// Len returns the number of point pairs.
func (d *FundamentalMatrixData) Len() int { return len(d.points) / 2 }

// VecSize returns the embedding vector length.
func (d *FundamentalMatrixData) VecSize() int { return VecSize }

// NumEquation returns 1: one epipolar constraint per pair.
func (d *FundamentalMatrixData) NumEquation() int { return 1 }

func (d *FundamentalMatrixData) pair(i int) (p0, p1 r2.Point) {
	p0 = d.points[2*i].Add(d.delta[2*i])
	p1 = d.points[2*i+1].Add(d.delta[2*i+1])
	return p0, p1
}

// Vector returns the bilinear embedding
// (xx', xy', f0 x, yx', yy', f0 y, f0 x', f0 y', f0^2) of pair i.
func (d *FundamentalMatrixData) Vector(i int) *mat.VecDense {
	p0, p1 := d.pair(i)
	f := d.scale
	return mat.NewVecDense(VecSize, []float64{
		p0.X * p1.X, p0.X * p1.Y, f * p0.X,
		p0.Y * p1.X, p0.Y * p1.Y, f * p0.Y,
		f * p1.X, f * p1.Y, f * f,
	})
}

// jacobian returns the 9x4 derivative of the embedding with respect to
// (x, y, x', y').
func (d *FundamentalMatrixData) jacobian(i int) *mat.Dense {
	p0, p1 := d.pair(i)
	f := d.scale
	return mat.NewDense(VecSize, 4, []float64{
		p1.X, 0, p0.X, 0,
		p1.Y, 0, 0, p0.X,
		f, 0, 0, 0,
		0, p1.X, p0.Y, 0,
		0, p1.Y, 0, p0.Y,
		0, f, 0, 0,
		0, 0, f, 0,
		0, 0, 0, f,
		0, 0, 0, 0,
	})
}

// Variance returns the first-order covariance of the embedding under unit
// Gaussian pixel noise in both images.
func (d *FundamentalMatrixData) Variance(i int) *mat.Dense {
	j := d.jacobian(i)
	v := mat.NewDense(VecSize, VecSize, nil)
	v.Mul(j, j.T())
	return v
}

// Matrix returns the weighted scatter matrix of the embeddings.
func (d *FundamentalMatrixData) Matrix(weights []float64) *mat.Dense {
	return fit.ScatterMatrix(d, weights)
}

// Weights recomputes the per-pair weights 1/(theta^T V_i theta).
func (d *FundamentalMatrixData) Weights(theta *mat.VecDense) []float64 {
	return fit.ScalarWeights(d, theta)
}

// UpdateDelta applies the first-order optimal correction to each pair's
// stored positions so they approach the epipolar constraint implied by
// theta, and returns the total squared displacement from the original
// observations.
func (d *FundamentalMatrixData) UpdateDelta(theta *mat.VecDense) float64 {
	total := 0.0
	g := mat.NewVecDense(4, nil)
	for i := range d.Len() {
		g.MulVec(d.jacobian(i).T(), theta)
		gg := mat.Dot(g, g)
		if gg == 0 {
			continue
		}
		disp := g.AtVec(0)*d.delta[2*i].X + g.AtVec(1)*d.delta[2*i].Y +
			g.AtVec(2)*d.delta[2*i+1].X + g.AtVec(3)*d.delta[2*i+1].Y
		lambda := (mat.Dot(theta, d.Vector(i)) - disp) / gg
		d.delta[2*i] = r2.Point{X: -lambda * g.AtVec(0), Y: -lambda * g.AtVec(1)}
		d.delta[2*i+1] = r2.Point{X: -lambda * g.AtVec(2), Y: -lambda * g.AtVec(3)}
		total += lambda * lambda * gg
	}
	return total
}

// Points returns the interleaved positions with the accumulated
// corrections applied.
func (d *FundamentalMatrixData) Points() []r2.Point {
	out := make([]r2.Point, len(d.points))
	for i := range d.points {
		out[i] = d.points[i].Add(d.delta[i])
	}
	return out
}
