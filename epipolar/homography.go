package epipolar

import (
	"fmt"

	"github.com/MeKo-Tech/geofit/fit"
	"github.com/MeKo-Tech/geofit/linalg"
	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"
)

// HomographyData models the planar projective constraint
// (x', y', f0) x H (x, y, f0) = 0 between interleaved point pairs. The
// cross product yields three scalar equations per pair (two of them
// independent), so NumEquation is 3 and weights form a 3x3 matrix per
// observation.
type HomographyData struct {
	points []r2.Point
	scale  float64
	delta  []r2.Point
}

var _ fit.ObservedData = (*HomographyData)(nil)

// NewHomographyData builds the model over interleaved point pairs with the
// default scale constant.
func NewHomographyData(points []r2.Point) *HomographyData {
	return NewHomographyDataWithScale(points, DefaultScale)
}

// NewHomographyDataWithScale builds the model with an explicit scale
// constant f0.
func NewHomographyDataWithScale(points []r2.Point, scale float64) *HomographyData {
	pts := make([]r2.Point, len(points))
	copy(pts, points)
	return &HomographyData{
		points: pts,
		scale:  scale,
		delta:  make([]r2.Point, len(points)),
	}
}

// Len returns the number of point pairs.
func (d *HomographyData) Len() int { return len(d.points) / 2 }

// VecSize returns the embedding vector length.
func (d *HomographyData) VecSize() int { return VecSize }

// NumEquation returns 3: the decomposed cross-product constraint.
func (d *HomographyData) NumEquation() int { return 3 }

func (d *HomographyData) pair(i int) (p0, p1 r2.Point) {
	p0 = d.points[2*i].Add(d.delta[2*i])
	p1 = d.points[2*i+1].Add(d.delta[2*i+1])
	return p0, p1
}

// Vector returns the embedding for equation index i = pair*3 + offset,
// where offset selects the cross-product component.
func (d *HomographyData) Vector(i int) *mat.VecDense {
	idx := i / 3
	offset := i % 3
	p0, p1 := d.pair(idx)
	f := d.scale
	x, y := p0.X, p0.Y
	xh, yh := p1.X, p1.Y

	switch offset {
	case 0:
		return mat.NewVecDense(VecSize, []float64{
			0, 0, 0,
			-f * x, -f * y, -f * f,
			x * yh, y * yh, f * yh,
		})
	case 1:
		return mat.NewVecDense(VecSize, []float64{
			f * x, f * y, f * f,
			0, 0, 0,
			-x * xh, -y * xh, -f * xh,
		})
	default:
		return mat.NewVecDense(VecSize, []float64{
			-x * yh, -y * yh, -f * yh,
			x * xh, y * xh, f * xh,
			0, 0, 0,
		})
	}
}

// jacobian returns the 9x4 derivative of the embedding for equation index
// i with respect to (x, y, x', y'). These are the per-equation "T"
// matrices the variance and point correction are built from.
func (d *HomographyData) jacobian(i int) *mat.Dense {
	idx := i / 3
	offset := i % 3
	p0, p1 := d.pair(idx)
	f := d.scale
	x, y := p0.X, p0.Y
	xh, yh := p1.X, p1.Y

	switch offset {
	case 0:
		return mat.NewDense(VecSize, 4, []float64{
			0, 0, 0, 0,
			0, 0, 0, 0,
			0, 0, 0, 0,
			-f, 0, 0, 0,
			0, -f, 0, 0,
			0, 0, 0, 0,
			yh, 0, 0, x,
			0, yh, 0, y,
			0, 0, 0, f,
		})
	case 1:
		return mat.NewDense(VecSize, 4, []float64{
			f, 0, 0, 0,
			0, f, 0, 0,
			0, 0, 0, 0,
			0, 0, 0, 0,
			0, 0, 0, 0,
			0, 0, 0, 0,
			-xh, 0, -x, 0,
			0, -xh, -y, 0,
			0, 0, -f, 0,
		})
	default:
		return mat.NewDense(VecSize, 4, []float64{
			-yh, 0, 0, -x,
			0, -yh, 0, -y,
			0, 0, 0, -f,
			xh, 0, x, 0,
			0, xh, y, 0,
			0, 0, f, 0,
			0, 0, 0, 0,
			0, 0, 0, 0,
			0, 0, 0, 0,
		})
	}
}

// Variance returns the covariance block T_k T_l^T for pair index
// i = idx*9 + k*3 + l.
func (d *HomographyData) Variance(i int) *mat.Dense {
	idx := i / 9
	k := (i % 9) / 3
	l := i % 3
	tk := d.jacobian(idx*3 + k)
	tl := d.jacobian(idx*3 + l)
	v := mat.NewDense(VecSize, VecSize, nil)
	v.Mul(tk, tl.T())
	return v
}

// Matrix returns the weighted scatter matrix. An all-ones weight vector is
// normalized to the identity weight matrix per observation, the
// multi-equation analogue of uniform scalar weights, so that the initial
// scatter matrix stays symmetric.
func (d *HomographyData) Matrix(weights []float64) *mat.Dense {
	uniform := true
	for _, w := range weights {
		if w != 1 {
			uniform = false
			break
		}
	}
	if uniform {
		normalized := make([]float64, len(weights))
		for i := range normalized {
			k := (i % 9) / 3
			l := i % 3
			if k == l {
				normalized[i] = 1
			}
		}
		weights = normalized
	}
	return fit.ScatterMatrix(d, weights)
}

// Weights recomputes the per-observation 3x3 weight matrices as the
// pseudo-inverse of [theta^T V_kl theta], flattened row-major into 9
// entries per observation. The matrix has rank 2 (only two equations are
// independent), which the pseudo-inverse handles.
func (d *HomographyData) Weights(theta *mat.VecDense) []float64 {
	n := d.Len()
	weights := make([]float64, n*9)
	if theta == nil || mat.Norm(theta, 2) < 1e-10 {
		for i := range weights {
			weights[i] = 1
		}
		return weights
	}
	for idx := range n {
		block, err := d.weightBlock(idx, theta)
		if err != nil {
			// Degenerate pair: fall back to the identity weight matrix
			// rather than aborting the whole reweighting round.
			for k := range 3 {
				weights[idx*9+k*3+k] = 1
			}
			continue
		}
		for k := range 3 {
			for l := range 3 {
				weights[idx*9+k*3+l] = block.At(k, l)
			}
		}
	}
	return weights
}

// weightBlock computes pinv([theta^T V_kl theta]) for one pair.
func (d *HomographyData) weightBlock(idx int, theta *mat.VecDense) (*mat.Dense, error) {
	vars := mat.NewDense(3, 3, nil)
	for k := range 3 {
		for l := range 3 {
			vars.Set(k, l, mat.Inner(theta, d.Variance(idx*9+k*3+l), theta))
		}
	}
	block, err := linalg.PseudoInverse(vars)
	if err != nil {
		return nil, fmt.Errorf("homography weight block %d: %w", idx, err)
	}
	return block, nil
}

// UpdateDelta applies the first-order optimal correction to each pair's
// stored positions under the three linearized cross-product constraints,
// and returns the total squared displacement from the original
// observations.
func (d *HomographyData) UpdateDelta(theta *mat.VecDense) float64 {
	total := 0.0
	for idx := range d.Len() {
		g := make([]*mat.VecDense, 3)
		e := make([]float64, 3)
		for k := range 3 {
			g[k] = mat.NewVecDense(4, nil)
			g[k].MulVec(d.jacobian(idx*3+k).T(), theta)
			// Residual of equation k linearized at the corrected
			// position, with the accumulated displacement folded in.
			disp := g[k].AtVec(0)*d.delta[2*idx].X + g[k].AtVec(1)*d.delta[2*idx].Y +
				g[k].AtVec(2)*d.delta[2*idx+1].X + g[k].AtVec(3)*d.delta[2*idx+1].Y
			e[k] = mat.Dot(theta, d.Vector(idx*3+k)) - disp
		}
		block, err := d.weightBlock(idx, theta)
		if err != nil {
			continue
		}
		update := mat.NewVecDense(4, nil)
		for k := range 3 {
			coeff := 0.0
			for l := range 3 {
				coeff += block.At(k, l) * e[l]
			}
			update.AddScaledVec(update, coeff, g[k])
		}
		d.delta[2*idx] = r2.Point{X: -update.AtVec(0), Y: -update.AtVec(1)}
		d.delta[2*idx+1] = r2.Point{X: -update.AtVec(2), Y: -update.AtVec(3)}
		total += mat.Dot(update, update)
	}
	return total
}

// Points returns the interleaved positions with the accumulated
// corrections applied.
func (d *HomographyData) Points() []r2.Point {
	out := make([]r2.Point, len(d.points))
	for i := range d.points {
		out[i] = d.points[i].Add(d.delta[i])
	}
	return out
}
