package cost

import (
	"math"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// detFloor is the smallest determinant of I + Sx·Q accepted by the
// saturating loss before the normaliser is treated as degenerate.
const detFloor = 1e-300

// Params configures a loss: a weight matrix Q and a goal state. Both are
// expressed in the (possibly angle-augmented) space the loss is applied in.
type Params struct {
	Q      *mat.Dense
	Target *mat.VecDense
}

// Func returns the expected cost and cost variance of a state belief. A nil
// covariance evaluates the cost at the point mx.
type Func func(mx mat.Vector, sx mat.Symmetric) (float64, float64, error)

// Shape is a loss over a belief with explicit parameters.
type Shape func(mx mat.Vector, sx mat.Symmetric, p Params) (float64, float64, error)

// New binds parameters to a loss shape.
func New(shape Shape, p Params) Func {
	return func(mx mat.Vector, sx mat.Symmetric) (float64, float64, error) {
		return shape(mx, sx, p)
	}
}

// Generic binds parameters to a loss shape applied after angle augmentation
// of a d-dimensional state. Angle indices are validated here, once.
func Generic(shape Shape, p Params, angleDims []int, d int) (Func, error) {
	if err := belief.ValidateAngleDims(angleDims, d); err != nil {
		return nil, err
	}
	da := belief.AugmentedDim(d, angleDims)
	if err := p.check(da); err != nil {
		return nil, err
	}
	angles := append([]int(nil), angleDims...)
	return func(mx mat.Vector, sx mat.Symmetric) (float64, float64, error) {
		if mx.Len() != d {
			return 0, 0, dynamo.Shapef("cost: state has %d entries, want %d", mx.Len(), d)
		}
		if sx != nil && sx.SymmetricDim() != d {
			return 0, 0, dynamo.Shapef("cost: covariance is %dx%d, want %dx%d", sx.SymmetricDim(), sx.SymmetricDim(), d, d)
		}
		if len(angles) == 0 {
			return shape(mx, sx, p)
		}
		if sx == nil {
			return shape(belief.AugmentPoint(mx, angles), nil, p)
		}
		mxa, sxa, _ := belief.AugmentGaussian(mx, sx, angles)
		return shape(mxa, sxa, p)
	}, nil
}

// Batch evaluates f at every row of x, treating each row as a known state.
func Batch(f Func, x mat.Matrix) ([]float64, error) {
	n, d := x.Dims()
	costs := make([]float64, n)
	row := mat.NewVecDense(d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			row.SetVec(j, x.At(i, j))
		}
		c, _, err := f(row, nil)
		if err != nil {
			return nil, err
		}
		costs[i] = c
	}
	return costs, nil
}

func (p Params) check(d int) error {
	if p.Q == nil || p.Target == nil {
		return dynamo.Configf("cost: Q and target are required")
	}
	if p.Target.Len() != d {
		return dynamo.Shapef("cost: target has %d entries, want %d", p.Target.Len(), d)
	}
	r, _ := p.Q.Dims()
	if r != d {
		return dynamo.Shapef("cost: Q has %d rows, want %d", r, d)
	}
	return nil
}

func (p Params) checkSquare(d int) error {
	if err := p.check(d); err != nil {
		return err
	}
	if _, c := p.Q.Dims(); c != d {
		return dynamo.Shapef("cost: Q has %d columns, want %d", c, d)
	}
	return nil
}

func delta(mx mat.Vector, p Params) *mat.VecDense {
	var d mat.VecDense
	d.SubVec(mx, p.Target)
	return &d
}

// covOrZero returns sx as a dense matrix, or zeros for a point evaluation.
func covOrZero(sx mat.Symmetric, d int) (*mat.Dense, error) {
	if sx == nil {
		return mat.NewDense(d, d, nil), nil
	}
	if sx.SymmetricDim() != d {
		return nil, dynamo.Shapef("cost: covariance is %dx%d, want %dx%d", sx.SymmetricDim(), sx.SymmetricDim(), d, d)
	}
	return mat.DenseCopyOf(sx), nil
}

// LinearLoss penalises deviation along the single column of Q:
// m = Qᵀ(mx − target), s = Qᵀ·Sx·Q.
func LinearLoss(mx mat.Vector, sx mat.Symmetric, p Params) (float64, float64, error) {
	d := mx.Len()
	if err := p.check(d); err != nil {
		return 0, 0, err
	}
	if _, c := p.Q.Dims(); c != 1 {
		return 0, 0, dynamo.Configf("cost: linear loss needs a single-column Q, got %d columns", c)
	}
	s, err := covOrZero(sx, d)
	if err != nil {
		return 0, 0, err
	}
	w := p.Q.ColView(0)
	m := mat.Dot(w, delta(mx, p))
	var sw mat.VecDense
	sw.MulVec(s, w)
	return m, mat.Dot(w, &sw), nil
}

// QuadraticLoss is the quadratic form (x − target)ᵀQ(x − target) under
// x ~ N(mx, Sx): m = tr(Sx·Q) + δᵀQδ and s = 2·tr(Sx·Q·Sx·Q) + 4·δᵀQ·Sx·Qδ,
// with Q taken symmetric.
func QuadraticLoss(mx mat.Vector, sx mat.Symmetric, p Params) (float64, float64, error) {
	d := mx.Len()
	if err := p.checkSquare(d); err != nil {
		return 0, 0, err
	}
	s, err := covOrZero(sx, d)
	if err != nil {
		return 0, 0, err
	}
	var q mat.Dense
	q.Add(p.Q, p.Q.T())
	q.Scale(0.5, &q)

	dl := delta(mx, p)
	var qd mat.VecDense
	qd.MulVec(&q, dl)

	var sq mat.Dense
	sq.Mul(s, &q)
	var sqsq mat.Dense
	sqsq.Mul(&sq, &sq)

	var sqd mat.VecDense
	sqd.MulVec(s, &qd)

	m := mat.Trace(&sq) + mat.Dot(dl, &qd)
	v := 2*mat.Trace(&sqsq) + 4*mat.Dot(&qd, &sqd)
	return m, v, nil
}

// QuadraticSaturatingLoss is the bounded cost 1 − exp(−½(x−target)ᵀQ(x−target))
// under x ~ N(mx, Sx). Its mean lies in [0, 1) and is 0 at the target with
// zero covariance.
func QuadraticSaturatingLoss(mx mat.Vector, sx mat.Symmetric, p Params) (float64, float64, error) {
	d := mx.Len()
	if err := p.checkSquare(d); err != nil {
		return 0, 0, err
	}
	s, err := covOrZero(sx, d)
	if err != nil {
		return 0, 0, err
	}
	dl := delta(mx, p)

	var sq mat.Dense
	sq.Mul(s, p.Q)

	e1, det1, err := saturatingTerm(&sq, p.Q, dl, 1)
	if err != nil {
		return 0, 0, err
	}
	m := -math.Exp(-0.5*e1) / math.Sqrt(det1)

	e2, det2, err := saturatingTerm(&sq, p.Q, dl, 2)
	if err != nil {
		return 0, 0, err
	}
	v := math.Exp(-e2)/math.Sqrt(det2) - m*m

	if math.IsNaN(m) || math.IsNaN(v) {
		return 0, 0, dynamo.Degeneracyf("cost: saturating loss is not finite")
	}
	return 1 + m, v, nil
}

// saturatingTerm returns δᵀ·Q·(I + k·Sx·Q)⁻¹·δ and det(I + k·Sx·Q).
func saturatingTerm(sq *mat.Dense, q mat.Matrix, dl *mat.VecDense, k float64) (float64, float64, error) {
	d := dl.Len()
	ip := mat.NewDense(d, d, nil)
	ip.Scale(k, sq)
	for i := 0; i < d; i++ {
		ip.Set(i, i, ip.At(i, i)+1)
	}
	det := mat.Det(ip)
	if math.IsNaN(det) || det <= detFloor {
		return 0, 0, dynamo.Degeneracyf("cost: det(I+%g·Sx·Q) = %g", k, det)
	}
	var inv mat.Dense
	if err := inv.Inverse(ip); err != nil {
		return 0, 0, dynamo.Degeneracyf("cost: inverting I+%g·Sx·Q: %v", k, err)
	}
	var s1 mat.Dense
	s1.Mul(q, &inv)
	var s1d mat.VecDense
	s1d.MulVec(&s1, dl)
	return mat.Dot(dl, &s1d), det, nil
}
