package belief

import (
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

const (
	jitterAttempts = 8
	jitterBase     = 1e-10
)

// Gaussian is a belief N(Mean, Cov) over a D-dimensional state.
type Gaussian struct {
	Mean *mat.VecDense
	Cov  *mat.SymDense
}

// NewGaussian copies mean and a row-major covariance into a Gaussian. The
// covariance must be square, match the mean and be symmetric.
func NewGaussian(mean []float64, cov [][]float64) (*Gaussian, error) {
	d := len(mean)
	if d == 0 {
		return nil, dynamo.Configf("empty mean")
	}
	if len(cov) != d {
		return nil, dynamo.Shapef("covariance has %d rows, mean has %d entries", len(cov), d)
	}
	s := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		if len(cov[i]) != d {
			return nil, dynamo.Shapef("covariance row %d has %d entries, want %d", i, len(cov[i]), d)
		}
		for j := 0; j <= i; j++ {
			if math.Abs(cov[i][j]-cov[j][i]) > 1e-9*(1+math.Abs(cov[i][j])) {
				return nil, dynamo.Configf("covariance not symmetric at (%d,%d)", i, j)
			}
			s.SetSym(i, j, cov[i][j])
		}
	}
	m := mat.NewVecDense(d, nil)
	for i, v := range mean {
		m.SetVec(i, v)
	}
	return &Gaussian{Mean: m, Cov: s}, nil
}

func (g *Gaussian) Dim() int {
	return g.Mean.Len()
}

// Cholesky returns the lower factor L with S = L·Lᵀ. It reports false when S
// is not positive definite.
func Cholesky(s mat.Symmetric) (*mat.TriDense, bool) {
	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		return nil, false
	}
	var l mat.TriDense
	chol.LTo(&l)
	return &l, true
}

// JitterCholesky factorises S, adding a growing multiple of the identity to
// the diagonal when S is singular or slightly indefinite. It fails with
// ErrNumericalDegeneracy when no jitter level makes S factorisable.
func JitterCholesky(s mat.Symmetric) (*mat.TriDense, error) {
	if l, ok := Cholesky(s); ok {
		return l, nil
	}
	d := s.SymmetricDim()
	scale := 0.0
	for i := 0; i < d; i++ {
		scale += math.Abs(s.At(i, i))
	}
	scale /= float64(d)
	if scale == 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		scale = 1
	}

	jittered := mat.NewSymDense(d, nil)
	jitter := jitterBase * scale
	for attempt := 0; attempt < jitterAttempts; attempt++ {
		jittered.CopySym(s)
		for i := 0; i < d; i++ {
			jittered.SetSym(i, i, jittered.At(i, i)+jitter)
		}
		if l, ok := Cholesky(jittered); ok {
			return l, nil
		}
		jitter *= 10
	}
	return nil, dynamo.Degeneracyf("covariance is not positive definite after jitter %.3g", jitter/10)
}

// Sample maps standard-normal rows z (n×D) to mean + z·Lᵀ.
func Sample(mean mat.Vector, l mat.Matrix, z mat.Matrix) (*mat.Dense, error) {
	n, d := z.Dims()
	lr, lc := l.Dims()
	if d != mean.Len() || lr != d || lc != d {
		return nil, dynamo.Shapef("sample: z has %d columns, mean %d, factor %dx%d", d, mean.Len(), lr, lc)
	}
	x := mat.NewDense(n, d, nil)
	x.Mul(z, l.T())
	for i := 0; i < n; i++ {
		row := x.RawRowView(i)
		for j := range row {
			row[j] += mean.AtVec(j)
		}
	}
	return x, nil
}

// Empirical returns the particle mean and the biased covariance
// xᵀx/n − m·mᵀ of the rows of x.
func Empirical(x mat.Matrix) (*mat.VecDense, *mat.SymDense) {
	n, d := x.Dims()
	m := mat.NewVecDense(d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			m.SetVec(j, m.AtVec(j)+x.At(i, j))
		}
	}
	m.ScaleVec(1/float64(n), m)

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	s := mat.NewSymDense(d, nil)
	for i := 0; i < d; i++ {
		for j := 0; j <= i; j++ {
			v := 0.5*(xtx.At(i, j)+xtx.At(j, i))/float64(n) - m.AtVec(i)*m.AtVec(j)
			s.SetSym(i, j, v)
		}
	}
	return m, s
}

// Whiten transforms the rows of z in place so that their empirical mean is
// zero and their empirical covariance (normalised by n) is the identity. It
// reports false and leaves z untouched when there are not enough rows or the
// rows are degenerate.
func Whiten(z *mat.Dense) bool {
	n, d := z.Dims()
	if n <= d {
		return false
	}
	m, s := Empirical(z)
	l, ok := Cholesky(s)
	if !ok {
		return false
	}
	centered := mat.NewDense(n, d, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			centered.Set(i, j, z.At(i, j)-m.AtVec(j))
		}
	}
	var linv mat.TriDense
	if err := linv.InverseTri(l); err != nil {
		return false
	}
	z.Mul(centered, linv.T())
	return true
}
