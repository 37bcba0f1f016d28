package dynmodel

import (
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"github.com/san-kum/mcpilco/internal/storage"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// minNoiseVar bounds the residual variance away from zero.
const minNoiseVar = 1e-12

// LinearGaussian regresses state deltas on φ = [xa, u, 1] with a ridge
// prior. For an input φ, the delta in output j is Gaussian with mean φᵀW_j
// and variance σ_j²(1 + φᵀA⁻¹φ), A = ΦᵀΦ + λI.
//
// Each particle keeps a fixed standard-normal draw per output so that a
// particle follows one consistent realisation of the model along a
// rollout. The draws are refreshed by Update.
type LinearGaussian struct {
	in, out int
	Ridge   float64
	Seed    uint64

	w     *mat.Dense // (in+1)×out
	aInv  *mat.Dense // (in+1)×(in+1)
	sigma []float64  // residual variance per output

	eps   *mat.Dense // n×out
	draws uint64
	stage *mat.Dense
}

func NewLinearGaussian(in, out int, ridge float64, seed uint64) *LinearGaussian {
	m := &LinearGaussian{in: in, out: out, Ridge: ridge, Seed: seed}
	m.reset()
	return m
}

// reset puts the model back to its prior: zero mean, unit predictive scale.
func (m *LinearGaussian) reset() {
	p := m.in + 1
	m.w = mat.NewDense(p, m.out, nil)
	m.aInv = mat.NewDense(p, p, nil)
	for i := 0; i < p; i++ {
		m.aInv.Set(i, i, 1/math.Max(m.Ridge, minNoiseVar))
	}
	m.sigma = make([]float64, m.out)
	for j := range m.sigma {
		m.sigma[j] = 1
	}
}

func (m *LinearGaussian) InputDim() int  { return m.in }
func (m *LinearGaussian) OutputDim() int { return m.out }

// Fit solves the ridge regression of y (N×out) on x (N×in).
func (m *LinearGaussian) Fit(x, y mat.Matrix) error {
	n, c := x.Dims()
	ny, cy := y.Dims()
	if c != m.in || cy != m.out || n != ny {
		return dynamo.Shapef("linear model: fitting %dx%d on %dx%d, want N×%d on N×%d", ny, cy, n, c, m.out, m.in)
	}
	if n == 0 {
		return dynamo.Configf("linear model: no data")
	}
	p := m.in + 1
	phi := features(x)

	a := mat.NewSymDense(p, nil)
	a.SymOuterK(1, phi.T())
	for i := 0; i < p; i++ {
		a.SetSym(i, i, a.At(i, i)+m.Ridge)
	}
	var chol mat.Cholesky
	if ok := chol.Factorize(a); !ok {
		return dynamo.Degeneracyf("linear model: normal equations are not positive definite (ridge %g)", m.Ridge)
	}
	var aInv mat.SymDense
	if err := chol.InverseTo(&aInv); err != nil {
		return dynamo.Degeneracyf("linear model: %v", err)
	}

	var rhs, w mat.Dense
	rhs.Mul(phi.T(), y)
	if err := chol.SolveTo(&w, &rhs); err != nil {
		return dynamo.Degeneracyf("linear model: %v", err)
	}

	var res mat.Dense
	res.Mul(phi, &w)
	res.Sub(y, &res)
	dof := float64(n - p)
	if dof < 1 {
		dof = 1
	}
	sigma := make([]float64, m.out)
	for j := range sigma {
		col := mat.Col(nil, j, &res)
		sigma[j] = math.Max(mat.Dot(mat.NewVecDense(n, col), mat.NewVecDense(n, col))/dof, minNoiseVar)
	}

	m.w = &w
	m.aInv = mat.DenseCopyOf(&aInv)
	m.sigma = sigma
	return nil
}

func features(x mat.Matrix) *mat.Dense {
	n, c := x.Dims()
	phi := mat.NewDense(n, c+1, nil)
	phi.Slice(0, n, 0, c).(*mat.Dense).Copy(x)
	for i := 0; i < n; i++ {
		phi.Set(i, c, 1)
	}
	return phi
}

// Moments returns the predictive mean and variance of the delta for each
// input row.
func (m *LinearGaussian) Moments(xu mat.Matrix) (*mat.Dense, *mat.Dense, error) {
	n, c := xu.Dims()
	if c != m.in {
		return nil, nil, dynamo.Shapef("linear model: input has %d columns, want %d", c, m.in)
	}
	phi := features(xu)
	var mean mat.Dense
	mean.Mul(phi, m.w)

	var pa mat.Dense
	pa.Mul(phi, m.aInv)
	variance := mat.NewDense(n, m.out, nil)
	for i := 0; i < n; i++ {
		lev := mat.Dot(pa.RowView(i), phi.RowView(i))
		for j := 0; j < m.out; j++ {
			variance.Set(i, j, m.sigma[j]*(1+lev))
		}
	}
	return &mean, variance, nil
}

// Predict samples a delta for each row. Without a random stream in opts it
// returns the predictive mean. With IIDPerEval every call draws afresh from
// opts.Rand; otherwise the per-particle draws are used, and a missing or
// mis-sized table is replaced by a staged one committed through Pending.
func (m *LinearGaussian) Predict(xu *mat.Dense, opts mcpilco.EvalOptions) (*mat.Dense, *mat.Dense, error) {
	mean, variance, err := m.Moments(xu)
	if err != nil {
		return nil, nil, err
	}
	n := variance.RawMatrix().Rows
	noise := mat.NewDense(n, m.out, nil)
	noise.Apply(func(_, _ int, v float64) float64 { return math.Sqrt(v) }, variance)
	if opts.Rand == nil {
		return mean, noise, nil
	}

	var eps *mat.Dense
	switch {
	case opts.IIDPerEval:
		eps = standardNormal(n, m.out, opts.Rand)
	case m.eps != nil && m.eps.RawMatrix().Rows == n:
		eps = m.eps
	default:
		if m.stage == nil || m.stage.RawMatrix().Rows != n {
			m.stage = standardNormal(n, m.out, rand.New(rand.NewSource(m.Seed+m.draws)))
		}
		eps = m.stage
	}

	var delta mat.Dense
	delta.MulElem(noise, eps)
	delta.Add(&delta, mean)
	return &delta, noise, nil
}

// Update fixes fresh per-particle draws for an ensemble of n particles.
func (m *LinearGaussian) Update(n int) error {
	if n < 1 {
		return dynamo.Configf("linear model: ensemble size %d", n)
	}
	m.eps = standardNormal(n, m.out, rand.New(rand.NewSource(m.Seed+m.draws)))
	m.draws++
	m.stage = nil
	return nil
}

func (m *LinearGaussian) Pending() []mcpilco.Update {
	if m.stage == nil {
		return nil
	}
	staged := m.stage
	return []mcpilco.Update{{
		Name: "dynamics/particle-draws",
		Apply: func() {
			m.eps = staged
			m.draws++
			m.stage = nil
		},
	}}
}

func standardNormal(r, c int, rng *rand.Rand) *mat.Dense {
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: rng}
	z := mat.NewDense(r, c, nil)
	raw := z.RawMatrix().Data
	for i := range raw {
		raw[i] = norm.Rand()
	}
	return z
}

var linearSchema = storage.Schema{
	Name:    "dynamics.linear_gaussian",
	Version: 1,
	Fields: []storage.Field{
		{Name: "weights", Kind: storage.KindMatrix},
		{Name: "a_inv", Kind: storage.KindMatrix},
		{Name: "noise_var", Kind: storage.KindVector},
		{Name: "ridge", Kind: storage.KindFloat},
		{Name: "seed", Kind: storage.KindInt},
	},
}

func (m *LinearGaussian) Schema() storage.Schema { return linearSchema }

func (m *LinearGaussian) Snapshot() storage.Record {
	return storage.Record{
		"weights":   storage.Matrix(m.w),
		"a_inv":     storage.Matrix(m.aInv),
		"noise_var": storage.Vector(m.sigma),
		"ridge":     storage.Float(m.Ridge),
		"seed":      storage.Int(int(m.Seed)),
	}
}

func (m *LinearGaussian) Restore(r storage.Record) error {
	if err := linearSchema.Validate(r); err != nil {
		return err
	}
	w, _ := r.Matrix("weights")
	aInv, _ := r.Matrix("a_inv")
	sigma, _ := r.Vector("noise_var")
	ridge, _ := r.Float("ridge")
	seed, _ := r.Int("seed")

	p, out := w.Dims()
	if ar, ac := aInv.Dims(); ar != p || ac != p || len(sigma) != out || p < 1 {
		return dynamo.Shapef("linear model: inconsistent snapshot (%dx%d weights, %dx%d a_inv, %d variances)", p, out, ar, ac, len(sigma))
	}
	m.in, m.out = p-1, out
	m.w, m.aInv, m.sigma = w, aInv, sigma
	m.Ridge, m.Seed = ridge, uint64(seed)
	m.eps, m.stage = nil, nil
	return nil
}
