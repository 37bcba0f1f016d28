package mcpilco_test

import (
	"math"

	"github.com/san-kum/mcpilco/internal/cost"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"gonum.org/v1/gonum/mat"
)

// identityPolicy returns the augmented state as the control.
type identityPolicy struct{ dim int }

func (p *identityPolicy) Evaluate(xa *mat.Dense, _ mcpilco.EvalOptions) (*mat.Dense, error) {
	return mat.DenseCopyOf(xa), nil
}
func (p *identityPolicy) InputDim() int  { return p.dim }
func (p *identityPolicy) OutputDim() int { return p.dim }

// biasPolicy returns the same scalar control for every particle.
type biasPolicy struct {
	dim   int
	theta float64
	sets  int
}

func (p *biasPolicy) Evaluate(xa *mat.Dense, _ mcpilco.EvalOptions) (*mat.Dense, error) {
	n, _ := xa.Dims()
	u := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		u.Set(i, 0, p.theta)
	}
	return u, nil
}
func (p *biasPolicy) InputDim() int     { return p.dim }
func (p *biasPolicy) OutputDim() int    { return 1 }
func (p *biasPolicy) Params() []float64 { return []float64{p.theta} }
func (p *biasPolicy) SetParams(theta []float64) error {
	p.theta = theta[0]
	p.sets++
	return nil
}
func (p *biasPolicy) IntermediateOutputs() map[string]*mat.Dense {
	return map[string]*mat.Dense{"theta": mat.NewDense(1, 1, []float64{p.theta})}
}

// affinePolicy returns θ0 + θ1·x for a scalar state.
type affinePolicy struct{ theta [2]float64 }

func (p *affinePolicy) Evaluate(xa *mat.Dense, _ mcpilco.EvalOptions) (*mat.Dense, error) {
	n, _ := xa.Dims()
	u := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		u.Set(i, 0, p.theta[0]+p.theta[1]*xa.At(i, 0))
	}
	return u, nil
}
func (p *affinePolicy) InputDim() int     { return 1 }
func (p *affinePolicy) OutputDim() int    { return 1 }
func (p *affinePolicy) Params() []float64 { return []float64{p.theta[0], p.theta[1]} }
func (p *affinePolicy) SetParams(theta []float64) error {
	copy(p.theta[:], theta)
	return nil
}

// constDynamics adds the same delta to every particle. When controlled is
// set, the last control column is added to the first state dimension.
type constDynamics struct {
	in, out    int
	delta      []float64
	controlled bool
	resized    int
}

func (m *constDynamics) Predict(xu *mat.Dense, _ mcpilco.EvalOptions) (*mat.Dense, *mat.Dense, error) {
	n, c := xu.Dims()
	delta := mat.NewDense(n, m.out, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m.out; j++ {
			delta.Set(i, j, m.delta[j])
		}
		if m.controlled {
			delta.Set(i, 0, delta.At(i, 0)+xu.At(i, c-1))
		}
	}
	return delta, mat.NewDense(n, m.out, nil), nil
}
func (m *constDynamics) InputDim() int  { return m.in }
func (m *constDynamics) OutputDim() int { return m.out }
func (m *constDynamics) Update(n int) error {
	m.resized = n
	return nil
}

// linearDynamics predicts delta = x·Aᵀ from the first d input columns.
type linearDynamics struct {
	in int
	a  *mat.Dense
}

func (m *linearDynamics) Predict(xu *mat.Dense, _ mcpilco.EvalOptions) (*mat.Dense, *mat.Dense, error) {
	n, _ := xu.Dims()
	d, _ := m.a.Dims()
	x := xu.Slice(0, n, 0, d)
	var delta mat.Dense
	delta.Mul(x, m.a.T())
	return &delta, mat.NewDense(n, d, nil), nil
}
func (m *linearDynamics) InputDim() int { return m.in }

func (m *linearDynamics) OutputDim() int {
	r, _ := m.a.Dims()
	return r
}

// nanDynamics breaks the ensemble.
type nanDynamics struct{ in, out int }

func (m *nanDynamics) Predict(xu *mat.Dense, _ mcpilco.EvalOptions) (*mat.Dense, *mat.Dense, error) {
	n, _ := xu.Dims()
	delta := mat.NewDense(n, m.out, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < m.out; j++ {
			delta.Set(i, j, math.NaN())
		}
	}
	return delta, delta, nil
}
func (m *nanDynamics) InputDim() int  { return m.in }
func (m *nanDynamics) OutputDim() int { return m.out }

// pendingDynamics records how often its deferred update was committed.
type pendingDynamics struct {
	constDynamics
	committed int
}

func (m *pendingDynamics) Pending() []mcpilco.Update {
	return []mcpilco.Update{{Name: "commit", Apply: func() { m.committed++ }}}
}

func quadratic(d int, target ...float64) cost.Func {
	q := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		q.Set(i, i, 1)
	}
	return cost.New(cost.QuadraticLoss, cost.Params{Q: q, Target: mat.NewVecDense(d, target)})
}

func firstCoordinate(d int) cost.Func {
	w := mat.NewDense(d, 1, nil)
	w.Set(0, 0, 1)
	return cost.New(cost.LinearLoss, cost.Params{Q: w, Target: mat.NewVecDense(d, nil)})
}

func diag(v ...float64) *mat.SymDense {
	s := mat.NewSymDense(len(v), nil)
	for i, x := range v {
		s.SetSym(i, i, x)
	}
	return s
}

func constantEnsemble(n int, row ...float64) *mat.Dense {
	x := mat.NewDense(n, len(row), nil)
	for i := 0; i < n; i++ {
		x.SetRow(i, row)
	}
	return x
}
