package policy

import (
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"github.com/san-kum/mcpilco/internal/storage"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// RBF is a radial basis function network
//
//	u_j = Σ_k W[k,j]·exp(−½‖(xa − c_k)/ℓ‖²)
//
// with shared length-scales ℓ = exp(LogScales), optionally saturated.
type RBF struct {
	Centers   *mat.Dense // nc×in
	LogScales []float64  // in
	Weights   *mat.Dense // nc×out
	MaxU      []float64

	last *mat.Dense
}

// NewRBF draws nc centers from N(0, 1) and small random weights.
func NewRBF(in, nc int, maxU []float64, src rand.Source) *RBF {
	out := len(maxU)
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	p := &RBF{
		Centers:   mat.NewDense(nc, in, nil),
		LogScales: make([]float64, in),
		Weights:   mat.NewDense(nc, out, nil),
		MaxU:      append([]float64(nil), maxU...),
	}
	for _, v := range []*mat.Dense{p.Centers, p.Weights} {
		raw := v.RawMatrix().Data
		for i := range raw {
			raw[i] = norm.Rand()
		}
	}
	p.Weights.Scale(0.1, p.Weights)
	return p
}

// InitCenters places the centers on the first rows of x and sets each
// length-scale to the spread of the corresponding column.
func (p *RBF) InitCenters(x mat.Matrix) error {
	n, c := x.Dims()
	nc, in := p.Centers.Dims()
	if c != in {
		return dynamo.Shapef("rbf policy: %d columns, want %d", c, in)
	}
	if n < nc {
		return dynamo.Shapef("rbf policy: %d rows for %d centers", n, nc)
	}
	col := make([]float64, n)
	for j := 0; j < in; j++ {
		mat.Col(col, j, x)
		for k := 0; k < nc; k++ {
			p.Centers.Set(k, j, col[k])
		}
		spread := floats.Max(col) - floats.Min(col)
		if spread <= 0 {
			spread = 1
		}
		p.LogScales[j] = math.Log(spread)
	}
	return nil
}

func (p *RBF) InputDim() int {
	_, c := p.Centers.Dims()
	return c
}

func (p *RBF) OutputDim() int {
	_, c := p.Weights.Dims()
	return c
}

func (p *RBF) Evaluate(xa *mat.Dense, _ mcpilco.EvalOptions) (*mat.Dense, error) {
	n, c := xa.Dims()
	if c != p.InputDim() {
		return nil, dynamo.Shapef("rbf policy: %d inputs, want %d", c, p.InputDim())
	}
	nc, _ := p.Centers.Dims()
	inv := make([]float64, c)
	for j, ls := range p.LogScales {
		inv[j] = math.Exp(-ls)
	}

	phi := mat.NewDense(n, nc, nil)
	diff := make([]float64, c)
	for i := 0; i < n; i++ {
		x := xa.RawRowView(i)
		for k := 0; k < nc; k++ {
			floats.SubTo(diff, x, p.Centers.RawRowView(k))
			floats.Mul(diff, inv)
			phi.Set(i, k, math.Exp(-0.5*floats.Dot(diff, diff)))
		}
	}
	p.last = phi

	u := mat.NewDense(n, p.OutputDim(), nil)
	u.Mul(phi, p.Weights)
	saturateRows(u, p.MaxU)
	return u, nil
}

// IntermediateOutputs exposes the basis activations of the last evaluation.
func (p *RBF) IntermediateOutputs() map[string]*mat.Dense {
	if p.last == nil {
		return nil
	}
	return map[string]*mat.Dense{"activations": p.last}
}

// Params returns the centers, the log length-scales and the weights.
func (p *RBF) Params() []float64 {
	theta := append([]float64(nil), p.Centers.RawMatrix().Data...)
	theta = append(theta, p.LogScales...)
	return append(theta, p.Weights.RawMatrix().Data...)
}

func (p *RBF) SetParams(theta []float64) error {
	nc, in := p.Centers.Dims()
	_, out := p.Weights.Dims()
	if want := nc*in + in + nc*out; len(theta) != want {
		return dynamo.Shapef("rbf policy: %d parameters, want %d", len(theta), want)
	}
	copy(p.Centers.RawMatrix().Data, theta[:nc*in])
	copy(p.LogScales, theta[nc*in:nc*in+in])
	copy(p.Weights.RawMatrix().Data, theta[nc*in+in:])
	return nil
}

var rbfSchema = storage.Schema{
	Name:    "policy.rbf",
	Version: 1,
	Fields: []storage.Field{
		{Name: "centers", Kind: storage.KindMatrix},
		{Name: "log_scales", Kind: storage.KindVector},
		{Name: "weights", Kind: storage.KindMatrix},
		{Name: "max_u", Kind: storage.KindVector},
	},
}

func (p *RBF) Schema() storage.Schema { return rbfSchema }

func (p *RBF) Snapshot() storage.Record {
	return storage.Record{
		"centers":    storage.Matrix(p.Centers),
		"log_scales": storage.Vector(p.LogScales),
		"weights":    storage.Matrix(p.Weights),
		"max_u":      storage.Vector(p.MaxU),
	}
}

func (p *RBF) Restore(r storage.Record) error {
	centers, err := r.Matrix("centers")
	if err != nil {
		return err
	}
	scales, err := r.Vector("log_scales")
	if err != nil {
		return err
	}
	weights, err := r.Matrix("weights")
	if err != nil {
		return err
	}
	maxU, err := r.Vector("max_u")
	if err != nil {
		return err
	}
	nc, in := centers.Dims()
	wr, wc := weights.Dims()
	if len(scales) != in || wr != nc || (len(maxU) != 0 && len(maxU) != wc) {
		return dynamo.Shapef("rbf policy: centers %dx%d, scales %d, weights %dx%d", nc, in, len(scales), wr, wc)
	}
	p.Centers, p.LogScales, p.Weights = centers, scales, weights
	p.MaxU = nil
	if len(maxU) > 0 {
		p.MaxU = maxU
	}
	p.last = nil
	return nil
}
