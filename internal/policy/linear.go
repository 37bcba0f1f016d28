package policy

import (
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"github.com/san-kum/mcpilco/internal/storage"
	"gonum.org/v1/gonum/mat"
)

// Linear computes u = W·xa + b, optionally saturated to ±MaxU.
type Linear struct {
	W    *mat.Dense
	B    []float64
	MaxU []float64
}

// NewLinear returns a zero linear policy with in inputs and len(maxU)
// outputs. Passing saturate=false disables the squashing.
func NewLinear(in int, maxU []float64, saturate bool) *Linear {
	out := len(maxU)
	p := &Linear{W: mat.NewDense(out, in, nil), B: make([]float64, out)}
	if saturate {
		p.MaxU = append([]float64(nil), maxU...)
	}
	return p
}

func (p *Linear) InputDim() int {
	_, c := p.W.Dims()
	return c
}

func (p *Linear) OutputDim() int {
	r, _ := p.W.Dims()
	return r
}

func (p *Linear) Evaluate(xa *mat.Dense, _ mcpilco.EvalOptions) (*mat.Dense, error) {
	n, c := xa.Dims()
	if c != p.InputDim() {
		return nil, dynamo.Shapef("linear policy: %d inputs, want %d", c, p.InputDim())
	}
	u := mat.NewDense(n, p.OutputDim(), nil)
	u.Mul(xa, p.W.T())
	for i := 0; i < n; i++ {
		row := u.RawRowView(i)
		for j := range row {
			row[j] += p.B[j]
		}
	}
	saturateRows(u, p.MaxU)
	return u, nil
}

// Params returns W row-major followed by b.
func (p *Linear) Params() []float64 {
	r, c := p.W.Dims()
	theta := make([]float64, 0, r*c+len(p.B))
	for i := 0; i < r; i++ {
		theta = append(theta, p.W.RawRowView(i)...)
	}
	return append(theta, p.B...)
}

func (p *Linear) SetParams(theta []float64) error {
	r, c := p.W.Dims()
	if len(theta) != r*c+r {
		return dynamo.Shapef("linear policy: %d parameters, want %d", len(theta), r*c+r)
	}
	for i := 0; i < r; i++ {
		p.W.SetRow(i, theta[i*c:(i+1)*c])
	}
	copy(p.B, theta[r*c:])
	return nil
}

var linearSchema = storage.Schema{
	Name:    "policy.linear",
	Version: 1,
	Fields: []storage.Field{
		{Name: "weights", Kind: storage.KindMatrix},
		{Name: "bias", Kind: storage.KindVector},
		{Name: "max_u", Kind: storage.KindVector},
	},
}

func (p *Linear) Schema() storage.Schema { return linearSchema }

func (p *Linear) Snapshot() storage.Record {
	return storage.Record{
		"weights": storage.Matrix(p.W),
		"bias":    storage.Vector(p.B),
		"max_u":   storage.Vector(p.MaxU),
	}
}

func (p *Linear) Restore(r storage.Record) error {
	w, err := r.Matrix("weights")
	if err != nil {
		return err
	}
	b, err := r.Vector("bias")
	if err != nil {
		return err
	}
	maxU, err := r.Vector("max_u")
	if err != nil {
		return err
	}
	rows, _ := w.Dims()
	if len(b) != rows || (len(maxU) != 0 && len(maxU) != rows) {
		return dynamo.Shapef("linear policy: %d outputs, bias %d, max_u %d", rows, len(b), len(maxU))
	}
	p.W, p.B = w, b
	p.MaxU = nil
	if len(maxU) > 0 {
		p.MaxU = maxU
	}
	return nil
}
