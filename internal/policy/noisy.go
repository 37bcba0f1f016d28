package policy

import (
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"gonum.org/v1/gonum/mat"
)

// Noisy adds zero-mean Gaussian exploration noise with standard deviations
// Sigma to the controls of Inner. With IIDPerEval every particle gets its
// own draw; otherwise one draw is shared by the whole batch. Without a
// random stream the wrapper is transparent.
type Noisy struct {
	Inner mcpilco.Policy
	Sigma []float64

	last *mat.Dense
}

func (p *Noisy) InputDim() int  { return p.Inner.InputDim() }
func (p *Noisy) OutputDim() int { return p.Inner.OutputDim() }

func (p *Noisy) Evaluate(xa *mat.Dense, opts mcpilco.EvalOptions) (*mat.Dense, error) {
	u, err := p.Inner.Evaluate(xa, opts)
	if err != nil {
		return nil, err
	}
	if opts.Rand == nil {
		return u, nil
	}
	n, c := u.Dims()
	if len(p.Sigma) != c {
		return nil, dynamo.Shapef("noisy policy: %d noise scales for %d controls", len(p.Sigma), c)
	}

	noise := mat.NewDense(n, c, nil)
	shared := make([]float64, c)
	for j := range shared {
		shared[j] = opts.Rand.NormFloat64() * p.Sigma[j]
	}
	for i := 0; i < n; i++ {
		for j := 0; j < c; j++ {
			e := shared[j]
			if opts.IIDPerEval && i > 0 {
				e = opts.Rand.NormFloat64() * p.Sigma[j]
			}
			noise.Set(i, j, e)
		}
	}
	p.last = noise

	var out mat.Dense
	out.Add(u, noise)
	return &out, nil
}

// IntermediateOutputs exposes the noise added by the last evaluation.
func (p *Noisy) IntermediateOutputs() map[string]*mat.Dense {
	if p.last == nil {
		return nil
	}
	return map[string]*mat.Dense{"noise": p.last}
}

func (p *Noisy) Params() []float64 {
	if inner, ok := p.Inner.(mcpilco.Parametric); ok {
		return inner.Params()
	}
	return nil
}

func (p *Noisy) SetParams(theta []float64) error {
	inner, ok := p.Inner.(mcpilco.Parametric)
	if !ok {
		return dynamo.Configf("noisy policy: %T has no parameters", p.Inner)
	}
	return inner.SetParams(theta)
}
