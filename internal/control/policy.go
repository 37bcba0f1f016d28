package control

import (
	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"gonum.org/v1/gonum/mat"
)

// Policy runs a learned policy on the plant. The state is angle-augmented
// before evaluation; sampling inside the policy is disabled unless Eval
// carries a random stream.
type Policy struct {
	Policy    mcpilco.Policy
	AngleDims []int
	Eval      mcpilco.EvalOptions

	// Err holds the first evaluation failure; Compute then returns zero
	// control.
	Err error
}

func NewPolicy(p mcpilco.Policy, angleDims []int) *Policy {
	return &Policy{Policy: p, AngleDims: angleDims}
}

func (c *Policy) Compute(x dynamo.State, t float64) dynamo.Control {
	zero := make(dynamo.Control, c.Policy.OutputDim())
	if c.Err != nil {
		return zero
	}
	row := mat.NewDense(1, len(x), append([]float64(nil), x...))
	u, err := c.Policy.Evaluate(belief.AugmentParticles(row, c.AngleDims), c.Eval)
	if err != nil {
		c.Err = err
		return zero
	}
	return dynamo.Control(mat.Row(nil, 0, u))
}
