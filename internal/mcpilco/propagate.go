package mcpilco

import (
	"fmt"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// PropagateParticles advances an (n×d) ensemble one step: the policy sees the
// angle-augmented particles, the dynamics model sees [xa, u] and returns the
// state deltas. The noise scale of the model is passed through.
func PropagateParticles(x *mat.Dense, pol Policy, dyn Dynamics, d int, angleDims []int, opts EvalOptions) (*mat.Dense, *mat.Dense, error) {
	n, c := x.Dims()
	if c != d {
		return nil, nil, dynamo.Shapef("particles have %d columns, want %d", c, d)
	}

	xa := belief.AugmentParticles(x, angleDims)
	u, err := pol.Evaluate(xa, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("policy: %w", err)
	}
	if un, ud := u.Dims(); un != n || ud != pol.OutputDim() {
		return nil, nil, dynamo.Shapef("policy returned %dx%d controls, want %dx%d", un, ud, n, pol.OutputDim())
	}

	var xu mat.Dense
	xu.Augment(xa, u)
	delta, noise, err := dyn.Predict(&xu, opts)
	if err != nil {
		return nil, nil, fmt.Errorf("dynamics: %w", err)
	}
	if dn, dd := delta.Dims(); dn != n || dd != d {
		return nil, nil, dynamo.Shapef("dynamics returned %dx%d deltas, want %dx%d", dn, dd, n, d)
	}

	var next mat.Dense
	next.Add(x, delta)
	return &next, noise, nil
}
