package mcpilco

import (
	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/cost"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// Model bundles what a rollout propagates and scores. D is the raw state
// dimension; AngleDims are augmented before the policy, the dynamics model
// and the cost see the state.
type Model struct {
	Policy    Policy
	Dynamics  Dynamics
	Cost      cost.Func
	D         int
	AngleDims []int
}

// RolloutOptions selects the optional behaviour of a rollout.
type RolloutOptions struct {
	// Resample re-projects the ensemble onto its moment-matched Gaussian
	// after every step, using the slice z[t].
	Resample bool
	// Intermediate records the diagnostics of the policy and dynamics after
	// every step.
	Intermediate bool
	Eval         EvalOptions
}

// Output holds a rollout indexed by (particle, step).
type Output struct {
	// MeanCosts[t] is the discounted cost of the step-t belief.
	MeanCosts []float64
	// Costs is n×H, the discounted point cost of every particle.
	Costs *mat.Dense
	// Trajectories[i] is the H×D path of particle i.
	Trajectories []*mat.Dense
	// Means and Covs are the empirical moments of the propagated ensemble
	// before resampling.
	Means []*mat.VecDense
	Covs  []*mat.SymDense
	// Intermediates[t] holds the diagnostics recorded after step t.
	Intermediates []map[string]*mat.Dense
}

// Rollout unrolls h steps from the ensemble x0. The discount applied to step
// t is gamma0^(t+1): each step emits gamma·cost with the current gamma and
// then multiplies gamma by gamma0. The returned updates are collected from
// Deferred components and must be applied by the caller only on success.
func Rollout(x0 *mat.Dense, h int, gamma0 float64, m Model, z []*mat.Dense, opts RolloutOptions) (*Output, []Update, error) {
	n, d := x0.Dims()
	if d != m.D {
		return nil, nil, &dynamo.BuildError{Op: "rollout", Step: -1, Err: dynamo.Shapef("initial particles have %d columns, want %d", d, m.D)}
	}
	if h < 1 {
		return nil, nil, &dynamo.BuildError{Op: "rollout", Step: -1, Err: dynamo.Configf("horizon %d must be positive", h)}
	}
	if opts.Resample {
		if len(z) < h {
			return nil, nil, &dynamo.BuildError{Op: "rollout", Step: -1, Err: dynamo.Shapef("%d noise slices for horizon %d", len(z), h)}
		}
		for t := 0; t < h; t++ {
			if zr, zc := z[t].Dims(); zr != n || zc != d {
				return nil, nil, &dynamo.BuildError{Op: "rollout", Step: t, Err: dynamo.Shapef("noise slice is %dx%d, want %dx%d", zr, zc, n, d)}
			}
		}
	}

	out := &Output{
		MeanCosts:    make([]float64, h),
		Costs:        mat.NewDense(n, h, nil),
		Trajectories: make([]*mat.Dense, n),
		Means:        make([]*mat.VecDense, h),
		Covs:         make([]*mat.SymDense, h),
	}
	for i := range out.Trajectories {
		out.Trajectories[i] = mat.NewDense(h, d, nil)
	}
	if opts.Intermediate {
		out.Intermediates = make([]map[string]*mat.Dense, h)
	}

	x := x0
	gamma := gamma0
	for t := 0; t < h; t++ {
		next, mx, sx, mc, pc, err := step(x, m, z, t, opts)
		if err != nil {
			return nil, nil, &dynamo.BuildError{Op: "rollout", Step: t, Err: err}
		}

		out.MeanCosts[t] = gamma * mc
		for i := 0; i < n; i++ {
			out.Costs.Set(i, t, gamma*pc[i])
			out.Trajectories[i].SetRow(t, next.RawRowView(i))
		}
		out.Means[t] = mx
		out.Covs[t] = sx
		if opts.Intermediate {
			out.Intermediates[t] = diagnostics(m)
		}

		gamma *= gamma0
		x = next
	}

	var updates []Update
	for _, c := range []any{m.Policy, m.Dynamics} {
		if p, ok := c.(Deferred); ok {
			updates = append(updates, p.Pending()...)
		}
	}
	return out, updates, nil
}

func step(x *mat.Dense, m Model, z []*mat.Dense, t int, opts RolloutOptions) (*mat.Dense, *mat.VecDense, *mat.SymDense, float64, []float64, error) {
	next, _, err := PropagateParticles(x, m.Policy, m.Dynamics, m.D, m.AngleDims, opts.Eval)
	if err != nil {
		return nil, nil, nil, 0, nil, err
	}

	mx, sx := belief.Empirical(next)
	mc, _, err := m.Cost(mx, sx)
	if err != nil {
		return nil, nil, nil, 0, nil, err
	}
	pc, err := cost.Batch(m.Cost, next)
	if err != nil {
		return nil, nil, nil, 0, nil, err
	}

	if opts.Resample {
		l, err := belief.JitterCholesky(sx)
		if err != nil {
			return nil, nil, nil, 0, nil, err
		}
		if next, err = belief.Sample(mx, l, z[t]); err != nil {
			return nil, nil, nil, 0, nil, err
		}
	}
	return next, mx, sx, mc, pc, nil
}

func diagnostics(m Model) map[string]*mat.Dense {
	rec := make(map[string]*mat.Dense)
	for prefix, c := range map[string]any{"policy": m.Policy, "dynamics": m.Dynamics} {
		d, ok := c.(Diagnostics)
		if !ok {
			continue
		}
		for k, v := range d.IntermediateOutputs() {
			rec[prefix+"/"+k] = mat.DenseCopyOf(v)
		}
	}
	return rec
}
