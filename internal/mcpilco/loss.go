package mcpilco

import (
	"fmt"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/cost"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// LossOptions configures GetLoss.
type LossOptions struct {
	NSamples int
	// IntermediateOutputs returns per-particle costs, trajectories and
	// component diagnostics alongside the scalar loss.
	IntermediateOutputs bool
	ResampleParticles   bool
	// CRN reuses one buffer of noise slices and one model stream for every
	// evaluation. Without it each evaluation draws fresh noise.
	CRN bool
	// ResampleDynamics draws independent model and policy noise for every
	// particle at every step.
	ResampleDynamics bool
	// Average reduces the per-step costs by their mean instead of their sum.
	Average  bool
	Seed     uint64
	Capacity int
}

// DefaultLossOptions returns 50 particles with resampling, common random
// numbers and averaging enabled.
func DefaultLossOptions() LossOptions {
	return LossOptions{
		NSamples:          50,
		ResampleParticles: true,
		CRN:               true,
		Average:           true,
		Seed:              1,
		Capacity:          DefaultCapacity,
	}
}

// Inputs are the arguments of one loss evaluation.
type Inputs struct {
	Mx0   *mat.VecDense
	Sx0   *mat.SymDense
	H     int
	Gamma float64
}

// Result is the outcome of one loss evaluation. Costs, Trajectories and
// Rollout are only set when intermediate outputs were requested.
type Result struct {
	Loss         float64
	Costs        *mat.Dense
	Trajectories []*mat.Dense
	Rollout      *Output
}

// Loss is a validated rollout objective. It owns its noise buffer and is not
// safe for concurrent use.
type Loss struct {
	model Model
	opts  LossOptions
	buf   *Buffer
	// evals counts committed evaluations; it selects the stream when CRN
	// is off.
	evals uint64
}

// GetLoss checks that the policy, dynamics model and state dimension fit
// together and returns the objective. Components implementing Resizer are
// resized to opts.NSamples first.
func GetLoss(pol Policy, dyn Dynamics, c cost.Func, d int, angleDims []int, opts LossOptions) (*Loss, error) {
	if opts.NSamples < 1 {
		return nil, &dynamo.BuildError{Op: "get loss", Step: -1, Err: dynamo.Configf("need at least one particle, got %d", opts.NSamples)}
	}
	if opts.Capacity < 1 {
		opts.Capacity = DefaultCapacity
	}
	if err := belief.ValidateAngleDims(angleDims, d); err != nil {
		return nil, &dynamo.BuildError{Op: "get loss", Step: -1, Err: err}
	}
	for _, comp := range []any{dyn, pol} {
		if r, ok := comp.(Resizer); ok {
			if err := r.Update(opts.NSamples); err != nil {
				return nil, &dynamo.BuildError{Op: "get loss", Step: -1, Err: fmt.Errorf("resize: %w", err)}
			}
		}
	}

	da := belief.AugmentedDim(d, angleDims)
	switch {
	case pol.InputDim() != da:
		return nil, &dynamo.BuildError{Op: "get loss", Step: -1, Err: dynamo.Shapef("policy takes %d inputs, augmented state has %d", pol.InputDim(), da)}
	case dyn.InputDim() != da+pol.OutputDim():
		return nil, &dynamo.BuildError{Op: "get loss", Step: -1, Err: dynamo.Shapef("dynamics takes %d inputs, want %d states + %d controls", dyn.InputDim(), da, pol.OutputDim())}
	case dyn.OutputDim() != d:
		return nil, &dynamo.BuildError{Op: "get loss", Step: -1, Err: dynamo.Shapef("dynamics predicts %d deltas, state has %d", dyn.OutputDim(), d)}
	}

	l := &Loss{
		model: Model{Policy: pol, Dynamics: dyn, Cost: c, D: d, AngleDims: append([]int(nil), angleDims...)},
		opts:  opts,
	}
	if opts.CRN {
		l.buf = NewBuffer(opts.Capacity, opts.NSamples, d, rand.NewSource(opts.Seed))
	}
	return l, nil
}

// Model returns the components the loss was built from.
func (l *Loss) Model() Model { return l.model }

// Options returns the options the loss was built with.
func (l *Loss) Options() LossOptions { return l.opts }

// Buffer returns the common random numbers, or nil when CRN is off.
func (l *Loss) Buffer() *Buffer { return l.buf }

// Evaluate samples the initial ensemble mx0 + z[0]·chol(Sx0)ᵀ, unrolls the
// horizon and reduces the per-step costs. State changes prepared during the
// evaluation are committed only when it succeeds.
func (l *Loss) Evaluate(in Inputs) (*Result, error) {
	d := l.model.D
	if in.Mx0 == nil || in.Sx0 == nil {
		return nil, &dynamo.BuildError{Op: "evaluate", Step: -1, Err: dynamo.Configf("initial mean and covariance are required")}
	}
	if in.Mx0.Len() != d || in.Sx0.SymmetricDim() != d {
		return nil, &dynamo.BuildError{Op: "evaluate", Step: -1, Err: dynamo.Shapef("initial belief has dims %d and %d, want %d", in.Mx0.Len(), in.Sx0.SymmetricDim(), d)}
	}
	if in.H < 1 {
		return nil, &dynamo.BuildError{Op: "evaluate", Step: -1, Err: dynamo.Configf("horizon %d must be positive", in.H)}
	}
	l0, ok := belief.Cholesky(in.Sx0)
	if !ok {
		return nil, &dynamo.BuildError{Op: "evaluate", Step: -1, Err: dynamo.Configf("initial covariance is not positive definite")}
	}

	var updates []Update
	var z []*mat.Dense
	var stream *rand.Rand
	if l.opts.CRN {
		var grown *Buffer
		z, grown = l.buf.Slices(in.H)
		if grown != nil {
			updates = append(updates, Update{Name: "crn/grow", Apply: func() { l.buf = grown }})
		}
		stream = rand.New(rand.NewSource(l.opts.Seed + 1))
	} else {
		seed := l.opts.Seed + 1 + l.evals
		z = drawSlices(in.H, l.opts.NSamples, d, rand.NewSource(seed))
		stream = rand.New(rand.NewSource(seed ^ 0x9e3779b97f4a7c15))
		updates = append(updates, Update{Name: "stream/advance", Apply: func() { l.evals++ }})
	}

	x0, err := belief.Sample(in.Mx0, l0, z[0])
	if err != nil {
		return nil, &dynamo.BuildError{Op: "evaluate", Step: -1, Err: err}
	}

	out, pending, err := Rollout(x0, in.H, in.Gamma, l.model, z, RolloutOptions{
		Resample:     l.opts.ResampleParticles,
		Intermediate: l.opts.IntermediateOutputs,
		Eval:         EvalOptions{IIDPerEval: l.opts.ResampleDynamics, Rand: stream},
	})
	if err != nil {
		return nil, err
	}
	applyUpdates(append(updates, pending...))

	res := &Result{Loss: floats.Sum(out.MeanCosts)}
	if l.opts.Average {
		res.Loss /= float64(in.H)
	}
	if l.opts.IntermediateOutputs {
		res.Costs = out.Costs
		res.Trajectories = out.Trajectories
		res.Rollout = out
	}
	return res, nil
}

// RolloutFunc evaluates a rollout from plain slices and returns the loss,
// the n×H per-particle costs and the n trajectories of shape H×D.
type RolloutFunc func(mx0 []float64, sx0 [][]float64, h int, gamma float64) (float64, *mat.Dense, []*mat.Dense, error)

// BuildRollout is GetLoss with intermediate outputs forced on, wrapped so
// that inputs can be given as slices.
func BuildRollout(pol Policy, dyn Dynamics, c cost.Func, d int, angleDims []int, opts LossOptions) (RolloutFunc, error) {
	opts.IntermediateOutputs = true
	l, err := GetLoss(pol, dyn, c, d, angleDims, opts)
	if err != nil {
		return nil, err
	}
	return func(mx0 []float64, sx0 [][]float64, h int, gamma float64) (float64, *mat.Dense, []*mat.Dense, error) {
		g, err := belief.NewGaussian(mx0, sx0)
		if err != nil {
			return 0, nil, nil, &dynamo.BuildError{Op: "rollout inputs", Step: -1, Err: err}
		}
		res, err := l.Evaluate(Inputs{Mx0: g.Mean, Sx0: g.Cov, H: h, Gamma: gamma})
		if err != nil {
			return 0, nil, nil, err
		}
		return res.Loss, res.Costs, res.Trajectories, nil
	}, nil
}
