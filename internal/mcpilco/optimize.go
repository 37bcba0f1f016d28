package mcpilco

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

// DefaultStep is the finite-difference step used for policy gradients.
const DefaultStep = 1e-5

// Objective is the loss as a function of the policy parameter vector. With
// common random numbers the function is deterministic, which makes central
// differences a valid gradient estimate.
type Objective struct {
	loss   *Loss
	policy Parametric
	in     Inputs
	step   float64

	evals int
	err   error
}

// Objective binds the loss to fixed inputs. The policy must be Parametric.
func (l *Loss) Objective(in Inputs) (*Objective, error) {
	p, ok := l.model.Policy.(Parametric)
	if !ok {
		return nil, dynamo.Configf("policy %T has no parameter vector", l.model.Policy)
	}
	return &Objective{loss: l, policy: p, in: in, step: DefaultStep}, nil
}

// SetStep changes the finite-difference step.
func (o *Objective) SetStep(h float64) {
	if h > 0 {
		o.step = h
	}
}

// Value sets the policy parameters to theta and evaluates the loss. The
// first failure is kept in Err and reported as +Inf.
func (o *Objective) Value(theta []float64) float64 {
	o.evals++
	if err := o.policy.SetParams(theta); err != nil {
		o.fail(err)
		return math.Inf(1)
	}
	res, err := o.loss.Evaluate(o.in)
	if err != nil {
		o.fail(err)
		return math.Inf(1)
	}
	return res.Loss
}

// Gradient writes the central-difference gradient at theta into grad.
func (o *Objective) Gradient(grad, theta []float64) {
	fd.Gradient(grad, o.Value, theta, &fd.Settings{
		Formula: fd.Central,
		Step:    o.step,
	})
}

// Evaluations is the number of loss evaluations so far.
func (o *Objective) Evaluations() int { return o.evals }

// Err returns the first evaluation failure.
func (o *Objective) Err() error { return o.err }

func (o *Objective) fail(err error) {
	if o.err == nil {
		o.err = err
	}
}

// Optimizer names accepted by OptimizeOptions.Method.
const (
	MethodBFGS       = "bfgs"
	MethodNelderMead = "neldermead"
)

// OptimizeOptions configures Optimize.
type OptimizeOptions struct {
	Method            string
	MaxIterations     int
	MaxEvaluations    int
	GradientThreshold float64
	Step              float64
}

// OptimizeResult summarises a policy search.
type OptimizeResult struct {
	Params      []float64
	Initial     float64
	Loss        float64
	Iterations  int
	Evaluations int
	Status      string
}

// Optimize minimises the loss over the policy parameters, starting from the
// current ones, and leaves the best parameters found in the policy.
func Optimize(ctx context.Context, l *Loss, in Inputs, opts OptimizeOptions) (*OptimizeResult, error) {
	obj, err := l.Objective(in)
	if err != nil {
		return nil, err
	}
	obj.SetStep(opts.Step)

	var method optimize.Method
	switch opts.Method {
	case "", MethodBFGS:
		method = &optimize.BFGS{}
	case MethodNelderMead:
		method = &optimize.NelderMead{}
	default:
		return nil, dynamo.Configf("unknown optimizer %q", opts.Method)
	}

	theta0 := obj.policy.Params()
	initial := obj.Value(theta0)
	if obj.Err() != nil {
		return nil, fmt.Errorf("initial evaluation: %w", obj.Err())
	}

	problem := optimize.Problem{
		Func: obj.Value,
		Grad: obj.Gradient,
		Status: func() (optimize.Status, error) {
			if err := ctx.Err(); err != nil {
				return optimize.Failure, err
			}
			if obj.Err() != nil {
				return optimize.Failure, obj.Err()
			}
			return optimize.NotTerminated, nil
		},
	}
	settings := &optimize.Settings{
		MajorIterations:   opts.MaxIterations,
		FuncEvaluations:   opts.MaxEvaluations,
		GradientThreshold: opts.GradientThreshold,
	}

	res, err := optimize.Minimize(problem, theta0, settings, method)
	if res == nil {
		if err == nil {
			err = errors.New("optimizer returned no result")
		}
		return nil, err
	}
	if obj.Err() != nil {
		return nil, obj.Err()
	}

	best := res.X
	loss := res.F
	if loss > initial || math.IsNaN(loss) {
		best, loss = theta0, initial
	}
	if err := obj.policy.SetParams(best); err != nil {
		return nil, err
	}
	out := &OptimizeResult{
		Params:      append([]float64(nil), best...),
		Initial:     initial,
		Loss:        loss,
		Iterations:  res.MajorIterations,
		Evaluations: obj.Evaluations(),
		Status:      res.Status.String(),
	}
	if err != nil && ctx.Err() == nil && !isLimit(res.Status) {
		return out, fmt.Errorf("optimize: %w", err)
	}
	return out, ctx.Err()
}

func isLimit(s optimize.Status) bool {
	switch s {
	case optimize.IterationLimit, optimize.FunctionEvaluationLimit, optimize.GradientEvaluationLimit, optimize.FunctionConvergence, optimize.GradientThreshold:
		return true
	}
	return false
}
