package mcpilco

import (
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// EvalOptions controls sampling inside stochastic policies and dynamics
// models during one evaluation.
type EvalOptions struct {
	// IIDPerEval draws an independent sample for every particle on every
	// call. Otherwise particles reuse the draws fixed for the ensemble.
	IIDPerEval bool
	// Rand is the random stream for this evaluation. Nil means the
	// component must behave deterministically.
	Rand *rand.Rand
}

// Policy maps a batch of angle-augmented states (n×InputDim) to controls
// (n×OutputDim).
type Policy interface {
	Evaluate(xa *mat.Dense, opts EvalOptions) (*mat.Dense, error)
	InputDim() int
	OutputDim() int
}

// Dynamics predicts state deltas (n×OutputDim) and their noise scale for a
// batch of [xa, u] rows (n×InputDim).
type Dynamics interface {
	Predict(xu *mat.Dense, opts EvalOptions) (delta, noise *mat.Dense, err error)
	InputDim() int
	OutputDim() int
}

// Resizer is implemented by components holding per-particle state that must
// match the ensemble size.
type Resizer interface {
	Update(n int) error
}

// Diagnostics is implemented by components that expose intermediate values
// of their last evaluation.
type Diagnostics interface {
	IntermediateOutputs() map[string]*mat.Dense
}

// Deferred is implemented by components whose evaluation prepares state
// changes that may only be committed once a whole rollout has succeeded.
type Deferred interface {
	Pending() []Update
}

// Parametric exposes a flat parameter vector for optimisation.
type Parametric interface {
	Params() []float64
	SetParams(theta []float64) error
}

// Update is a deferred state change.
type Update struct {
	Name  string
	Apply func()
}

func applyUpdates(updates []Update) {
	for _, u := range updates {
		u.Apply()
	}
}
