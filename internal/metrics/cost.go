package metrics

import (
	"github.com/san-kum/mcpilco/internal/cost"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// AccumulatedCost sums the point cost of every observed state, discounted
// the same way as a rollout: sample t is scaled by Gamma^(t+1).
type AccumulatedCost struct {
	Cost  cost.Func
	Gamma float64

	total   float64
	weight  float64
	last    float64
	samples int
	err     error
}

func NewAccumulatedCost(c cost.Func, gamma float64) *AccumulatedCost {
	return &AccumulatedCost{Cost: c, Gamma: gamma, weight: gamma}
}

func (a *AccumulatedCost) Name() string { return "accumulated_cost" }

func (a *AccumulatedCost) Observe(x dynamo.State, u dynamo.Control, t float64) {
	if a.err != nil {
		return
	}
	c, _, err := a.Cost(mat.NewVecDense(len(x), append([]float64(nil), x...)), nil)
	if err != nil {
		a.err = err
		return
	}
	a.last = c
	a.total += a.weight * c
	a.weight *= a.Gamma
	a.samples++
}

func (a *AccumulatedCost) Value() float64 { return a.total }

// Last is the undiscounted cost of the latest sample.
func (a *AccumulatedCost) Last() float64 { return a.last }

// Err reports the first cost evaluation failure.
func (a *AccumulatedCost) Err() error { return a.err }

func (a *AccumulatedCost) Reset() {
	a.total = 0
	a.weight = a.Gamma
	a.last = 0
	a.samples = 0
	a.err = nil
}
