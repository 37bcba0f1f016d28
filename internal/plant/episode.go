package plant

import (
	"context"
	"fmt"

	"github.com/san-kum/mcpilco/internal/cost"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/experience"
	"gonum.org/v1/gonum/mat"
)

// Runner drives a plant with a controller and feeds every sample to its
// metrics and observers.
type Runner struct {
	plant     Plant
	metrics   []dynamo.Metric
	observers []dynamo.Observer

	// Noisy makes the controller see measured rather than true states.
	Noisy bool
	// Cost, when set, is evaluated at every recorded state.
	Cost cost.Func
}

func NewRunner(p Plant) *Runner {
	return &Runner{plant: p}
}

func (r *Runner) AddMetric(m dynamo.Metric)     { r.metrics = append(r.metrics, m) }
func (r *Runner) AddObserver(o dynamo.Observer) { r.observers = append(r.observers, o) }

// Result is a recorded episode with the final metric values.
type Result struct {
	Episode experience.Episode
	Metrics map[string]float64
}

// Run resets the plant to x0 and applies steps controls. On failure the
// states recorded so far are returned with the error.
func (r *Runner) Run(ctx context.Context, x0 dynamo.State, ctrl dynamo.Controller, steps int) (*Result, error) {
	if steps < 1 {
		return nil, dynamo.Configf("plant: steps must be positive, got %d", steps)
	}
	if err := r.plant.Reset(x0); err != nil {
		return nil, err
	}
	for _, m := range r.metrics {
		m.Reset()
	}

	res := &Result{
		Episode: experience.Episode{
			States:   make([]dynamo.State, 0, steps+1),
			Controls: make([]dynamo.Control, 0, steps),
			Times:    make([]float64, 0, steps+1),
			Costs:    make([]float64, 0, steps+1),
		},
		Metrics: make(map[string]float64),
	}

	record := func() (dynamo.State, float64, error) {
		x, t := r.plant.GetState(r.Noisy)
		res.Episode.States = append(res.Episode.States, x)
		res.Episode.Times = append(res.Episode.Times, t)
		if r.Cost != nil {
			c, _, err := r.Cost(vec(x), nil)
			if err != nil {
				return nil, 0, fmt.Errorf("plant: cost at t=%.4f: %w", t, err)
			}
			res.Episode.Costs = append(res.Episode.Costs, c)
		}
		return x, t, nil
	}

	x, t, err := record()
	if err != nil {
		return res, err
	}
	for i := 0; i < steps; i++ {
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		default:
		}

		u := ctrl.Compute(x, t)
		for _, m := range r.metrics {
			m.Observe(x, u, t)
		}
		for _, obs := range r.observers {
			obs.OnStep(x, u, t)
		}

		if err := r.plant.ApplyControl(u); err != nil {
			return res, fmt.Errorf("step %d (t=%.4f): %w", i, t, err)
		}
		res.Episode.Controls = append(res.Episode.Controls, u)
		if x, t, err = record(); err != nil {
			return res, err
		}
	}

	for _, m := range r.metrics {
		res.Metrics[m.Name()] = m.Value()
	}
	return res, nil
}

// RunEpisode runs ctrl on p from its current state for steps control
// periods, notifying observers, without metrics or costs.
func RunEpisode(ctx context.Context, p Plant, ctrl dynamo.Controller, steps int, observers ...dynamo.Observer) (experience.Episode, error) {
	x0, _ := p.GetState(false)
	r := NewRunner(p)
	for _, o := range observers {
		r.AddObserver(o)
	}
	res, err := r.Run(ctx, x0, ctrl, steps)
	if res == nil {
		return experience.Episode{}, err
	}
	return res.Episode, err
}

func vec(x dynamo.State) *mat.VecDense {
	return mat.NewVecDense(len(x), x.Clone())
}
