// Package optim searches physics parameter grids, scoring each point by
// running a controller on the plant built with those parameters.
package optim

import (
	"context"
	"math"

	"github.com/san-kum/mcpilco/internal/config"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/experiment"
	"github.com/san-kum/mcpilco/internal/plant"
)

// Evaluate scores one grid point. Lower is better.
type Evaluate func(ctx context.Context, params map[string]float64) (float64, error)

// Point is one evaluated grid point. Failed points carry Err and an
// infinite Value.
type Point struct {
	Params map[string]float64
	Value  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
}

func NewGridSearch(params []string, ranges [][]float64) (*GridSearch, error) {
	if len(params) == 0 || len(params) != len(ranges) {
		return nil, dynamo.Configf("grid: %d parameter names for %d ranges", len(params), len(ranges))
	}
	for i, r := range ranges {
		if len(r) == 0 {
			return nil, dynamo.Configf("grid: parameter %s has no values", params[i])
		}
	}
	return &GridSearch{paramNames: params, ranges: ranges}, nil
}

// Size is the number of grid points.
func (g *GridSearch) Size() int {
	n := 1
	for _, r := range g.ranges {
		n *= len(r)
	}
	return n
}

// Search evaluates every grid point in order and returns them with the
// best one. Only cancellation stops the search early.
func (g *GridSearch) Search(ctx context.Context, eval Evaluate) ([]Point, Point, error) {
	points := make([]Point, 0, g.Size())
	best := Point{Value: math.Inf(1)}
	err := g.searchRecursive(ctx, 0, make(map[string]float64), eval, func(p Point) {
		points = append(points, p)
		if p.Err == nil && p.Value < best.Value {
			best = p
		}
	})
	return points, best, err
}

func (g *GridSearch) searchRecursive(ctx context.Context, depth int, current map[string]float64, eval Evaluate, emit func(Point)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		v, err := eval(ctx, current)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			v = math.Inf(1)
		}
		emit(Point{Params: current, Value: v, Err: err})
		return nil
	}

	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		next := make(map[string]float64, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[name] = val
		if err := g.searchRecursive(ctx, depth+1, next, eval, emit); err != nil {
			return err
		}
	}
	return nil
}

// PlantMetric scores a grid point by building cfg with the point's physics
// overrides, running the named controller for one horizon from the mean
// initial state, and reading the named episode metric. Prepare, when set,
// runs on each setup before the episode, e.g. to restore a trained policy.
func PlantMetric(cfg *config.Config, r *experiment.Registry, controller, metric string, prepare func(*experiment.Setup) error) Evaluate {
	return func(ctx context.Context, params map[string]float64) (float64, error) {
		c := cfg.Clone()
		if c.Physics == nil {
			c.Physics = make(map[string]float64, len(params))
		}
		for k, v := range params {
			c.Physics[k] = v
		}
		s, err := experiment.Build(c, r)
		if err != nil {
			return 0, err
		}
		if prepare != nil {
			if err := prepare(s); err != nil {
				return 0, err
			}
		}
		ctrl, err := s.Controller(controller)
		if err != nil {
			return 0, err
		}
		runner := plant.NewRunner(s.Plant)
		runner.Cost = s.Cost
		for _, m := range s.Metrics() {
			runner.AddMetric(m)
		}
		res, err := runner.Run(ctx, dynamo.State(c.Init.Mean).Clone(), ctrl, c.Horizon)
		if err != nil {
			return 0, err
		}
		v, ok := res.Metrics[metric]
		if !ok {
			return 0, dynamo.Configf("grid: no episode metric %q", metric)
		}
		return v, nil
	}
}
