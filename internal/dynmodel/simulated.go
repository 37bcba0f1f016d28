package dynmodel

import (
	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
)

// Simulated predicts deltas by integrating a known system over one
// control period. Angles are recovered from their (sin, cos) pairs before
// integration.
type Simulated struct {
	Sys        dynamo.System
	Integrator dynamo.Integrator
	Dt         float64
	Substeps   int
	AngleDims  []int
	// ProcessNoise is the standard deviation of additive Gaussian noise per
	// state dimension. Nil means noise-free.
	ProcessNoise []float64
	// MinChunk is the smallest number of particles handed to one goroutine.
	MinChunk int
}

// NewSimulated integrates sys with integ; angleDims must be valid for the
// system's state.
func NewSimulated(sys dynamo.System, integ dynamo.Integrator, dt float64, angleDims []int) (*Simulated, error) {
	if err := belief.ValidateAngleDims(angleDims, sys.StateDim()); err != nil {
		return nil, err
	}
	if dt <= 0 {
		return nil, dynamo.Configf("simulated model: dt must be positive, got %g", dt)
	}
	return &Simulated{
		Sys:        sys,
		Integrator: integ,
		Dt:         dt,
		Substeps:   1,
		AngleDims:  append([]int(nil), angleDims...),
		MinChunk:   16,
	}, nil
}

func (s *Simulated) stateDim() int { return s.Sys.StateDim() }

func (s *Simulated) InputDim() int {
	return belief.AugmentedDim(s.stateDim(), s.AngleDims) + s.Sys.ControlDim()
}

func (s *Simulated) OutputDim() int { return s.stateDim() }

func (s *Simulated) Predict(xu *mat.Dense, opts mcpilco.EvalOptions) (*mat.Dense, *mat.Dense, error) {
	n, c := xu.Dims()
	if c != s.InputDim() {
		return nil, nil, dynamo.Shapef("simulated model: input has %d columns, want %d", c, s.InputDim())
	}
	d := s.stateDim()
	da := belief.AugmentedDim(d, s.AngleDims)
	if s.ProcessNoise != nil && len(s.ProcessNoise) != d {
		return nil, nil, dynamo.Shapef("simulated model: %d noise scales for %d states", len(s.ProcessNoise), d)
	}
	substeps := s.Substeps
	if substeps < 1 {
		substeps = 1
	}
	h := s.Dt / float64(substeps)

	delta := mat.NewDense(n, d, nil)
	failed := make([]bool, n)
	dynamo.ParallelFor(n, s.MinChunk, func(start, end int) {
		for i := start; i < end; i++ {
			row := xu.RawRowView(i)
			x := belief.RestoreAngles(row[:da], d, s.AngleDims)
			u := dynamo.Control(append([]float64(nil), row[da:]...))
			next, err := s.advance(x, u, substeps, h)
			if err != nil || !next.IsValid() {
				failed[i] = true
				continue
			}
			for j := 0; j < d; j++ {
				delta.Set(i, j, next[j]-x[j])
			}
		}
	})
	for i, f := range failed {
		if f {
			return nil, nil, dynamo.Degeneracyf("simulated model: particle %d diverged", i)
		}
	}

	noise := mat.NewDense(n, d, nil)
	if s.ProcessNoise == nil {
		return delta, noise, nil
	}
	for i := 0; i < n; i++ {
		noise.SetRow(i, s.ProcessNoise)
	}
	if opts.Rand == nil {
		return delta, noise, nil
	}
	// Process noise is fresh for every particle and call; IIDPerEval does not apply.
	norm := distuv.Normal{Mu: 0, Sigma: 1, Src: opts.Rand}
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			delta.Set(i, j, delta.At(i, j)+s.ProcessNoise[j]*norm.Rand())
		}
	}
	return delta, noise, nil
}

// advance integrates one control period in substeps of h. Adaptive
// integrators report their own failures.
func (s *Simulated) advance(x dynamo.State, u dynamo.Control, substeps int, h float64) (dynamo.State, error) {
	adv, adaptive := s.Integrator.(dynamo.Advancer)
	next := x
	for k := 0; k < substeps; k++ {
		t := float64(k) * h
		if adaptive {
			var err error
			if next, err = adv.Advance(s.Sys, next, u, t, t+h); err != nil {
				return nil, err
			}
			continue
		}
		next = s.Integrator.Step(s.Sys, next, u, t, h)
	}
	return next, nil
}
