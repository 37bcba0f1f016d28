// Package plant runs controllers on a simulated system one control period
// at a time and records the resulting episodes.
package plant

import (
	"fmt"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/cost"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/integrators"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Plant is a system that can be driven by piecewise-constant controls.
type Plant interface {
	// GetState returns the current state and time. A noisy read adds
	// measurement noise.
	GetState(noisy bool) (dynamo.State, float64)
	// ApplyControl holds u for one control period.
	ApplyControl(u dynamo.Control) error
	Reset(x0 dynamo.State) error
	Dt() float64
	StateDim() int
	ControlDim() int
}

// ODEPlant integrates a dynamo.System with adaptive Runge-Kutta steps over
// each control period.
type ODEPlant struct {
	sys   dynamo.System
	integ dynamo.Advancer
	dt    float64

	// Cost, when set, is evaluated by Step at the state reached.
	Cost cost.Func

	// MeasurementNoise is the standard deviation of additive noise on a
	// noisy read, per state dimension.
	MeasurementNoise []float64
	AngleDims        []int

	x    dynamo.State
	t    float64
	norm distuv.Normal
}

func NewODEPlant(sys dynamo.System, dt float64, src rand.Source) (*ODEPlant, error) {
	return NewODEPlantWith(sys, integrators.NewRK45Tol(1e-10, 1e-8), dt, src)
}

// NewODEPlantWith is NewODEPlant with a caller-chosen integrator.
func NewODEPlantWith(sys dynamo.System, integ dynamo.Advancer, dt float64, src rand.Source) (*ODEPlant, error) {
	if dt <= 0 {
		return nil, dynamo.Configf("plant: dt must be positive, got %g", dt)
	}
	if integ == nil {
		return nil, dynamo.Configf("plant: integrator is required")
	}
	return &ODEPlant{
		sys:   sys,
		integ: integ,
		dt:    dt,
		x:     make(dynamo.State, sys.StateDim()),
		norm:  distuv.Normal{Mu: 0, Sigma: 1, Src: src},
	}, nil
}

func (p *ODEPlant) Dt() float64     { return p.dt }
func (p *ODEPlant) StateDim() int   { return p.sys.StateDim() }
func (p *ODEPlant) ControlDim() int { return p.sys.ControlDim() }
func (p *ODEPlant) System() dynamo.System {
	return p.sys
}

func (p *ODEPlant) GetState(noisy bool) (dynamo.State, float64) {
	x := p.x.Clone()
	if noisy {
		for i := range x {
			if i < len(p.MeasurementNoise) {
				x[i] += p.MeasurementNoise[i] * p.norm.Rand()
			}
		}
	}
	return x, p.t
}

// AugmentedState is GetState followed by angle augmentation.
func (p *ODEPlant) AugmentedState(noisy bool) ([]float64, float64) {
	x, t := p.GetState(noisy)
	xa := belief.AugmentPoint(vec(x), p.AngleDims)
	return xa.RawVector().Data, t
}

func (p *ODEPlant) SetState(x dynamo.State) error {
	if len(x) != p.sys.StateDim() {
		return fmt.Errorf("plant: %w: state has %d entries, want %d", dynamo.ErrDimensionMismatch, len(x), p.sys.StateDim())
	}
	if !x.IsValid() {
		return fmt.Errorf("plant: %w", dynamo.ErrInvalidState)
	}
	p.x = x.Clone()
	return nil
}

func (p *ODEPlant) Reset(x0 dynamo.State) error {
	if err := p.SetState(x0); err != nil {
		return err
	}
	p.t = 0
	return nil
}

func (p *ODEPlant) ApplyControl(u dynamo.Control) error {
	if len(u) != p.sys.ControlDim() {
		return fmt.Errorf("plant: %w: control has %d entries, want %d", dynamo.ErrDimensionMismatch, len(u), p.sys.ControlDim())
	}
	next, err := p.integ.Advance(p.sys, p.x, u, p.t, p.t+p.dt)
	if err != nil {
		return fmt.Errorf("plant: %w", err)
	}
	p.x = next
	p.t += p.dt
	return nil
}

// Step holds u for one control period and returns the true state reached
// with its cost. The cost is zero when no Cost is set.
func (p *ODEPlant) Step(u dynamo.Control) (dynamo.State, float64, error) {
	if err := p.ApplyControl(u); err != nil {
		return nil, 0, err
	}
	x := p.x.Clone()
	if p.Cost == nil {
		return x, 0, nil
	}
	c, _, err := p.Cost(vec(x), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("plant: cost at t=%.4f: %w", p.t, err)
	}
	return x, c, nil
}
