// Package experiment assembles the components of a learning setup from a
// config: the plant, cost, policy, dynamics model and controllers.
package experiment

import (
	"fmt"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/config"
	"github.com/san-kum/mcpilco/internal/control"
	"github.com/san-kum/mcpilco/internal/cost"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/dynmodel"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"github.com/san-kum/mcpilco/internal/metrics"
	"github.com/san-kum/mcpilco/internal/physics"
	"github.com/san-kum/mcpilco/internal/plant"
	"github.com/san-kum/mcpilco/internal/policy"
	"github.com/san-kum/mcpilco/internal/storage"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Seed offsets separate the random streams of the components built from
// one config seed.
const (
	seedPolicy uint64 = iota + 2
	seedModel
	seedPlant
	seedExplore
)

// Setup is a fully wired learning problem.
type Setup struct {
	Config     *config.Config
	System     dynamo.System
	Integrator dynamo.Integrator
	Cost       cost.Func
	Policy     mcpilco.Policy
	Dynamics   mcpilco.Dynamics
	Plant      *plant.ODEPlant
}

// Build validates cfg and constructs every component it names.
func Build(cfg *config.Config, r *Registry) (*Setup, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	sys, err := r.GetSystem(cfg.System)
	if err != nil {
		return nil, err
	}
	if sys.StateDim() != cfg.StateDim() {
		return nil, dynamo.Configf("system %s has %d states, config expects %d", cfg.System, sys.StateDim(), cfg.StateDim())
	}
	if len(cfg.Policy.MaxU) != sys.ControlDim() {
		return nil, dynamo.Configf("policy max_u has %d entries, system has %d controls", len(cfg.Policy.MaxU), sys.ControlDim())
	}
	if len(cfg.Physics) > 0 {
		c, ok := sys.(dynamo.Configurable)
		if !ok {
			return nil, dynamo.Configf("system %s has no tunable parameters", cfg.System)
		}
		for name, v := range cfg.Physics {
			if err := c.SetParam(name, v); err != nil {
				return nil, fmt.Errorf("physics: %w", err)
			}
		}
	}
	integ, err := r.GetIntegrator(cfg.Integrator)
	if err != nil {
		return nil, err
	}

	s := &Setup{Config: cfg, System: sys, Integrator: integ}
	if s.Cost, err = s.buildCost(); err != nil {
		return nil, err
	}
	if s.Policy, err = s.buildPolicy(); err != nil {
		return nil, err
	}
	if s.Dynamics, err = s.buildDynamics(); err != nil {
		return nil, err
	}

	p, err := plant.NewODEPlant(sys, cfg.Dt, rand.NewSource(cfg.Seed+seedPlant))
	if err != nil {
		return nil, err
	}
	p.MeasurementNoise = cfg.Plant.MeasurementNoise
	p.AngleDims = cfg.AngleDims
	s.Plant = p
	return s, nil
}

// StateDim is the raw state dimension D.
func (s *Setup) StateDim() int { return s.System.StateDim() }

// AugmentedDim is the state dimension after angle augmentation.
func (s *Setup) AugmentedDim() int {
	return belief.AugmentedDim(s.StateDim(), s.Config.AngleDims)
}

func (s *Setup) buildCost() (cost.Func, error) {
	c := s.Config.Cost
	d := s.StateDim()
	switch c.Kind {
	case "cartpole":
		cp, ok := s.System.(*physics.CartPole)
		if !ok {
			return nil, dynamo.Configf("cartpole cost needs the cartpole system, got %s", s.Config.System)
		}
		return cost.Cartpole(cost.CartpoleParams{
			Target:      c.Target,
			AngleDims:   s.Config.AngleDims,
			PoleLength:  cp.PoleLength,
			Widths:      c.Widths,
			Exploration: c.Exploration,
		})
	case "saturating", "quadratic":
		da := s.AugmentedDim()
		if len(c.Weights) != da {
			return nil, dynamo.Configf("%s cost needs %d weights, got %d", c.Kind, da, len(c.Weights))
		}
		q := mat.NewDense(da, da, nil)
		for i, w := range c.Weights {
			q.Set(i, i, w)
		}
		target := belief.AugmentPoint(mat.NewVecDense(d, append([]float64(nil), c.Target...)), s.Config.AngleDims)
		shape := cost.QuadraticSaturatingLoss
		if c.Kind == "quadratic" {
			shape = cost.QuadraticLoss
		}
		return cost.Generic(shape, cost.Params{Q: q, Target: target}, s.Config.AngleDims, d)
	default:
		return nil, dynamo.Configf("unknown cost %q", c.Kind)
	}
}

func (s *Setup) buildPolicy() (mcpilco.Policy, error) {
	pc := s.Config.Policy
	in := s.AugmentedDim()
	var p mcpilco.Policy
	switch pc.Kind {
	case "linear":
		p = policy.NewLinear(in, pc.MaxU, pc.Saturate)
	case "rbf":
		if pc.Centers < 1 {
			return nil, dynamo.Configf("rbf policy needs at least one center, got %d", pc.Centers)
		}
		rbf := policy.NewRBF(in, pc.Centers, pc.MaxU, rand.NewSource(s.Config.Seed+seedPolicy))
		if !pc.Saturate {
			rbf.MaxU = nil
		}
		p = rbf
	default:
		return nil, dynamo.Configf("unknown policy %q", pc.Kind)
	}
	if pc.NoiseStd > 0 {
		sigma := make([]float64, len(pc.MaxU))
		for i := range sigma {
			sigma[i] = pc.NoiseStd
		}
		p = &policy.Noisy{Inner: p, Sigma: sigma}
	}
	return p, nil
}

func (s *Setup) buildDynamics() (mcpilco.Dynamics, error) {
	mc := s.Config.Model
	switch mc.Kind {
	case "linear":
		return dynmodel.NewLinearGaussian(s.AugmentedDim()+s.System.ControlDim(), s.StateDim(), mc.Ridge, s.Config.Seed+seedModel), nil
	case "simulated":
		m, err := dynmodel.NewSimulated(s.System, s.Integrator, s.Config.Dt, s.Config.AngleDims)
		if err != nil {
			return nil, err
		}
		m.Substeps = mc.Substeps
		m.ProcessNoise = mc.ProcessNoise
		return m, nil
	default:
		return nil, dynamo.Configf("unknown dynamics model %q", mc.Kind)
	}
}

// Controller builds a plant controller by name: none, random, lqr or
// policy.
func (s *Setup) Controller(name string) (dynamo.Controller, error) {
	switch name {
	case "none":
		return control.NewNone(s.System.ControlDim()), nil
	case "random":
		r := control.NewRandom(s.Config.Policy.MaxU, rand.NewSource(s.Config.Seed+seedExplore))
		r.Hold = s.Config.Explore.Hold
		return r, nil
	case "lqr":
		if s.Config.System != "cartpole" {
			return nil, fmt.Errorf("no lqr gains for system: %s", s.Config.System)
		}
		l := control.NewCartPoleLQR()
		l.MaxU = s.Config.Policy.MaxU
		return l, nil
	case "policy":
		return control.NewPolicy(s.Policy, s.Config.AngleDims), nil
	default:
		return nil, fmt.Errorf("unknown controller: %s", name)
	}
}

// Metrics returns the default episode metrics for the setup.
func (s *Setup) Metrics() []dynamo.Metric {
	ms := []dynamo.Metric{
		metrics.NewControlEffort(),
		metrics.NewAccumulatedCost(s.Cost, s.Config.Cost.Gamma),
	}
	if len(s.Config.AngleDims) > 0 {
		a := s.Config.AngleDims[len(s.Config.AngleDims)-1]
		ms = append(ms, metrics.NewUpright(a, s.Config.Cost.Target[a], 0.2))
	}
	if e, ok := s.System.(metrics.EnergySystem); ok {
		ms = append(ms, metrics.NewEnergyDrift(e))
	}
	return ms
}

// LossOptions maps the loss section of the config onto the builder options.
func (s *Setup) LossOptions() mcpilco.LossOptions {
	lc := s.Config.Loss
	return mcpilco.LossOptions{
		NSamples:          lc.Particles,
		ResampleParticles: lc.Resample,
		CRN:               lc.CRN,
		ResampleDynamics:  lc.IIDNoise,
		Average:           lc.Average,
		Seed:              s.Config.Seed,
		Capacity:          lc.Capacity,
	}
}

// Inputs returns the initial belief, horizon and discount of the config.
func (s *Setup) Inputs() mcpilco.Inputs {
	mx0, sx0 := s.Config.InitialBelief()
	return mcpilco.Inputs{Mx0: mx0, Sx0: sx0, H: s.Config.Horizon, Gamma: s.Config.Cost.Gamma}
}

// SampleInitialState draws a plant start state from the initial belief.
func (s *Setup) SampleInitialState(rng *rand.Rand) dynamo.State {
	x := make(dynamo.State, len(s.Config.Init.Mean))
	for i, m := range s.Config.Init.Mean {
		x[i] = m + s.Config.Init.Std[i]*rng.NormFloat64()
	}
	return x
}

// Stateful lists the components whose state is saved with a run, keyed by
// snapshot name.
func (s *Setup) Stateful() map[string]storage.Stateful {
	out := make(map[string]storage.Stateful)
	p := s.Policy
	if n, ok := p.(*policy.Noisy); ok {
		p = n.Inner
	}
	if st, ok := p.(storage.Stateful); ok {
		out["policy"] = st
	}
	if st, ok := s.Dynamics.(storage.Stateful); ok {
		out["dynamics"] = st
	}
	return out
}
