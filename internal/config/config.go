package config

import (
	"fmt"
	"maps"
	"os"
	"slices"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDt         = 0.05
	DefaultHorizon    = 40
	DefaultIterations = 5
	DefaultParticles  = 50
	DefaultGamma      = 1.0
	DefaultCenters    = 50
	DefaultRidge      = 1e-3
)

// Config describes one learning setup: the plant, the cost, the policy,
// the dynamics model and the particle loss.
type Config struct {
	System     string             `yaml:"system"`
	Integrator string             `yaml:"integrator"`
	Controller string             `yaml:"controller"`
	Dt         float64            `yaml:"dt"`
	Horizon    int                `yaml:"horizon"`
	Iterations int                `yaml:"iterations"`
	Seed       uint64             `yaml:"seed"`
	AngleDims  []int              `yaml:"angle_dims"`
	Physics    map[string]float64 `yaml:"physics,omitempty"`
	Init       InitConfig         `yaml:"init"`
	Plant      PlantConfig        `yaml:"plant"`
	Cost       CostConfig         `yaml:"cost"`
	Policy     PolicyConfig       `yaml:"policy"`
	Model      ModelConfig        `yaml:"model"`
	Loss       LossConfig         `yaml:"loss"`
	Optim      OptimConfig        `yaml:"optim"`
	Explore    ExploreConfig      `yaml:"explore"`
}

// InitConfig is the initial state belief N(Mean, diag(Std²)).
type InitConfig struct {
	Mean []float64 `yaml:"mean"`
	Std  []float64 `yaml:"std"`
}

type PlantConfig struct {
	MeasurementNoise []float64 `yaml:"measurement_noise,omitempty"`
}

type CostConfig struct {
	Kind        string    `yaml:"kind"`
	Target      []float64 `yaml:"target"`
	Weights     []float64 `yaml:"weights,omitempty"`
	Widths      []float64 `yaml:"widths,omitempty"`
	Exploration float64   `yaml:"exploration,omitempty"`
	Gamma       float64   `yaml:"gamma"`
}

type PolicyConfig struct {
	Kind     string    `yaml:"kind"`
	Centers  int       `yaml:"centers,omitempty"`
	MaxU     []float64 `yaml:"max_u"`
	Saturate bool      `yaml:"saturate"`
	NoiseStd float64   `yaml:"noise_std,omitempty"`
}

type ModelConfig struct {
	Kind         string    `yaml:"kind"`
	Ridge        float64   `yaml:"ridge,omitempty"`
	ProcessNoise []float64 `yaml:"process_noise,omitempty"`
	Substeps     int       `yaml:"substeps,omitempty"`
}

type LossConfig struct {
	Particles int  `yaml:"particles"`
	CRN       bool `yaml:"crn"`
	Resample  bool `yaml:"resample"`
	Average   bool `yaml:"average"`
	IIDNoise  bool `yaml:"iid_noise"`
	Capacity  int  `yaml:"capacity,omitempty"`
}

type OptimConfig struct {
	Method        string  `yaml:"method"`
	MaxIterations int     `yaml:"max_iterations"`
	Step          float64 `yaml:"step,omitempty"`
}

type ExploreConfig struct {
	Episodes int `yaml:"episodes"`
	Hold     int `yaml:"hold"`
}

func DefaultConfig() *Config {
	return &Config{
		System:     "cartpole",
		Integrator: "rk4",
		Controller: "policy",
		Dt:         DefaultDt,
		Horizon:    DefaultHorizon,
		Iterations: DefaultIterations,
		Seed:       1,
		AngleDims:  []int{3},
		Init: InitConfig{
			Mean: []float64{0, 0, 0, 0},
			Std:  []float64{0.01, 0.01, 0.01, 0.01},
		},
		Cost: CostConfig{
			Kind:   "cartpole",
			Target: []float64{0, 0, 0, 3.141592653589793},
			Widths: []float64{0.25},
			Gamma:  DefaultGamma,
		},
		Policy: PolicyConfig{
			Kind:     "rbf",
			Centers:  DefaultCenters,
			MaxU:     []float64{10},
			Saturate: true,
		},
		Model: ModelConfig{Kind: "linear", Ridge: DefaultRidge, Substeps: 1},
		Loss: LossConfig{
			Particles: DefaultParticles,
			CRN:       true,
			Resample:  true,
			Average:   true,
		},
		Optim:   OptimConfig{Method: "bfgs", MaxIterations: 50},
		Explore: ExploreConfig{Episodes: 1, Hold: 1},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.AngleDims = slices.Clone(c.AngleDims)
	out.Physics = maps.Clone(c.Physics)
	out.Init.Mean = slices.Clone(c.Init.Mean)
	out.Init.Std = slices.Clone(c.Init.Std)
	out.Plant.MeasurementNoise = slices.Clone(c.Plant.MeasurementNoise)
	out.Cost.Target = slices.Clone(c.Cost.Target)
	out.Cost.Weights = slices.Clone(c.Cost.Weights)
	out.Cost.Widths = slices.Clone(c.Cost.Widths)
	out.Policy.MaxU = slices.Clone(c.Policy.MaxU)
	out.Model.ProcessNoise = slices.Clone(c.Model.ProcessNoise)
	return &out
}

// StateDim is the state dimension of the configured system, or 0 when the
// system is unknown.
func (c *Config) StateDim() int {
	switch c.System {
	case "cartpole":
		return 4
	case "pendulum":
		return 2
	default:
		return 0
	}
}

// Validate checks everything that can be checked without building the
// components. Failures wrap dynamo.ErrConfiguration.
func (c *Config) Validate() error {
	d := c.StateDim()
	switch {
	case d == 0:
		return dynamo.Configf("unknown system %q", c.System)
	case c.Dt <= 0:
		return dynamo.Configf("dt must be positive, got %g", c.Dt)
	case c.Horizon <= 0:
		return dynamo.Configf("horizon must be positive, got %d", c.Horizon)
	case c.Iterations < 0:
		return dynamo.Configf("iterations must not be negative, got %d", c.Iterations)
	case c.Loss.Particles <= 0:
		return dynamo.Configf("particles must be positive, got %d", c.Loss.Particles)
	case c.Cost.Gamma <= 0 || c.Cost.Gamma > 1:
		return dynamo.Configf("gamma must be in (0, 1], got %g", c.Cost.Gamma)
	case len(c.Policy.MaxU) == 0:
		return dynamo.Configf("policy max_u is required")
	}
	if err := belief.ValidateAngleDims(c.AngleDims, d); err != nil {
		return err
	}
	if len(c.Init.Mean) != d || len(c.Init.Std) != d {
		return dynamo.Configf("initial belief needs %d means and stds, got %d and %d", d, len(c.Init.Mean), len(c.Init.Std))
	}
	for i, s := range c.Init.Std {
		if s <= 0 {
			return dynamo.Configf("initial covariance is not positive definite: std[%d] = %g", i, s)
		}
	}
	if len(c.Cost.Target) != d {
		return dynamo.Configf("cost target needs %d entries, got %d", d, len(c.Cost.Target))
	}
	if n := len(c.Plant.MeasurementNoise); n != 0 && n != d {
		return dynamo.Configf("measurement noise needs %d entries, got %d", d, n)
	}
	if n := len(c.Model.ProcessNoise); n != 0 && n != d {
		return dynamo.Configf("process noise needs %d entries, got %d", d, n)
	}
	return nil
}

// InitialBelief returns the moments of the initial state distribution.
func (c *Config) InitialBelief() (*mat.VecDense, *mat.SymDense) {
	d := len(c.Init.Mean)
	s := mat.NewSymDense(d, nil)
	for i, v := range c.Init.Std {
		s.SetSym(i, i, v*v)
	}
	return mat.NewVecDense(d, append([]float64(nil), c.Init.Mean...)), s
}
