package config

import (
	"math"
	"sort"
)

var Presets = map[string]map[string]*Config{
	"cartpole": {
		"swingup": DefaultConfig(),
		"balance": {
			System: "cartpole", Integrator: "rk4", Controller: "policy",
			Dt: 0.05, Horizon: 60, Iterations: 3, Seed: 1, AngleDims: []int{3},
			Init: InitConfig{
				Mean: []float64{0, 0, 0, math.Pi},
				Std:  []float64{0.05, 0.05, 0.05, 0.05},
			},
			Cost: CostConfig{Kind: "cartpole", Target: []float64{0, 0, 0, math.Pi}, Widths: []float64{0.25}, Gamma: 1},
			Policy: PolicyConfig{
				Kind: "linear", MaxU: []float64{10}, Saturate: true,
			},
			Model: ModelConfig{Kind: "linear", Ridge: DefaultRidge, Substeps: 1},
			Loss:  LossConfig{Particles: 50, CRN: true, Resample: true, Average: true},
			Optim: OptimConfig{Method: "bfgs", MaxIterations: 50},
			Explore: ExploreConfig{
				Episodes: 2, Hold: 1,
			},
		},
		"simulated": {
			System: "cartpole", Integrator: "rk4", Controller: "policy",
			Dt: 0.05, Horizon: 40, Iterations: 2, Seed: 1, AngleDims: []int{3},
			Init: InitConfig{
				Mean: []float64{0, 0, 0, 0},
				Std:  []float64{0.01, 0.01, 0.01, 0.01},
			},
			Cost:   CostConfig{Kind: "cartpole", Target: []float64{0, 0, 0, math.Pi}, Widths: []float64{0.25}, Gamma: 1},
			Policy: PolicyConfig{Kind: "rbf", Centers: 20, MaxU: []float64{10}, Saturate: true},
			Model: ModelConfig{
				Kind: "simulated", Substeps: 5, ProcessNoise: []float64{1e-3, 1e-3, 1e-3, 1e-3},
			},
			Loss:    LossConfig{Particles: 50, CRN: true, Resample: true, Average: true},
			Optim:   OptimConfig{Method: "bfgs", MaxIterations: 30},
			Explore: ExploreConfig{Episodes: 1, Hold: 2},
		},
	},
	"pendulum": {
		"swingup": {
			System: "pendulum", Integrator: "rk4", Controller: "policy",
			Dt: 0.05, Horizon: 60, Iterations: 5, Seed: 1, AngleDims: []int{1},
			Init: InitConfig{
				Mean: []float64{0, 0},
				Std:  []float64{0.01, 0.01},
			},
			Cost: CostConfig{
				Kind: "saturating", Target: []float64{0, math.Pi}, Weights: []float64{0.01, 1, 1}, Gamma: 1,
			},
			Policy:  PolicyConfig{Kind: "rbf", Centers: 30, MaxU: []float64{2.5}, Saturate: true},
			Model:   ModelConfig{Kind: "linear", Ridge: DefaultRidge, Substeps: 1},
			Loss:    LossConfig{Particles: 50, CRN: true, Resample: true, Average: true},
			Optim:   OptimConfig{Method: "bfgs", MaxIterations: 50},
			Explore: ExploreConfig{Episodes: 1, Hold: 2},
		},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(system, preset string) *Config {
	systemPresets, ok := Presets[system]
	if !ok {
		return nil
	}
	cfg, ok := systemPresets[preset]
	if !ok {
		return nil
	}
	return cfg.Clone()
}

func ListPresets(system string) []string {
	systemPresets, ok := Presets[system]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(systemPresets))
	for name := range systemPresets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Systems lists the systems that have presets.
func Systems() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
