package metrics

import (
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
)

// EnergySystem is a system exposing its mechanical energy.
type EnergySystem interface {
	Energy(x dynamo.State) float64
}

// EnergyDrift is the largest relative deviation of the energy from its
// value at the first sample. It is only meaningful for unforced,
// frictionless runs, where it measures integration error.
type EnergyDrift struct {
	sys      EnergySystem
	initial  float64
	maxDrift float64
	samples  int
}

func NewEnergyDrift(sys EnergySystem) *EnergyDrift {
	return &EnergyDrift{sys: sys}
}

func (e *EnergyDrift) Name() string { return "energy_drift" }

func (e *EnergyDrift) Observe(x dynamo.State, u dynamo.Control, t float64) {
	energy := e.sys.Energy(x)
	if e.samples == 0 {
		e.initial = energy
	}
	e.samples++
	scale := math.Max(math.Abs(e.initial), 1e-12)
	e.maxDrift = math.Max(e.maxDrift, math.Abs(energy-e.initial)/scale)
}

func (e *EnergyDrift) Value() float64 { return e.maxDrift }

func (e *EnergyDrift) Reset() {
	e.initial = 0
	e.maxDrift = 0
	e.samples = 0
}
