package dynamo

import (
	"fmt"
	"math"
)

// State is a point in a system's state space.
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

// IsValid reports whether every entry is finite.
func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Control is an actuator command held for one control period.
type Control []float64

// System is a continuous-time model dx/dt = f(x, u, t).
type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

// Integrator advances a System by one fixed step. A step that fails
// returns a state for which IsValid is false.
type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

// Advancer is an Integrator that controls its own step size and reports
// failure over an interval explicitly.
type Advancer interface {
	Integrator
	Advance(dyn System, x State, u Control, t0, t1 float64) (State, error)
}

// Controller maps a state to a control.
type Controller interface {
	Compute(x State, t float64) Control
}

// Metric accumulates a scalar summary of an episode.
type Metric interface {
	Name() string
	Observe(x State, u Control, t float64)
	Value() float64
	Reset()
}

// Observer is notified after every control period.
type Observer interface {
	OnStep(x State, u Control, t float64)
}

// Configurable exposes named scalar parameters.
type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

// SimError locates an integration failure.
type SimError struct {
	Time    float64
	Step    int
	Message string
}

func (e SimError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %s", e.Step, e.Time, e.Message)
}
