package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
)

type Pendulum struct {
	Mass    float64
	Length  float64
	Damping float64
	Gravity float64
}

func NewPendulum() *Pendulum {
	return &Pendulum{
		Mass:    1.0,
		Length:  1.0,
		Damping: 0.01,
		Gravity: 9.82,
	}
}

func (p *Pendulum) StateDim() int {
	return 2
}

func (p *Pendulum) ControlDim() int {
	return 1
}

func (p *Pendulum) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	omega, theta := x[0], x[1]

	torque := 0.0
	if len(u) > 0 {
		torque = u[0]
	}
	ml2 := p.Mass * p.Length * p.Length
	alpha := (torque - p.Damping*omega - 0.5*p.Mass*p.Gravity*p.Length*math.Sin(theta)) / (ml2 / 3)

	return dynamo.State{alpha, omega}
}

// Energy of a uniform rod, zero when hanging at rest.
func (p *Pendulum) Energy(x dynamo.State) float64 {
	ke := p.Mass * p.Length * p.Length * x[0] * x[0] / 6
	pe := 0.5 * p.Mass * p.Gravity * p.Length * (1.0 - math.Cos(x[1]))
	return ke + pe
}

func (p *Pendulum) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":    p.Mass,
		"length":  p.Length,
		"damping": p.Damping,
		"gravity": p.Gravity,
	}
}

func (p *Pendulum) SetParam(name string, value float64) error {
	switch name {
	case "mass":
		p.Mass = value
	case "length":
		if value <= 0 {
			return fmt.Errorf("length must be positive, got %g", value)
		}
		p.Length = value
	case "damping":
		p.Damping = value
	case "gravity":
		p.Gravity = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
