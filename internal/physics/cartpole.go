package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
)

// CartPole is a pole of length L and mass M on a cart of mass CartMass with
// viscous friction Friction on the cart.
type CartPole struct {
	PoleLength float64
	PoleMass   float64
	CartMass   float64
	Friction   float64
	Gravity    float64
}

func NewCartPole() *CartPole {
	return &CartPole{
		PoleLength: 0.5,
		PoleMass:   0.5,
		CartMass:   0.5,
		Friction:   0.1,
		Gravity:    9.82,
	}
}

func (c *CartPole) StateDim() int {
	return 4
}

func (c *CartPole) ControlDim() int {
	return 1
}

func (c *CartPole) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	force := 0.0
	if len(u) > 0 {
		force = u[0]
	}

	l, m, M := c.PoleLength, c.PoleMass, c.CartMass
	sin, cos := math.Sincos(x[3])
	a0 := m * l * x[2] * x[2] * sin
	a1 := c.Gravity * sin
	a2 := force - c.Friction*x[1]
	a3 := 4*(M+m) - 3*m*cos*cos

	return dynamo.State{
		x[1],
		(2*a0 + 3*m*a1*cos + 4*a2) / a3,
		-3 * (a0*cos + 2*((M+m)*a1+a2*cos)) / (l * a3),
		x[2],
	}
}

// Energy is the mechanical energy with the potential measured from the
// hanging position.
func (c *CartPole) Energy(x dynamo.State) float64 {
	l, m, M := c.PoleLength, c.PoleMass, c.CartMass
	sin, cos := math.Sincos(x[3])
	// pole center of mass at half length
	vx := x[1] + 0.5*l*x[2]*cos
	vy := 0.5 * l * x[2] * sin
	ke := 0.5*M*x[1]*x[1] + 0.5*m*(vx*vx+vy*vy) + m*l*l*x[2]*x[2]/24
	pe := m * c.Gravity * 0.5 * l * (1 - cos)
	return ke + pe
}

// TipPosition returns the pole tip in the plane for a raw state.
func (c *CartPole) TipPosition(x dynamo.State) (float64, float64) {
	sin, cos := math.Sincos(x[3])
	return x[0] + c.PoleLength*sin, -c.PoleLength * cos
}

func (c *CartPole) GetParams() map[string]float64 {
	return map[string]float64{
		"l": c.PoleLength,
		"m": c.PoleMass,
		"M": c.CartMass,
		"b": c.Friction,
		"g": c.Gravity,
	}
}

func (c *CartPole) SetParam(name string, value float64) error {
	switch name {
	case "l":
		if value <= 0 {
			return fmt.Errorf("pole length must be positive, got %g", value)
		}
		c.PoleLength = value
	case "m":
		c.PoleMass = value
	case "M":
		c.CartMass = value
	case "b":
		c.Friction = value
	case "g":
		c.Gravity = value
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	return nil
}
