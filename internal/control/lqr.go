package control

import (
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
)

// LQR applies u = −K(x − Target). Errors in the AngleDims components are
// wrapped to (−π, π].
type LQR struct {
	K         [][]float64
	Target    dynamo.State
	AngleDims []int
	MaxU      []float64
}

func NewLQR(k [][]float64, target dynamo.State, angleDims []int) *LQR {
	return &LQR{K: k, Target: target, AngleDims: angleDims}
}

func (l *LQR) Compute(x dynamo.State, t float64) dynamo.Control {
	e := make([]float64, len(x))
	for j := range x {
		target := 0.0
		if j < len(l.Target) {
			target = l.Target[j]
		}
		e[j] = x[j] - target
	}
	for _, i := range l.AngleDims {
		if i < len(e) {
			e[i] = WrapAngle(e[i])
		}
	}

	u := make(dynamo.Control, len(l.K))
	for i := range u {
		for j := range e {
			if j < len(l.K[i]) {
				u[i] -= l.K[i][j] * e[j]
			}
		}
		if i < len(l.MaxU) {
			u[i] = math.Max(-l.MaxU[i], math.Min(l.MaxU[i], u[i]))
		}
	}
	return u
}

// WrapAngle maps a to (−π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a+math.Pi, 2*math.Pi)
	if a <= 0 {
		a += 2 * math.Pi
	}
	return a - math.Pi
}

// Discrete-time gains for the default cart-pole held for 50 ms, state
// order [x, dx, dtheta, theta], upright at theta = π.
var cartpoleGains = [][]float64{{-2.0142, -2.7002, 3.9171, 25.3275}}

// NewCartPoleLQR balances the default cart-pole at the origin.
func NewCartPoleLQR() *LQR {
	return NewLQR(cartpoleGains, dynamo.State{0, 0, 0, math.Pi}, []int{3})
}
