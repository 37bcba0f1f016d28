package control

import (
	"fmt"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
)

// Random draws every control uniformly from [-MaxU, MaxU]. Hold repeats a
// draw for that many consecutive calls, giving smoother excitation.
type Random struct {
	MaxU []float64
	Hold int

	src   rand.Source
	last  dynamo.Control
	calls int
}

func NewRandom(maxU []float64, src rand.Source) *Random {
	return &Random{MaxU: append([]float64(nil), maxU...), Hold: 1, src: src}
}

func (r *Random) Compute(x dynamo.State, t float64) dynamo.Control {
	hold := r.Hold
	if hold < 1 {
		hold = 1
	}
	if r.last == nil || r.calls%hold == 0 {
		u := make(dynamo.Control, len(r.MaxU))
		for i, m := range r.MaxU {
			u[i] = distuv.Uniform{Min: -m, Max: m, Src: r.src}.Rand()
		}
		r.last = u
	}
	r.calls++
	return append(dynamo.Control(nil), r.last...)
}

// Reset restarts the hold cycle. The random stream is not rewound.
func (r *Random) Reset() {
	r.last = nil
	r.calls = 0
}

func (r *Random) GetParams() map[string]float64 {
	return map[string]float64{"hold": float64(r.Hold)}
}

func (r *Random) SetParam(name string, value float64) error {
	switch name {
	case "hold":
		if value < 1 {
			return fmt.Errorf("hold must be at least 1, got %g", value)
		}
		r.Hold = int(value)
	default:
		return fmt.Errorf("unknown parameter: %s", name)
	}
	return nil
}
