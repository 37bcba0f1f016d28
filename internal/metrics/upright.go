package metrics

import (
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
)

// Upright is the fraction of samples whose angle lies within Tolerance of
// Target, compared on the circle.
type Upright struct {
	AngleDim  int
	Target    float64
	Tolerance float64

	hits    int
	samples int
}

func NewUpright(angleDim int, target, tolerance float64) *Upright {
	return &Upright{AngleDim: angleDim, Target: target, Tolerance: tolerance}
}

func (s *Upright) Name() string { return "upright" }

func (s *Upright) Observe(x dynamo.State, u dynamo.Control, t float64) {
	if s.AngleDim >= len(x) {
		return
	}
	s.samples++
	d := math.Remainder(x[s.AngleDim]-s.Target, 2*math.Pi)
	if math.Abs(d) <= s.Tolerance {
		s.hits++
	}
}

func (s *Upright) Value() float64 {
	if s.samples == 0 {
		return 0
	}
	return float64(s.hits) / float64(s.samples)
}

func (s *Upright) Reset() {
	s.hits = 0
	s.samples = 0
}
