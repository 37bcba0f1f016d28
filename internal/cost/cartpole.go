package cost

import (
	"math"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// CartpoleParams configures the pendulum-tip cost of the cartpole. The state
// is [x, dx, dtheta, theta] with theta listed in AngleDims.
type CartpoleParams struct {
	Target     []float64
	AngleDims  []int
	PoleLength float64
	// Widths are the length scales of the saturating costs that are summed.
	Widths []float64
	// Exploration adds Exploration·sqrt(variance) to each mean cost.
	Exploration float64
	Shape       Shape
}

// Cartpole returns the distance-to-goal cost of the pendulum tip, summed over
// all widths. The weight matrix couples the cart position with the sine of
// the pole angle so that the cost measures the squared tip distance.
func Cartpole(p CartpoleParams) (Func, error) {
	d := len(p.Target)
	if len(p.Widths) == 0 {
		return nil, dynamo.Configf("cartpole cost: at least one width is required")
	}
	if len(p.AngleDims) != 1 || p.AngleDims[0] != d-1 {
		return nil, dynamo.Configf("cartpole cost: the pole angle must be the last state dimension")
	}
	if err := belief.ValidateAngleDims(p.AngleDims, d); err != nil {
		return nil, err
	}
	shape := p.Shape
	if shape == nil {
		shape = QuadraticSaturatingLoss
	}

	target := belief.AugmentPoint(mat.NewVecDense(d, append([]float64(nil), p.Target...)), p.AngleDims)
	da := target.Len()
	ell := p.PoleLength
	q := mat.NewDense(da, da, nil)
	q.Set(0, 0, 1)
	q.Set(0, da-2, ell)
	q.Set(da-2, 0, ell)
	q.Set(da-2, da-2, ell*ell)
	q.Set(da-1, da-1, ell*ell)

	losses := make([]Func, 0, len(p.Widths))
	for _, w := range p.Widths {
		if w <= 0 {
			return nil, dynamo.Configf("cartpole cost: width %g must be positive", w)
		}
		var qw mat.Dense
		qw.Scale(1/(w*w), q)
		f, err := Generic(shape, Params{Q: &qw, Target: target}, p.AngleDims, d)
		if err != nil {
			return nil, err
		}
		losses = append(losses, f)
	}

	b := p.Exploration
	return func(mx mat.Vector, sx mat.Symmetric) (float64, float64, error) {
		var mSum, sSum float64
		for _, f := range losses {
			m, s, err := f(mx, sx)
			if err != nil {
				return 0, 0, err
			}
			if b != 0 {
				m += b * math.Sqrt(math.Max(s, 0))
			}
			mSum += m
			sSum += s
		}
		return mSum, sSum, nil
	}, nil
}
