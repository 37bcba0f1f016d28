package integrators

import (
	"fmt"
	"math"

	"github.com/san-kum/mcpilco/internal/dynamo"
)

// Dormand-Prince coefficients (RK45)
var (
	a2 = 1.0 / 5.0
	a3 = 3.0 / 10.0
	a4 = 4.0 / 5.0
	a5 = 8.0 / 9.0

	b21 = 1.0 / 5.0
	b31 = 3.0 / 40.0
	b32 = 9.0 / 40.0
	b41 = 44.0 / 45.0
	b42 = -56.0 / 15.0
	b43 = 32.0 / 9.0
	b51 = 19372.0 / 6561.0
	b52 = -25360.0 / 2187.0
	b53 = 64448.0 / 6561.0
	b54 = -212.0 / 729.0
	b61 = 9017.0 / 3168.0
	b62 = -355.0 / 33.0
	b63 = 46732.0 / 5247.0
	b64 = 49.0 / 176.0
	b65 = -5103.0 / 18656.0

	c1 = 35.0 / 384.0
	c3 = 500.0 / 1113.0
	c4 = 125.0 / 192.0
	c5 = -2187.0 / 6784.0
	c6 = 11.0 / 84.0

	dc1 = c1 - 5179.0/57600.0
	dc3 = c3 - 7571.0/16695.0
	dc4 = c4 - 393.0/640.0
	dc5 = c5 - -92097.0/339200.0
	dc6 = c6 - 187.0/2100.0
	dc7 = -1.0 / 40.0
)

// maxSubsteps bounds the number of attempted steps in one Advance call.
const maxSubsteps = 100000

// RK45 is the Dormand-Prince embedded pair ("dopri5") with error control on
// atol + rtol·|x|.
type RK45 struct {
	Atol, Rtol float64

	safety   float64
	minScale float64
	maxScale float64
}

func NewRK45() *RK45 {
	return NewRK45Tol(1e-10, 1e-10)
}

// NewRK45Tol returns an integrator with the given absolute and relative
// tolerances.
func NewRK45Tol(atol, rtol float64) *RK45 {
	return &RK45{
		Atol:     atol,
		Rtol:     rtol,
		safety:   0.9,
		minScale: 0.2,
		maxScale: 10.0,
	}
}

// Step advances exactly dt, subdividing the interval as needed. On failure
// every entry of the returned state is NaN.
func (r *RK45) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	xNew, err := r.Advance(dyn, x, u, t, t+dt)
	if err != nil {
		bad := make(dynamo.State, len(x))
		for i := range bad {
			bad[i] = math.NaN()
		}
		return bad
	}
	return xNew
}

// StepAdaptive takes one trial step of size dt with tolerance tol on the
// scaled error norm. It returns the new state, the suggested next step and
// an error when the step was rejected.
func (r *RK45) StepAdaptive(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt, tol float64) (dynamo.State, float64, error) {
	xNew, errNorm := r.trial(dyn, x, u, t, dt)
	ratio := errNorm / tol
	dtNew := dt * r.scale(ratio)
	if ratio > 1 {
		return nil, dtNew, fmt.Errorf("rk45: step %g rejected (error ratio %.3g)", dt, ratio)
	}
	return xNew, dtNew, nil
}

// Advance integrates from t0 to t1 with adaptive steps, the way an ODE plant
// advances one control period.
func (r *RK45) Advance(dyn dynamo.System, x dynamo.State, u dynamo.Control, t0, t1 float64) (dynamo.State, error) {
	span := t1 - t0
	if span <= 0 {
		return x.Clone(), nil
	}
	h := span
	t := t0
	cur := x.Clone()
	for i := 0; i < maxSubsteps; i++ {
		if t1-t <= 1e-14*math.Max(1, math.Abs(t1)) {
			return cur, nil
		}
		if t+h > t1 {
			h = t1 - t
		}
		next, errNorm := r.trial(dyn, cur, u, t, h)
		if errNorm <= 1 {
			if !next.IsValid() {
				return nil, dynamo.SimError{Time: t, Step: i, Message: "state diverged"}
			}
			cur = next
			t += h
		}
		h *= r.scale(errNorm)
		if h < 1e-14*span {
			return nil, dynamo.SimError{Time: t, Step: i, Message: "step size underflow"}
		}
	}
	return nil, dynamo.SimError{Time: t, Step: maxSubsteps, Message: "too many substeps"}
}

func (r *RK45) scale(ratio float64) float64 {
	switch {
	case math.IsNaN(ratio):
		return r.minScale
	case ratio > 1:
		return math.Max(r.minScale, r.safety*math.Pow(ratio, -0.25))
	case ratio > 0:
		return math.Min(r.maxScale, r.safety*math.Pow(ratio, -0.2))
	default:
		return r.maxScale
	}
}

// trial computes one Dormand-Prince step and the RMS error scaled by
// atol + rtol·max(|x|, |xNew|).
func (r *RK45) trial(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) (dynamo.State, float64) {
	n := len(x)
	stage := func(coef func(i int) float64) dynamo.State {
		s := make(dynamo.State, n)
		for i := 0; i < n; i++ {
			s[i] = x[i] + dt*coef(i)
		}
		return s
	}

	k1 := dyn.Derive(x, u, t)
	k2 := dyn.Derive(stage(func(i int) float64 { return b21 * k1[i] }), u, t+a2*dt)
	k3 := dyn.Derive(stage(func(i int) float64 { return b31*k1[i] + b32*k2[i] }), u, t+a3*dt)
	k4 := dyn.Derive(stage(func(i int) float64 { return b41*k1[i] + b42*k2[i] + b43*k3[i] }), u, t+a4*dt)
	k5 := dyn.Derive(stage(func(i int) float64 { return b51*k1[i] + b52*k2[i] + b53*k3[i] + b54*k4[i] }), u, t+a5*dt)
	k6 := dyn.Derive(stage(func(i int) float64 {
		return b61*k1[i] + b62*k2[i] + b63*k3[i] + b64*k4[i] + b65*k5[i]
	}), u, t+dt)
	xNew := stage(func(i int) float64 {
		return c1*k1[i] + c3*k3[i] + c4*k4[i] + c5*k5[i] + c6*k6[i]
	})
	k7 := dyn.Derive(xNew, u, t+dt)

	sum := 0.0
	for i := 0; i < n; i++ {
		errEst := dt * (dc1*k1[i] + dc3*k3[i] + dc4*k4[i] + dc5*k5[i] + dc6*k6[i] + dc7*k7[i])
		sc := r.Atol + r.Rtol*math.Max(math.Abs(x[i]), math.Abs(xNew[i]))
		sum += (errEst / sc) * (errEst / sc)
	}
	return xNew, math.Sqrt(sum / float64(n))
}
