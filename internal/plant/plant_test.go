package plant

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/mcpilco/internal/control"
	"github.com/san-kum/mcpilco/internal/cost"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/integrators"
	"github.com/san-kum/mcpilco/internal/metrics"
	"github.com/san-kum/mcpilco/internal/physics"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

var _ Plant = (*ODEPlant)(nil)

func newCartPole(t *testing.T) *ODEPlant {
	t.Helper()
	p, err := NewODEPlant(physics.NewCartPole(), 0.05, rand.NewSource(1))
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func TestNewODEPlantRejectsDt(t *testing.T) {
	if _, err := NewODEPlant(physics.NewCartPole(), 0, rand.NewSource(1)); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestApplyControlMatchesFineIntegration(t *testing.T) {
	p := newCartPole(t)
	x0 := dynamo.State{0, 0.5, -1, 2}
	if err := p.Reset(x0); err != nil {
		t.Fatal(err)
	}
	if err := p.ApplyControl(dynamo.Control{3}); err != nil {
		t.Fatal(err)
	}

	rk4 := integrators.NewRK4()
	want := x0
	for i := 0; i < 500; i++ {
		want = rk4.Step(p.System(), want, dynamo.Control{3}, 0, 1e-4)
	}
	got, tm := p.GetState(false)
	if math.Abs(tm-0.05) > 1e-12 {
		t.Errorf("time = %v, want 0.05", tm)
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-6 {
			t.Errorf("x[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestHangingEquilibrium(t *testing.T) {
	p := newCartPole(t)
	for i := 0; i < 20; i++ {
		if err := p.ApplyControl(dynamo.Control{0}); err != nil {
			t.Fatal(err)
		}
	}
	x, tm := p.GetState(false)
	for _, v := range x {
		if v != 0 {
			t.Errorf("state left the equilibrium: %v", x)
			break
		}
	}
	if math.Abs(tm-1) > 1e-9 {
		t.Errorf("time = %v, want 1", tm)
	}
}

func TestDimensionChecks(t *testing.T) {
	p := newCartPole(t)
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"short state", p.SetState(dynamo.State{1}), dynamo.ErrDimensionMismatch},
		{"invalid state", p.SetState(dynamo.State{0, 0, math.NaN(), 0}), dynamo.ErrInvalidState},
		{"wide control", p.ApplyControl(dynamo.Control{1, 2}), dynamo.ErrDimensionMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, tt.err)
			}
		})
	}
}

func TestNoisyRead(t *testing.T) {
	p := newCartPole(t)
	p.MeasurementNoise = []float64{0.1}
	_ = p.SetState(dynamo.State{1, 2, 3, 4})

	clean, _ := p.GetState(false)
	noisy, _ := p.GetState(true)
	if clean[0] != 1 || noisy[0] == 1 {
		t.Errorf("clean %v, noisy %v", clean[0], noisy[0])
	}
	for i := 1; i < 4; i++ {
		if noisy[i] != clean[i] {
			t.Errorf("noise on dimension %d without a scale", i)
		}
	}

	p.AngleDims = []int{3}
	xa, _ := p.AugmentedState(false)
	if len(xa) != 5 || math.Abs(xa[3]-math.Sin(4)) > 1e-15 || math.Abs(xa[4]-math.Cos(4)) > 1e-15 {
		t.Errorf("augmented state = %v", xa)
	}
}

type countingObserver struct{ calls int }

func (o *countingObserver) OnStep(x dynamo.State, u dynamo.Control, t float64) { o.calls++ }

func saturatingCost(t *testing.T) cost.Func {
	t.Helper()
	f, err := cost.Cartpole(cost.CartpoleParams{
		Target:     []float64{0, 0, 0, math.Pi},
		AngleDims:  []int{3},
		PoleLength: 0.5,
		Widths:     []float64{0.25},
	})
	if err != nil {
		t.Fatal(err)
	}
	return f
}

func TestRunnerRecordsEpisode(t *testing.T) {
	p := newCartPole(t)
	r := NewRunner(p)
	r.Cost = saturatingCost(t)
	r.AddMetric(metrics.NewControlEffort())
	obs := &countingObserver{}
	r.AddObserver(obs)

	ctrl := control.NewRandom([]float64{5}, rand.NewSource(2))
	res, err := r.Run(context.Background(), dynamo.State{0, 0, 0, 0}, ctrl, 10)
	if err != nil {
		t.Fatal(err)
	}
	ep := res.Episode
	if len(ep.States) != 11 || len(ep.Controls) != 10 || len(ep.Times) != 11 || len(ep.Costs) != 11 {
		t.Fatalf("recorded %d states, %d controls, %d times, %d costs", len(ep.States), len(ep.Controls), len(ep.Times), len(ep.Costs))
	}
	if ep.Transitions() != 10 {
		t.Errorf("transitions = %d, want 10", ep.Transitions())
	}
	if obs.calls != 10 {
		t.Errorf("observer called %d times, want 10", obs.calls)
	}
	if res.Metrics["control_effort"] <= 0 {
		t.Errorf("control effort = %v", res.Metrics["control_effort"])
	}
	if ep.Costs[0] < 0.99 {
		t.Errorf("hanging cost = %v, want close to 1", ep.Costs[0])
	}
	if math.Abs(ep.Times[10]-0.5) > 1e-9 {
		t.Errorf("final time = %v, want 0.5", ep.Times[10])
	}
}

func TestRunnerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := NewRunner(newCartPole(t)).Run(ctx, dynamo.State{0, 0, 0, 0}, control.NewNone(1), 10)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.Episode.States) != 1 {
		t.Errorf("recorded %d states, want 1", len(res.Episode.States))
	}
}

func TestRunnerErrors(t *testing.T) {
	p := newCartPole(t)
	if _, err := NewRunner(p).Run(context.Background(), dynamo.State{0, 0, 0, 0}, control.NewNone(1), 0); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	if _, err := NewRunner(p).Run(context.Background(), dynamo.State{0}, control.NewNone(1), 5); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if _, err := NewRunner(p).Run(context.Background(), dynamo.State{0, 0, 0, 0}, control.NewNone(2), 5); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}

	r := NewRunner(p)
	r.Cost = func(mat.Vector, mat.Symmetric) (float64, float64, error) {
		return 0, 0, dynamo.Degeneracyf("broken")
	}
	if _, err := r.Run(context.Background(), dynamo.State{0, 0, 0, 0}, control.NewNone(1), 5); !errors.Is(err, dynamo.ErrNumericalDegeneracy) {
		t.Errorf("expected ErrNumericalDegeneracy, got %v", err)
	}
}

func TestRunEpisodeStartsFromCurrentState(t *testing.T) {
	p := newCartPole(t)
	_ = p.SetState(dynamo.State{0, 0, 0, 0.1})
	obs := &countingObserver{}
	ep, err := RunEpisode(context.Background(), p, control.NewNone(1), 4, obs)
	if err != nil {
		t.Fatal(err)
	}
	if ep.States[0][3] != 0.1 || len(ep.States) != 5 || obs.calls != 4 {
		t.Errorf("episode starts at %v with %d states, %d observer calls", ep.States[0], len(ep.States), obs.calls)
	}
	if len(ep.Costs) != 0 {
		t.Errorf("costs recorded without a cost function")
	}
}

func TestStepReturnsStateAndCost(t *testing.T) {
	p := newCartPole(t)
	x, c, err := p.Step(dynamo.Control{1})
	if err != nil {
		t.Fatal(err)
	}
	if c != 0 {
		t.Errorf("cost without a cost function = %v, want 0", c)
	}
	got, tm := p.GetState(false)
	for i := range x {
		if x[i] != got[i] {
			t.Fatalf("Step returned %v, plant holds %v", x, got)
		}
	}
	if math.Abs(tm-0.05) > 1e-12 {
		t.Errorf("time = %v, want 0.05", tm)
	}

	p.Cost = saturatingCost(t)
	if err := p.Reset(dynamo.State{0, 0, 0, 0}); err != nil {
		t.Fatal(err)
	}
	if _, c, err = p.Step(dynamo.Control{0}); err != nil {
		t.Fatal(err)
	}
	if c < 0.99 {
		t.Errorf("hanging cost = %v, want close to 1", c)
	}

	if _, _, err := p.Step(dynamo.Control{1, 2}); !errors.Is(err, dynamo.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}

type nanSystem struct{}

func (nanSystem) StateDim() int   { return 1 }
func (nanSystem) ControlDim() int { return 1 }
func (nanSystem) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	return dynamo.State{math.NaN()}
}

func TestNewODEPlantWith(t *testing.T) {
	if _, err := NewODEPlantWith(physics.NewPendulum(), nil, 0.05, rand.NewSource(1)); !errors.Is(err, dynamo.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
	p, err := NewODEPlantWith(nanSystem{}, integrators.NewRK45(), 0.05, rand.NewSource(1))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := p.Step(dynamo.Control{0}); err == nil {
		t.Error("expected a diverging system to fail")
	}
	if x, _ := p.GetState(false); !x.IsValid() {
		t.Errorf("failed step overwrote the state: %v", x)
	}
}
