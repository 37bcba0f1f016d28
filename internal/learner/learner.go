// Package learner runs the episodic policy-search loop: collect experience
// on the plant, fit the dynamics model, optimise the policy on the particle
// loss, and try the new policy on the plant.
package learner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/control"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/dynmodel"
	"github.com/san-kum/mcpilco/internal/experience"
	"github.com/san-kum/mcpilco/internal/experiment"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"github.com/san-kum/mcpilco/internal/plant"
	"github.com/san-kum/mcpilco/internal/policy"
	"github.com/san-kum/mcpilco/internal/storage"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
)

// Iteration summarises one pass of the loop. Iteration 0 is exploration.
type Iteration struct {
	Index    int
	RunID    string
	Optimize *mcpilco.OptimizeResult
	// Predicted is the loss of the optimised policy under the model, with
	// per-particle costs and trajectories.
	Predicted *mcpilco.Result
	Episode   experience.Episode
	Metrics   map[string]float64
}

// Learner owns the dataset and drives one experiment setup.
type Learner struct {
	setup *experiment.Setup
	data  *experience.Dataset
	rng   *rand.Rand

	store  *storage.Store
	name   string
	logger *slog.Logger
	hook   func(Iteration)

	rbfInit bool
}

// Option configures a Learner.
type Option func(*Learner)

// WithLogger sets the logger. Records carry a component attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Learner) {
		l.logger = logger
	}
}

// WithStore persists every episode as a run, with component snapshots.
func WithStore(st *storage.Store, name string) Option {
	return func(l *Learner) {
		l.store = st
		l.name = name
	}
}

// WithIterationHook is called after every completed iteration.
func WithIterationHook(fn func(Iteration)) Option {
	return func(l *Learner) {
		l.hook = fn
	}
}

func New(s *experiment.Setup, opts ...Option) *Learner {
	l := &Learner{
		setup:  s,
		data:   experience.New(s.StateDim(), s.System.ControlDim()),
		rng:    rand.New(rand.NewSource(s.Config.Seed)),
		name:   s.Config.System,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Learner) Dataset() *experience.Dataset { return l.data }

func (l *Learner) log(component string) *slog.Logger {
	return l.logger.With(slog.String("component", component))
}

// Run explores and then performs the configured number of iterations.
func (l *Learner) Run(ctx context.Context) ([]Iteration, error) {
	var out []Iteration
	exp, err := l.Explore(ctx)
	if err != nil {
		return nil, err
	}
	out = append(out, exp...)
	for i := 1; i <= l.setup.Config.Iterations; i++ {
		it, err := l.Iterate(ctx, i)
		if err != nil {
			return out, fmt.Errorf("iteration %d: %w", i, err)
		}
		out = append(out, *it)
	}
	return out, nil
}

// Explore runs the random controller for the configured number of
// episodes and adds them to the dataset.
func (l *Learner) Explore(ctx context.Context) ([]Iteration, error) {
	ctrl, err := l.setup.Controller("random")
	if err != nil {
		return nil, err
	}
	n := l.setup.Config.Explore.Episodes
	if n < 1 {
		n = 1
	}
	out := make([]Iteration, 0, n)
	for e := 0; e < n; e++ {
		it, err := l.episode(ctx, 0, "random", ctrl)
		if err != nil {
			return out, fmt.Errorf("exploration episode %d: %w", e, err)
		}
		l.log("explore").Info("episode collected",
			slog.Int("episode", e),
			slog.Int("transitions", it.Episode.Transitions()),
			slog.Float64("cost", it.Metrics["accumulated_cost"]))
		out = append(out, *it)
		l.notify(*it)
	}
	return out, nil
}

// Iterate fits the model on all experience, optimises the policy and runs
// it on the plant.
func (l *Learner) Iterate(ctx context.Context, index int) (*Iteration, error) {
	s := l.setup
	if err := l.fitModel(); err != nil {
		return nil, err
	}
	if err := l.initPolicy(); err != nil {
		return nil, err
	}

	loss, err := mcpilco.GetLoss(s.Policy, s.Dynamics, s.Cost, s.StateDim(), s.Config.AngleDims, s.LossOptions())
	if err != nil {
		return nil, err
	}
	opt, err := mcpilco.Optimize(ctx, loss, s.Inputs(), mcpilco.OptimizeOptions{
		Method:        s.Config.Optim.Method,
		MaxIterations: s.Config.Optim.MaxIterations,
		Step:          s.Config.Optim.Step,
	})
	if err != nil {
		return nil, err
	}
	l.log("optimize").Info("policy optimised",
		slog.Int("iteration", index),
		slog.Float64("initial", opt.Initial),
		slog.Float64("loss", opt.Loss),
		slog.Int("evaluations", opt.Evaluations),
		slog.String("status", opt.Status))

	predicted, err := l.predict()
	if err != nil {
		return nil, err
	}

	ctrl, err := s.Controller(s.Config.Controller)
	if err != nil {
		return nil, err
	}
	it, err := l.episode(ctx, index, s.Config.Controller, ctrl)
	if err != nil {
		return nil, err
	}
	if pc, ok := ctrl.(*control.Policy); ok && pc.Err != nil {
		return nil, fmt.Errorf("policy on plant: %w", pc.Err)
	}
	it.Optimize = opt
	it.Predicted = predicted
	l.log("plant").Info("policy applied",
		slog.Int("iteration", index),
		slog.Float64("predicted", predicted.Loss),
		slog.Float64("cost", it.Metrics["accumulated_cost"]),
		slog.Float64("upright", it.Metrics["upright"]))
	l.notify(*it)
	return it, nil
}

// Predict fits the model on the current experience and returns the
// particle rollout of the current policy with per-particle outputs.
func (l *Learner) Predict() (*mcpilco.Result, error) {
	if err := l.fitModel(); err != nil {
		return nil, err
	}
	if err := l.initPolicy(); err != nil {
		return nil, err
	}
	return l.predict()
}

func (l *Learner) predict() (*mcpilco.Result, error) {
	s := l.setup
	opts := s.LossOptions()
	opts.IntermediateOutputs = true
	loss, err := mcpilco.GetLoss(s.Policy, s.Dynamics, s.Cost, s.StateDim(), s.Config.AngleDims, opts)
	if err != nil {
		return nil, err
	}
	res, err := loss.Evaluate(s.Inputs())
	if err != nil {
		return nil, fmt.Errorf("predicted rollout: %w", err)
	}
	return res, nil
}

func (l *Learner) notify(it Iteration) {
	if l.hook != nil {
		l.hook(it)
	}
}

// episode runs ctrl from a start state drawn from the initial belief,
// records it, and stores it when a store is configured.
func (l *Learner) episode(ctx context.Context, index int, ctrlName string, ctrl dynamo.Controller) (*Iteration, error) {
	s := l.setup
	runner := plant.NewRunner(s.Plant)
	runner.Cost = s.Cost
	runner.Noisy = len(s.Config.Plant.MeasurementNoise) > 0
	for _, m := range s.Metrics() {
		runner.AddMetric(m)
	}
	res, err := runner.Run(ctx, s.SampleInitialState(l.rng), ctrl, s.Config.Horizon)
	if err != nil {
		return nil, err
	}
	if err := l.data.Add(res.Episode); err != nil {
		return nil, err
	}
	it := &Iteration{Index: index, Episode: res.Episode, Metrics: res.Metrics}
	if l.store != nil {
		if it.RunID, err = l.save(index, ctrlName, res); err != nil {
			return nil, err
		}
	}
	return it, nil
}

func (l *Learner) save(index int, ctrlName string, res *plant.Result) (string, error) {
	s := l.setup
	ep := res.Episode
	tr := &storage.Trace{Times: ep.Times, Costs: ep.Costs}
	for _, x := range ep.States {
		tr.States = append(tr.States, x)
	}
	for _, u := range ep.Controls {
		tr.Controls = append(tr.Controls, u)
	}
	id, err := l.store.Save(storage.RunMetadata{
		Name:       l.name,
		Kind:       "episode",
		Iteration:  index,
		Seed:       s.Config.Seed,
		Dt:         s.Config.Dt,
		Steps:      len(ep.Controls),
		Integrator: s.Config.Integrator,
		Controller: ctrlName,
		Loss:       res.Metrics["accumulated_cost"],
		Metrics:    res.Metrics,
	}, tr)
	if err != nil {
		return "", err
	}
	for name, c := range s.Stateful() {
		if err := l.store.SaveSnapshot(id, name, c); err != nil {
			return "", fmt.Errorf("snapshot %s: %w", name, err)
		}
	}
	if err := l.store.SaveSnapshot(id, "experience", l.data); err != nil {
		return "", fmt.Errorf("snapshot experience: %w", err)
	}
	l.log("storage").Debug("run saved", slog.String("run", id))
	return id, nil
}

func (l *Learner) fitModel() error {
	m, ok := l.setup.Dynamics.(*dynmodel.LinearGaussian)
	if !ok {
		return nil
	}
	x, y, err := l.data.Regression(l.setup.Config.AngleDims)
	if err != nil {
		return err
	}
	if err := m.Fit(x, y); err != nil {
		return err
	}
	l.log("model").Info("dynamics fitted", slog.Int("transitions", l.data.Len()))
	return nil
}

// initPolicy places the centers of an untrained RBF policy on observed
// states spread evenly over the dataset, once.
func (l *Learner) initPolicy() error {
	p := l.setup.Policy
	if n, ok := p.(*policy.Noisy); ok {
		p = n.Inner
	}
	rbf, ok := p.(*policy.RBF)
	if !ok || l.data.Len() == 0 || l.rbfInit {
		return nil
	}
	x, _, err := l.data.Regression(l.setup.Config.AngleDims)
	if err != nil {
		return err
	}
	nc, _ := rbf.Centers.Dims()
	rows, _ := x.Dims()
	if rows < nc {
		return nil
	}
	da := belief.AugmentedDim(l.setup.StateDim(), l.setup.Config.AngleDims)
	picked := mat.NewDense(nc, da, nil)
	for k := 0; k < nc; k++ {
		picked.SetRow(k, x.RawRowView(k*rows/nc)[:da])
	}
	if err := rbf.InitCenters(picked); err != nil {
		return err
	}
	l.rbfInit = true
	return nil
}
