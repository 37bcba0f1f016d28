// Package experience stores the episodes collected on a plant and turns
// them into regression data for dynamics models.
package experience

import (
	"fmt"

	"github.com/san-kum/mcpilco/internal/belief"
	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/storage"
	"gonum.org/v1/gonum/mat"
)

// Episode is one run on a plant. Controls[t] is applied at States[t], so
// there is at most one control fewer than states.
type Episode struct {
	States   []dynamo.State
	Controls []dynamo.Control
	Times    []float64
	Costs    []float64
}

// Transitions is the number of (x_t, u_t, x_t+1) triples in the episode.
func (e Episode) Transitions() int {
	n := len(e.States) - 1
	if len(e.Controls) < n {
		n = len(e.Controls)
	}
	if n < 0 {
		return 0
	}
	return n
}

// Dataset is an append-only collection of episodes of fixed dimensions.
type Dataset struct {
	stateDim, controlDim int
	episodes             []Episode
}

func New(stateDim, controlDim int) *Dataset {
	return &Dataset{stateDim: stateDim, controlDim: controlDim}
}

func (ds *Dataset) Add(ep Episode) error {
	for t, x := range ep.States {
		if len(x) != ds.stateDim {
			return dynamo.Shapef("experience: state %d has %d entries, want %d", t, len(x), ds.stateDim)
		}
		if !x.IsValid() {
			return fmt.Errorf("experience: state %d: %w", t, dynamo.ErrInvalidState)
		}
	}
	for t, u := range ep.Controls {
		if len(u) != ds.controlDim {
			return dynamo.Shapef("experience: control %d has %d entries, want %d", t, len(u), ds.controlDim)
		}
	}
	ds.episodes = append(ds.episodes, ep)
	return nil
}

func (ds *Dataset) Episodes() []Episode { return ds.episodes }

// Len is the total number of transitions.
func (ds *Dataset) Len() int {
	n := 0
	for _, ep := range ds.episodes {
		n += ep.Transitions()
	}
	return n
}

// Regression returns the inputs [xa_t, u_t] and the targets x_t+1 − x_t of
// every transition.
func (ds *Dataset) Regression(angleDims []int) (*mat.Dense, *mat.Dense, error) {
	if err := belief.ValidateAngleDims(angleDims, ds.stateDim); err != nil {
		return nil, nil, err
	}
	n := ds.Len()
	if n == 0 {
		return nil, nil, dynamo.Configf("experience: no transitions")
	}
	da := belief.AugmentedDim(ds.stateDim, angleDims)
	x := mat.NewDense(n, da+ds.controlDim, nil)
	y := mat.NewDense(n, ds.stateDim, nil)

	raw := mat.NewDense(n, ds.stateDim, nil)
	row := 0
	for _, ep := range ds.episodes {
		for t := 0; t < ep.Transitions(); t++ {
			raw.SetRow(row, ep.States[t])
			for j := 0; j < ds.controlDim; j++ {
				x.Set(row, da+j, ep.Controls[t][j])
			}
			for j := 0; j < ds.stateDim; j++ {
				y.Set(row, j, ep.States[t+1][j]-ep.States[t][j])
			}
			row++
		}
	}
	x.Slice(0, n, 0, da).(*mat.Dense).Copy(belief.AugmentParticles(raw, angleDims))
	return x, y, nil
}

// InitialMoments returns the empirical mean and covariance of the first
// state of every episode.
func (ds *Dataset) InitialMoments() (*mat.VecDense, *mat.SymDense, error) {
	if len(ds.episodes) == 0 {
		return nil, nil, dynamo.Configf("experience: no episodes")
	}
	x0 := mat.NewDense(len(ds.episodes), ds.stateDim, nil)
	for i, ep := range ds.episodes {
		if len(ep.States) == 0 {
			return nil, nil, dynamo.Configf("experience: episode %d is empty", i)
		}
		x0.SetRow(i, ep.States[0])
	}
	m, s := belief.Empirical(x0)
	return m, s, nil
}

var datasetSchema = storage.Schema{
	Name:    "experience.dataset",
	Version: 1,
	Fields: []storage.Field{
		{Name: "state_dim", Kind: storage.KindInt},
		{Name: "control_dim", Kind: storage.KindInt},
		{Name: "lengths", Kind: storage.KindVector},
		{Name: "states", Kind: storage.KindVector},
		{Name: "controls", Kind: storage.KindVector},
		{Name: "times", Kind: storage.KindVector},
		{Name: "costs", Kind: storage.KindVector},
	},
}

func (ds *Dataset) Schema() storage.Schema { return datasetSchema }

// Snapshot flattens the episodes. Each episode contributes len(States)
// states and times, len(States)-1 controls and len(States) costs, padded
// with zeros where it recorded fewer.
func (ds *Dataset) Snapshot() storage.Record {
	var lengths, states, controls, times, costs []float64
	for _, ep := range ds.episodes {
		n := len(ep.States)
		lengths = append(lengths, float64(n))
		for t := 0; t < n; t++ {
			states = append(states, ep.States[t]...)
			times = append(times, at(ep.Times, t))
			costs = append(costs, at(ep.Costs, t))
			if t < n-1 {
				for j := 0; j < ds.controlDim; j++ {
					v := 0.0
					if t < len(ep.Controls) {
						v = ep.Controls[t][j]
					}
					controls = append(controls, v)
				}
			}
		}
	}
	return storage.Record{
		"state_dim":   storage.Int(ds.stateDim),
		"control_dim": storage.Int(ds.controlDim),
		"lengths":     storage.Vector(lengths),
		"states":      storage.Vector(states),
		"controls":    storage.Vector(controls),
		"times":       storage.Vector(times),
		"costs":       storage.Vector(costs),
	}
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func (ds *Dataset) Restore(r storage.Record) error {
	d, err := r.Int("state_dim")
	if err != nil {
		return err
	}
	u, err := r.Int("control_dim")
	if err != nil {
		return err
	}
	fields := make(map[string][]float64)
	for _, name := range []string{"lengths", "states", "controls", "times", "costs"} {
		if fields[name], err = r.Vector(name); err != nil {
			return err
		}
	}

	restored := New(d, u)
	var si, ui, ti int
	for _, l := range fields["lengths"] {
		n := int(l)
		if si+n*d > len(fields["states"]) || ui+(n-1)*u > len(fields["controls"]) || ti+n > len(fields["times"]) {
			return fmt.Errorf("%w: experience snapshot is truncated", storage.ErrSchema)
		}
		ep := Episode{}
		for t := 0; t < n; t++ {
			ep.States = append(ep.States, dynamo.State(fields["states"][si:si+d]).Clone())
			si += d
			ep.Times = append(ep.Times, fields["times"][ti])
			ep.Costs = append(ep.Costs, fields["costs"][ti])
			ti++
			if t < n-1 {
				ep.Controls = append(ep.Controls, append(dynamo.Control(nil), fields["controls"][ui:ui+u]...))
				ui += u
			}
		}
		if err := restored.Add(ep); err != nil {
			return err
		}
	}
	*ds = *restored
	return nil
}
