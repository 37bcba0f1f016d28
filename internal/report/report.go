// Package report renders rollouts, stored traces and learning curves as
// image files. The format follows the file extension (png, svg, pdf).
package report

import (
	"fmt"

	"github.com/san-kum/mcpilco/internal/dynamo"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"github.com/san-kum/mcpilco/internal/storage"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	width  = 8 * vg.Inch
	height = 6 * vg.Inch
)

// SaveCosts plots the per-particle costs of a rollout in grey with their
// mean on top.
func SaveCosts(path string, res *mcpilco.Result) error {
	if res == nil || res.Costs == nil {
		return dynamo.Configf("report: rollout has no per-particle costs")
	}
	n, h := res.Costs.Dims()
	p := plot.New()
	p.Title.Text = "Predicted cost"
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "Cost"

	for i := 0; i < n; i++ {
		line, err := plotter.NewLine(series(mat.Row(nil, i, res.Costs)))
		if err != nil {
			return err
		}
		line.Color = plotutil.DarkColors[len(plotutil.DarkColors)-1]
		line.Width = vg.Points(0.3)
		p.Add(line)
	}
	mean := make([]float64, h)
	for t := range mean {
		mean[t] = stat.Mean(mat.Col(nil, t, res.Costs), nil)
	}
	line, err := plotter.NewLine(series(mean))
	if err != nil {
		return err
	}
	line.Color = plotutil.Color(0)
	line.Width = vg.Points(2)
	p.Add(line)
	p.Legend.Add(fmt.Sprintf("mean of %d particles (total %.3f)", n, floats.Sum(mean)), line)
	return p.Save(width, height, path)
}

// SaveTrajectories plots every particle trajectory of a rollout, one line
// per particle and state dimension. Labels name the dimensions.
func SaveTrajectories(path string, res *mcpilco.Result, labels []string) error {
	if res == nil || len(res.Trajectories) == 0 {
		return dynamo.Configf("report: rollout has no trajectories")
	}
	_, d := res.Trajectories[0].Dims()
	p := plot.New()
	p.Title.Text = "Particle trajectories"
	p.X.Label.Text = "Step"
	p.Y.Label.Text = "State"

	for j := 0; j < d; j++ {
		for i, tr := range res.Trajectories {
			line, err := plotter.NewLine(series(mat.Col(nil, j, tr)))
			if err != nil {
				return err
			}
			line.Color = plotutil.Color(j)
			line.Width = vg.Points(0.5)
			p.Add(line)
			if i == 0 {
				p.Legend.Add(label(labels, j), line)
			}
		}
	}
	return p.Save(width, height, path)
}

// SaveTrace plots the states of a stored run against time, and its cost
// when the run recorded one.
func SaveTrace(path string, tr *storage.Trace, labels []string) error {
	if tr == nil || len(tr.States) == 0 {
		return dynamo.Configf("report: trace is empty")
	}
	p := plot.New()
	p.Title.Text = "Episode"
	p.X.Label.Text = "Time (s)"

	for j := range tr.States[0] {
		pts := make(plotter.XYs, len(tr.States))
		for i, x := range tr.States {
			pts[i] = plotter.XY{X: tr.Times[i], Y: x[j]}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(j)
		p.Add(line)
		p.Legend.Add(label(labels, j), line)
	}
	if len(tr.Costs) == len(tr.Times) {
		pts := make(plotter.XYs, len(tr.Costs))
		for i, c := range tr.Costs {
			pts[i] = plotter.XY{X: tr.Times[i], Y: c}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(len(tr.States[0]))
		line.Dashes = plotutil.Dashes(1)
		p.Add(line)
		p.Legend.Add("cost", line)
	}
	return p.Save(width, height, path)
}

// SaveLearningCurve plots the predicted and observed episode cost of each
// learning iteration.
func SaveLearningCurve(path string, predicted, observed []float64) error {
	if len(observed) == 0 {
		return dynamo.Configf("report: no iterations to plot")
	}
	p := plot.New()
	p.Title.Text = "Learning progress"
	p.X.Label.Text = "Iteration"
	p.Y.Label.Text = "Cost"

	lines := []interface{}{"observed", series(observed)}
	if len(predicted) > 0 {
		lines = append(lines, "predicted", series(predicted))
	}
	if err := plotutil.AddLinePoints(p, lines...); err != nil {
		return err
	}
	return p.Save(width, height, path)
}

func series(ys []float64) plotter.XYs {
	pts := make(plotter.XYs, len(ys))
	for i, y := range ys {
		pts[i] = plotter.XY{X: float64(i), Y: y}
	}
	return pts
}

func label(labels []string, j int) string {
	if j < len(labels) {
		return labels[j]
	}
	return fmt.Sprintf("x%d", j)
}
