package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/mcpilco/internal/config"
	"github.com/san-kum/mcpilco/internal/experiment"
	"github.com/san-kum/mcpilco/internal/learner"
	"github.com/san-kum/mcpilco/internal/mcpilco"
	"github.com/san-kum/mcpilco/internal/optim"
	"github.com/san-kum/mcpilco/internal/plant"
	"github.com/san-kum/mcpilco/internal/report"
	"github.com/san-kum/mcpilco/internal/storage"
	"github.com/san-kum/mcpilco/internal/viz"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
)

var (
	dataDir    string
	configFile string
	preset     string
	system     string
	seed       uint64
	horizon    int
	iterations int
	particles  int
	controller string
	verbose    bool
	plotDir    string
	outFile    string
	fromRun    string
	frameRate  int
	sweepArgs  []string
	metricName string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "mcpilco",
		Short:        "particle-based policy search for ode plants",
		SilenceUsage: true,
	}
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data", ".mcpilco", "data directory")
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "use preset configuration")
	pf.StringVar(&system, "system", "cartpole", "system for --preset")
	pf.Uint64Var(&seed, "seed", 1, "random seed")
	pf.IntVar(&horizon, "horizon", 0, "control periods per episode and rollout")
	pf.IntVar(&particles, "particles", 0, "particles per rollout")
	pf.BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rolloutCmd := &cobra.Command{
		Use:   "rollout",
		Short: "explore once and print the predicted particle rollout of the initial policy",
		RunE:  runRollout,
	}
	rolloutCmd.Flags().StringVar(&plotDir, "plot", "", "write cost and trajectory plots to this directory")

	learnCmd := &cobra.Command{
		Use:   "learn",
		Short: "run the policy search loop and store every episode",
		RunE:  runLearn,
	}
	learnCmd.Flags().IntVar(&iterations, "iterations", 0, "policy search iterations")
	learnCmd.Flags().StringVar(&plotDir, "plot", "", "write the learning curve and last rollout to this directory")

	liveCmd := &cobra.Command{
		Use:   "live",
		Short: "watch a controller on the plant",
		RunE:  runLive,
	}
	liveCmd.Flags().StringVar(&controller, "controller", "", "none, random, lqr or policy")
	liveCmd.Flags().StringVar(&fromRun, "run", "", "load the policy snapshot of a stored run")
	liveCmd.Flags().IntVar(&frameRate, "fps", 20, "frames per second")

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "list stored runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVarP(&outFile, "out", "o", "", "output image (default <run_id>.png)")

	presetsCmd := &cobra.Command{
		Use:   "presets [system]",
		Short: "list preset configurations",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listPresets,
	}

	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "score a controller over a grid of physics parameters",
		RunE:  runSweep,
	}
	sweepCmd.Flags().StringArrayVar(&sweepArgs, "param", nil, "name=v1,v2,... (repeatable)")
	sweepCmd.Flags().StringVar(&controller, "controller", "", "none, random, lqr or policy")
	sweepCmd.Flags().StringVar(&fromRun, "run", "", "load the policy snapshot of a stored run")
	sweepCmd.Flags().StringVar(&metricName, "metric", "accumulated_cost", "episode metric to minimise")
	_ = sweepCmd.MarkFlagRequired("param")

	rootCmd.AddCommand(rolloutCmd, learnCmd, liveCmd, runsCmd, plotCmd, presetsCmd, sweepCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig resolves the preset or config file, then applies the flags
// that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case configFile != "":
		c, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = c
	case preset != "":
		cfg = config.GetPreset(system, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(system))
		}
	default:
		cfg = config.DefaultConfig()
	}

	flags := cmd.Flags()
	if flags.Changed("seed") {
		cfg.Seed = seed
	}
	if flags.Changed("horizon") {
		cfg.Horizon = horizon
	}
	if flags.Changed("particles") {
		cfg.Loss.Particles = particles
	}
	if flags.Changed("iterations") {
		cfg.Iterations = iterations
	}
	if flags.Changed("controller") {
		cfg.Controller = controller
	}
	return cfg, cfg.Validate()
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func setup(cmd *cobra.Command) (*experiment.Setup, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return experiment.Build(cfg, experiment.NewRegistry())
}

func runRollout(cmd *cobra.Command, args []string) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	l := learner.New(s, learner.WithLogger(newLogger()))
	if _, err := l.Explore(ctx); err != nil {
		return err
	}
	start := time.Now()
	res, err := l.Predict()
	if err != nil {
		return err
	}
	fmt.Printf("rollout of %d particles over %d steps in %v\n", s.Config.Loss.Particles, s.Config.Horizon, time.Since(start))
	fmt.Printf("loss: %.6f\n", res.Loss)
	if plotDir == "" {
		return nil
	}
	return savePlots(plotDir, res, nil, nil)
}

func runLearn(cmd *cobra.Command, args []string) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ITER\tRUN\tPREDICTED\tCOST\tUPRIGHT")
	l := learner.New(s,
		learner.WithLogger(newLogger()),
		learner.WithStore(st, s.Config.System),
		learner.WithIterationHook(func(it learner.Iteration) {
			predicted := "-"
			if it.Predicted != nil {
				predicted = fmt.Sprintf("%.4f", it.Predicted.Loss)
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%.4f\t%.2f\n", it.Index, it.RunID, predicted, it.Metrics["accumulated_cost"], it.Metrics["upright"])
			w.Flush()
		}),
	)
	its, err := l.Run(ctx)
	if err != nil {
		return err
	}
	if plotDir == "" {
		return nil
	}

	var predicted, observed []float64
	for _, it := range its {
		if it.Predicted != nil {
			predicted = append(predicted, it.Predicted.Loss)
			observed = append(observed, it.Metrics["accumulated_cost"])
		}
	}
	return savePlots(plotDir, its[len(its)-1].Predicted, predicted, observed)
}

func savePlots(dir string, res *mcpilco.Result, predicted, observed []float64) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	if res != nil {
		if err := report.SaveCosts(filepath.Join(dir, "costs.png"), res); err != nil {
			return err
		}
		if err := report.SaveTrajectories(filepath.Join(dir, "trajectories.png"), res, nil); err != nil {
			return err
		}
	}
	if len(observed) > 0 {
		if err := report.SaveLearningCurve(filepath.Join(dir, "learning.png"), predicted, observed); err != nil {
			return err
		}
	}
	fmt.Printf("plots written to %s\n", dir)
	return nil
}

// restorePolicy loads the policy snapshot of --run into s.
func restorePolicy(s *experiment.Setup) error {
	if fromRun == "" {
		return nil
	}
	pol, ok := s.Stateful()["policy"]
	if !ok {
		return fmt.Errorf("policy %T cannot be restored", s.Policy)
	}
	return storage.New(dataDir).LoadSnapshot(fromRun, "policy", pol)
}

func runLive(cmd *cobra.Command, args []string) error {
	s, err := setup(cmd)
	if err != nil {
		return err
	}
	if err := restorePolicy(s); err != nil {
		return err
	}
	ctrl, err := s.Controller(s.Config.Controller)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := plant.NewRunner(s.Plant)
	runner.Noisy = len(s.Config.Plant.MeasurementNoise) > 0
	x0 := s.SampleInitialState(rand.New(rand.NewSource(s.Config.Seed)))
	period := time.Second / time.Duration(max(frameRate, 1))
	stream := viz.NewStream(ctx, runner, x0, ctrl, s.Config.Horizon, s.Cost, period)

	if _, err := tea.NewProgram(viz.NewModel(stream, s.Config.System), tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	cancel()
	if _, err := stream.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tKIND\tITER\tTIME\tSTEPS\tCTRL\tCOST")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%d\t%s\t%.4f\n",
			run.ID,
			run.Name,
			run.Kind,
			run.Iteration,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Steps,
			run.Controller,
			run.Loss,
		)
	}
	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]
	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	tr, err := st.LoadTrace(runID)
	if err != nil {
		return err
	}
	out := outFile
	if out == "" {
		out = runID + ".png"
	}
	if err := report.SaveTrace(out, tr, stateLabels(meta.Name)); err != nil {
		return err
	}
	fmt.Printf("plot written to %s\n", out)
	return nil
}

func stateLabels(system string) []string {
	switch system {
	case "cartpole":
		return []string{"x", "dx", "dθ", "θ"}
	case "pendulum":
		return []string{"dθ", "θ"}
	}
	return nil
}

func listPresets(cmd *cobra.Command, args []string) error {
	systems := config.Systems()
	if len(args) == 1 {
		systems = args
	}
	for _, sys := range systems {
		names := config.ListPresets(sys)
		if len(names) == 0 {
			return fmt.Errorf("no presets for system: %s", sys)
		}
		fmt.Printf("%s:\n", sys)
		for _, name := range names {
			cfg := config.GetPreset(sys, name)
			fmt.Printf("  %-10s policy=%s model=%s horizon=%d particles=%d\n",
				name, cfg.Policy.Kind, cfg.Model.Kind, cfg.Horizon, cfg.Loss.Particles)
		}
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(sweepArgs))
	ranges := make([][]float64, 0, len(sweepArgs))
	for _, arg := range sweepArgs {
		name, list, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("invalid --param %q, want name=v1,v2", arg)
		}
		var vals []float64
		for _, f := range strings.Split(list, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
			if err != nil {
				return fmt.Errorf("--param %s: %w", name, err)
			}
			vals = append(vals, v)
		}
		names = append(names, name)
		ranges = append(ranges, vals)
	}
	g, err := optim.NewGridSearch(names, ranges)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	eval := optim.PlantMetric(cfg, experiment.NewRegistry(), cfg.Controller, metricName, restorePolicy)
	points, best, err := g.Search(ctx, eval)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", strings.ToUpper(strings.Join(names, "\t")), strings.ToUpper(metricName))
	for _, p := range points {
		row := make([]string, len(names))
		for i, n := range names {
			row[i] = strconv.FormatFloat(p.Params[n], 'g', -1, 64)
		}
		val := fmt.Sprintf("%.4f", p.Value)
		if p.Err != nil {
			val = "error: " + p.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\n", strings.Join(row, "\t"), val)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if best.Params != nil {
		fmt.Printf("best: %v (%.4f)\n", best.Params, best.Value)
	}
	return nil
}
