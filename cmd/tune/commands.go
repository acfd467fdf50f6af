package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/pthm-cable/diptune/config"
	"github.com/pthm-cable/diptune/telemetry"
	"github.com/pthm-cable/diptune/tuning"
)

// progressEvery is how often, in iterations, progress is logged at info level.
const progressEvery = 10

func newTuneCmd(root *rootOptions) *cobra.Command {
	var (
		particles int
		iters     int
		seed      int64
		outputDir string
		schedule  []float64
		clamp     []float64
	)

	cmd := &cobra.Command{
		Use:   "tune",
		Short: "Run the particle swarm and save the best gains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.setup()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			runID := uuid.NewString()
			var out *telemetry.OutputManager
			if outputDir != "" {
				if out, err = telemetry.NewOutputManager(filepath.Join(outputDir, runID)); err != nil {
					return err
				}
				defer out.Close()
			}

			total := e.cfg.PSO.Iters
			if iters > 0 {
				total = iters
			}

			var tu *tuning.Tuner
			hook := func(it tuning.Iteration) {
				stats := telemetry.NewIterationStats(it, tu.CostModel().Penalty)
				if err := out.WriteIteration(stats); err != nil {
					e.logger.Warn("writing history", "error", err)
				}
				done := it.Index + 1
				if done%progressEvery != 0 && done != total {
					return
				}
				remaining := time.Duration(total-done) * (it.Elapsed / time.Duration(done))
				e.logger.Info("progress",
					"iteration", done,
					"of", total,
					"stats", stats,
					"elapsed", formatDuration(it.Elapsed),
					"eta", formatDuration(remaining),
				)
			}

			opts := []tuning.Option{tuning.WithLogger(e.logger), tuning.WithIterationHook(hook)}
			if cmd.Flags().Changed("seed") {
				opts = append(opts, tuning.WithSeed(seed))
			}
			if tu, err = tuning.New(ctx, e.cfg, e.factory, e.sim, opts...); err != nil {
				return err
			}

			runOpts := []tuning.RunOption{
				tuning.WithRunID(runID),
				tuning.WithOverrides(tuning.Overrides{WSchedule: schedule, VelocityClamp: clamp}),
			}
			if particles > 0 {
				runOpts = append(runOpts, tuning.WithParticles(particles))
			}
			if iters > 0 {
				runOpts = append(runOpts, tuning.WithIterations(iters))
			}

			e.logger.Info("starting tuning",
				"run_id", runID,
				"controller", tu.ControllerType(),
				"dims", tu.Dims(),
				"iterations", total,
			)
			res, err := tu.Optimise(ctx, runOpts...)
			if err != nil {
				return err
			}

			if err := out.WriteResult(res); err != nil {
				return err
			}
			if err := out.WriteBestConfig(e.cfg, res.ControllerType, res.BestPos); err != nil {
				return err
			}
			e.logger.Info("tuning complete",
				"result", res,
				"took", formatDuration(res.Duration),
				"output", out.Dir(),
			)
			fmt.Fprintf(cmd.OutOrStdout(), "best cost %g with gains %s\n", res.BestCost, telemetry.FormatGains(res.BestPos))
			return nil
		},
	}

	f := cmd.Flags()
	f.IntVar(&particles, "particles", 0, "Swarm size (0 = use config)")
	f.IntVar(&iters, "iters", 0, "Iterations (0 = use config)")
	f.Int64Var(&seed, "seed", 0, "RNG seed (overrides pso.seed and global_seed)")
	f.StringVar(&outputDir, "output-dir", "runs", "Directory for run output (empty = no files)")
	f.Float64SliceVar(&schedule, "w-schedule", nil, "Inertia schedule start,end")
	f.Float64SliceVar(&clamp, "velocity-clamp", nil, "Velocity clamp lo,hi as fractions of the bound range")
	return cmd
}

func newEvaluateCmd(root *rootOptions) *cobra.Command {
	var gains []float64

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Print the cost of one gain vector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.setup()
			if err != nil {
				return err
			}
			if len(gains) == 0 {
				if gains, err = configuredGains(e.cfg, root.controller); err != nil {
					return err
				}
			}

			tu, err := tuning.New(cmd.Context(), e.cfg, e.factory, e.sim, tuning.WithLogger(e.logger))
			if err != nil {
				return err
			}
			cost, err := tu.EvaluateGains(cmd.Context(), gains)
			if err != nil {
				return err
			}

			e.logger.Info("evaluated gains",
				"controller", tu.ControllerType(),
				"gains", gains,
				"cost", cost,
				"penalised", cost >= tu.CostModel().Penalty,
			)
			fmt.Fprintf(cmd.OutOrStdout(), "%g\n", cost)
			return nil
		},
	}
	cmd.Flags().Float64SliceVar(&gains, "gains", nil, "Gain vector (empty = configured gains)")
	return cmd
}

func newBaselineCmd(root *rootOptions) *cobra.Command {
	var gains []float64

	cmd := &cobra.Command{
		Use:   "baseline",
		Short: "Simulate one gain vector and print the cost norms it implies",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := root.setup()
			if err != nil {
				return err
			}
			if len(gains) == 0 {
				if gains, err = configuredGains(e.cfg, root.controller); err != nil {
					return err
				}
			}

			ctrl, err := e.factory.New(gains)
			if err != nil {
				return err
			}
			sc := e.cfg.Simulation
			outcome, err := e.sim.SimulateBatch(cmd.Context(), e.factory, [][]float64{gains}, sc.Duration, sc.DT, ctrl.MaxForce(), nil)
			if err != nil {
				return err
			}
			n := tuning.BaselineNorms(outcome.Draws()[0])
			e.logger.Info("baseline norms", "gains", gains, "ise", n.ISE, "u", n.U, "du", n.DU, "sigma", n.Sigma)

			snippet := map[string]any{
				"cost_function": map[string]any{
					"norms": config.NormsConfig{ISE: n.ISE, U: n.U, DU: n.DU, Sigma: n.Sigma},
				},
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer enc.Close()
			return enc.Encode(snippet)
		},
	}
	cmd.Flags().Float64SliceVar(&gains, "gains", nil, "Gain vector (empty = configured gains)")
	return cmd
}

func configuredGains(cfg *config.Config, kind string) ([]float64, error) {
	cc, ok := cfg.Controller(kind)
	if !ok || len(cc.Gains) == 0 {
		return nil, errors.New("no gains configured for " + kind + "; pass --gains")
	}
	return cc.Gains, nil
}
