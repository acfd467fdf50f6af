// Command tune searches sliding-mode controller gains for the double
// inverted pendulum with a particle swarm.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pthm-cable/diptune/config"
	"github.com/pthm-cable/diptune/controller"
	"github.com/pthm-cable/diptune/plant"
)

type rootOptions struct {
	configPath string
	controller string
	logFormat  string
	logLevel   string
	workers    int
}

// env holds everything the subcommands share.
type env struct {
	cfg     *config.Config
	factory *controller.TypedFactory
	sim     *plant.BatchSimulator
	logger  *slog.Logger
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "tune",
		Short:         "Tune sliding-mode controller gains for a double inverted pendulum",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	f := root.PersistentFlags()
	f.StringVar(&opts.configPath, "config", "", "Config YAML file (empty = use defaults)")
	f.StringVar(&opts.controller, "controller", controller.ClassicalSMC, "Controller type to tune")
	f.StringVar(&opts.logFormat, "log-format", "json", "Log format: json or text")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	f.IntVar(&opts.workers, "workers", 0, "Concurrent particle simulations (0 = GOMAXPROCS)")

	root.AddCommand(
		newTuneCmd(opts),
		newEvaluateCmd(opts),
		newBaselineCmd(opts),
	)
	return root
}

// setup installs the logger and builds the config, factory and simulator.
func (o *rootOptions) setup() (*env, error) {
	logger, err := newLogger(o.logFormat, o.logLevel)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	factory, err := controller.NewFactory(o.controller, cfg)
	if err != nil {
		return nil, err
	}
	sim, err := plant.NewBatchSimulator(plant.FromConfig(cfg.Physics), cfg.Simulation.InitialState)
	if err != nil {
		return nil, err
	}
	sim.SetWorkers(o.workers)

	return &env{cfg: cfg, factory: factory, sim: sim, logger: logger}, nil
}

func newLogger(format, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	hopts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stdout, hopts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(os.Stdout, hopts)), nil
	}
	return nil, fmt.Errorf("invalid log format %q", format)
}

// formatDuration formats a duration as HH:MM:SS or MM:SS for shorter durations.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}
