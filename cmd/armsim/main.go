package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/san-kum/armsim/internal/config"
	"github.com/san-kum/armsim/internal/demo"
	"github.com/san-kum/armsim/internal/storage"
	"github.com/san-kum/armsim/internal/telemetry"
)

var (
	dataDir     string
	configFile  string
	preset      string
	chainName   string
	controller  string
	mode        string
	logLevel    string
	logFormat   string
	metricsAddr string

	demoOpts = demo.DefaultOptions()
	plotDir  string
	fps      float64
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "armsim",
		Short:         "manipulator control lab",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&dataDir, "data", ".armsim", "data directory")
	pf.StringVar(&configFile, "config", "", "config file path (yaml)")
	pf.StringVar(&preset, "preset", "", "use preset configuration for the chain")
	pf.StringVar(&chainName, "chain", "", "kinematic chain")
	pf.StringVar(&controller, "controller", "", "controller kind")
	pf.StringVar(&mode, "mode", "", "sim or real")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	pf.StringVar(&logFormat, "log-format", "", "console or json")
	pf.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")

	runCmd := &cobra.Command{
		Use:       "run [demo]",
		Short:     "run a demo and record the episode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: demo.Names(),
		RunE:      runDemo,
	}
	demoFlags(runCmd)
	runCmd.Flags().StringVar(&plotDir, "plot", "", "also write demo plots to this directory")

	liveCmd := &cobra.Command{
		Use:       "live [demo]",
		Short:     "run a demo in the terminal view",
		Args:      cobra.ExactArgs(1),
		ValidArgs: demo.Names(),
		RunE:      runLive,
	}
	demoFlags(liveCmd)
	liveCmd.Flags().Float64Var(&fps, "fps", 20, "policy steps per second")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list recorded episodes",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id|latest]",
		Short: "plot an episode to the terminal and to PNG files",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().StringVar(&plotDir, "out", "", "output directory (default: the episode directory)")

	exportCmd := &cobra.Command{
		Use:   "export [run_id|latest]",
		Short: "export an episode as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportRun,
	}
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "write to file instead of stdout")

	analyzeCmd := &cobra.Command{
		Use:   "analyze [run_id|latest]",
		Short: "torque spectra and joint phase portrait of an episode",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeRun,
	}
	analyzeCmd.Flags().IntVar(&analyzeJoint, "joint", 0, "joint for the spectrum and phase plots")

	tuneCmd := &cobra.Command{
		Use:   "tune [demo]",
		Short: "grid search controller gains in simulation",
		Args:  cobra.ExactArgs(1),
		RunE:  tune,
	}
	demoFlags(tuneCmd)
	tuneCmd.Flags().StringArrayVar(&tuneParams, "param", nil, "gain=v1,v2,... (repeatable)")
	tuneCmd.Flags().StringVar(&tuneMetric, "metric", "tracking_error_rms", "episode metric to minimise")

	scenarioCmd := &cobra.Command{
		Use:   "scenario [file]",
		Short: "run the demo steps of a scenario file",
		Args:  cobra.ExactArgs(1),
		RunE:  runScenario,
	}

	mcCmd := &cobra.Command{
		Use:   "montecarlo [demo]",
		Short: "repeat a demo in simulation from perturbed start postures",
		Args:  cobra.ExactArgs(1),
		RunE:  runMonteCarlo,
	}
	demoFlags(mcCmd)
	mcCmd.Flags().IntVar(&mcTrials, "trials", 20, "number of trials")
	mcCmd.Flags().Float64Var(&mcPerturbation, "perturbation", 0.05, "uniform joint offset bound")
	mcCmd.Flags().Int64Var(&mcSeed, "seed", 0, "random seed (0 uses the clock)")

	rootCmd.AddCommand(runCmd, liveCmd, listCmd, plotCmd, exportCmd, analyzeCmd, tuneCmd, scenarioCmd, mcCmd,
		presetsCmd(), chainsCmd(), controllersCmd(), configCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func demoFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.IntVar(&demoOpts.Steps, "steps", demoOpts.Steps, "policy steps of the path")
	f.IntVar(&demoOpts.Axis, "axis", demoOpts.Axis, "axis of line and rotation demos (0=x 1=y 2=z)")
	f.BoolVar(&demoOpts.Absolute, "absolute", demoOpts.Absolute, "send absolute goals instead of deltas")
	f.Float64Var(&demoOpts.PathLength, "length", demoOpts.PathLength, "line length (m)")
	f.Float64Var(&demoOpts.SquareStep, "square-step", demoOpts.SquareStep, "square step per policy step (m)")
	f.Float64Var(&demoOpts.Rotation, "angle", demoOpts.Rotation, "rotation demo angle (rad)")
	f.Float64Var(&demoOpts.JointDelta, "joint-delta", demoOpts.JointDelta, "joint demo step (rad)")
}

// loadConfig resolves defaults, then the preset or file, then flags.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	switch {
	case configFile != "" && preset != "":
		return nil, fmt.Errorf("--config and --preset are exclusive")
	case configFile != "":
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	case preset != "":
		chain := chainName
		if chain == "" {
			chain = config.DefaultChain
		}
		cfg = config.GetPreset(chain, preset)
		if cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(chain))
		}
	default:
		cfg = config.DefaultConfig()
	}

	flags := cmd.Flags()
	if flags.Changed("chain") {
		cfg.Chain = chainName
	}
	if flags.Changed("controller") {
		cfg.Controller = controller
	}
	if flags.Changed("mode") {
		cfg.Mode = mode
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if flags.Changed("log-format") {
		cfg.Logging.Format = logFormat
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = metricsAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setup loads the configuration, builds the logger and starts the metrics
// endpoint when one is configured.
func setup(cmd *cobra.Command) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := telemetry.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Metrics.Addr != "" {
		go func() {
			if err := telemetry.Serve(cmd.Context(), cfg.Metrics.Addr, logger); err != nil {
				logger.Error("metrics endpoint", zap.Error(err))
			}
		}()
	}
	return cfg, logger, nil
}

// resolveRun maps "latest" to the newest episode id.
func resolveRun(st *storage.Store, id string) (string, error) {
	if id != "latest" {
		return id, nil
	}
	return st.Latest()
}
