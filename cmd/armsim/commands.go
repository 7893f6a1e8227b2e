package main

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/armsim/internal/analysis"
	"github.com/san-kum/armsim/internal/automation"
	"github.com/san-kum/armsim/internal/config"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/experiment"
	"github.com/san-kum/armsim/internal/export"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/optim"
	"github.com/san-kum/armsim/internal/plots"
	"github.com/san-kum/armsim/internal/storage"
	"github.com/san-kum/armsim/internal/tui"
)

var (
	exportOut    string
	tuneParams   []string
	tuneMetric   string
	analyzeJoint int

	mcTrials       int
	mcPerturbation float64
	mcSeed         int64
)

func runDemo(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	st := storage.New(dataDir)
	e, err := experiment.New(cfg, experiment.WithLogger(logger), experiment.WithStore(st))
	if err != nil {
		return err
	}

	start := time.Now()
	out, runErr := e.Run(cmd.Context(), args[0], demoOpts)
	elapsed := time.Since(start)
	if out == nil {
		return runErr
	}

	fmt.Printf("completed in %v\n", elapsed.Round(time.Millisecond))
	fmt.Printf("run id: %s\n", out.EpisodeID)
	if out.Result != nil {
		fmt.Printf("steps: %d\n", len(out.Result.Errors))
		printAxes("final error", out.Result.Axes, out.Result.Final())
	}
	printMetrics(out.Metrics)

	if plotDir != "" && out.Result != nil && len(out.Result.Errors) > 0 {
		if err := os.MkdirAll(plotDir, 0755); err != nil {
			return err
		}
		written, err := plots.SaveDemo(out.Result, plotDir)
		if err != nil {
			return err
		}
		for _, p := range written {
			fmt.Printf("wrote %s\n", p)
		}
	}
	return runErr
}

func printAxes(title string, axes []string, v map[string]float64) {
	if len(v) == 0 {
		return
	}
	fmt.Printf("\n%s:\n", title)
	for _, a := range axes {
		fmt.Printf("  %-4s %.6f\n", a, v[a])
	}
}

func printMetrics(m map[string]float64) {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	fmt.Println("\nmetrics:")
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, m[name])
	}
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	// The terminal belongs to the view.
	logger = zap.NewNop()
	e, err := experiment.New(cfg, experiment.WithLogger(logger), experiment.WithStore(storage.New(dataDir)))
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if err := e.Setup(ctx, args[0]); err != nil {
		return err
	}

	m, err := tui.NewModel(ctx, e.World(), e.Chain(), args[0], demoOpts,
		tui.WithController(cfg.Controller), tui.WithFrameRate(fps))
	if err != nil {
		_, ferr := e.Finish(nil, err)
		return ferr
	}
	m, err = tui.Run(ctx, m)
	if err != nil {
		_, ferr := e.Finish(m.Result(), err)
		return ferr
	}
	out, err := e.Finish(m.Result(), m.Err())
	if out != nil && out.EpisodeID != "" {
		fmt.Printf("run id: %s\n", out.EpisodeID)
	}
	return err
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
	fmt.Fprintln(w, "ID\tCHAIN\tMODE\tDEMO\tCTRL\tTIME\tSTEPS\tTRACKING\tERROR")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%.5f\t%s\n",
			run.ID,
			run.Chain,
			run.Mode,
			run.Demo,
			run.Controller,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Steps,
			run.Metrics["tracking_error_rms"],
			run.Err,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	id, err := resolveRun(st, args[0])
	if err != nil {
		return err
	}
	meta, err := st.Load(id)
	if err != nil {
		return err
	}
	ticks, err := st.LoadTicks(id)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s (%s / %s / %s)\n\n", meta.ID, meta.Chain, meta.Demo, meta.Controller)
	if data := finite(ticks.Column("error")); len(data) > 1 {
		graph := asciigraph.Plot(downsample(data, 80),
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption("tracking error"),
		)
		fmt.Println(graph)
		fmt.Println()
	}

	dir := plotDir
	if dir == "" {
		dir = st.Path(id)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	written, err := plots.SaveEpisode(meta, ticks, dir)
	if err != nil {
		return err
	}
	svgs, err := saveSVG(meta, ticks, dir)
	for _, p := range append(written, svgs...) {
		fmt.Printf("wrote %s\n", p)
	}
	return err
}

// saveSVG writes the xy path of the end effector and the final arm pose.
func saveSVG(meta *storage.EpisodeMetadata, ticks *storage.Ticks, dir string) ([]string, error) {
	var written []string
	paths := []export.PathSVG{
		{Points: analysis.PhasePortrait(ticks.Column("gx"), ticks.Column("gy")), Stroke: "#888888"},
		{Points: analysis.PhasePortrait(ticks.Column("x"), ticks.Column("y")), Stroke: "#00ff88"},
	}
	if svg := export.PathsToSVG(paths, 600, 600); svg != "" {
		path := filepath.Join(dir, "path.svg")
		if err := os.WriteFile(path, []byte(svg), 0644); err != nil {
			return written, err
		}
		written = append(written, path)
	}

	chain, err := kinematics.Lookup(meta.Chain)
	if err != nil || ticks.Len() == 0 {
		return written, nil
	}
	q := make([]float64, chain.DOF())
	for i := range q {
		col := ticks.Column(fmt.Sprintf("q%d", i))
		if col == nil {
			return written, nil
		}
		q[i] = col[len(col)-1]
	}
	c := tui.NewCanvas(60, 20)
	tui.NewView(c, tui.Reach(chain)).Arm(c, chain, q)
	path := filepath.Join(dir, "arm.svg")
	if err := os.WriteFile(path, []byte(export.CanvasToSVG(c, 4)), 0644); err != nil {
		return written, err
	}
	return append(written, path), nil
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	id, err := resolveRun(st, args[0])
	if err != nil {
		return err
	}
	meta, err := st.Load(id)
	if err != nil {
		return err
	}
	ticks, err := st.LoadTicks(id)
	if err != nil {
		return err
	}
	rate := meta.ControlFreq
	cutoff := rate / 4

	fmt.Printf("run: %s (%d ticks at %g Hz)\n\n", meta.ID, ticks.Len(), rate)
	if s, err := analysis.PowerSpectrum(finite(ticks.Column("error")), rate); err == nil {
		f, a := s.Dominant()
		fmt.Printf("tracking error: dominant %.2f Hz (amplitude %.2e)\n\n", f, a)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "JOINT\tDOMINANT_HZ\tAMPLITUDE\tABOVE_%.0fHZ\n", cutoff)
	var selected *analysis.Spectrum
	for i := 0; ; i++ {
		col := ticks.Column(fmt.Sprintf("tau%d", i))
		if col == nil {
			break
		}
		s, err := analysis.PowerSpectrum(col, rate)
		if err != nil {
			fmt.Fprintf(w, "%d\terror: %v\t\t\n", i, err)
			continue
		}
		if i == analyzeJoint {
			selected = s
		}
		f, a := s.Dominant()
		fmt.Fprintf(w, "%d\t%.2f\t%.3e\t%.1f%%\n", i, f, a, 100*s.HighFrequencyRatio(cutoff))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if selected != nil && len(selected.Amplitude) > 2 {
		graph := asciigraph.Plot(downsample(selected.Amplitude[1:], 80),
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("torque spectrum (joint %d, 0 to %.0f Hz)", analyzeJoint, rate/2)),
		)
		fmt.Println()
		fmt.Println(graph)
	}

	pts := analysis.PhasePortrait(ticks.Column(fmt.Sprintf("q%d", analyzeJoint)), ticks.Column(fmt.Sprintf("qd%d", analyzeJoint)))
	if len(pts) > 0 {
		fmt.Printf("\nphase portrait: q%d (x) vs qd%d (y)\n", analyzeJoint, analyzeJoint)
		fmt.Print(analysis.PhasePortraitToASCII(pts, 80, 20))
	}
	return nil
}

func finite(v []float64) []float64 {
	out := make([]float64, 0, len(v))
	for _, x := range v {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			out = append(out, x)
		}
	}
	return out
}

func downsample(v []float64, n int) []float64 {
	if len(v) <= n {
		return v
	}
	out := make([]float64, n)
	for i := range out {
		out[i] = v[i*len(v)/n]
	}
	return out
}

func exportRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	id, err := resolveRun(st, args[0])
	if err != nil {
		return err
	}
	if exportOut != "" {
		if err := st.ExportFile(exportOut, id); err != nil {
			return err
		}
		fmt.Printf("exported to %s\n", exportOut)
		return nil
	}
	return st.Export(os.Stdout, id)
}

// parseParam reads "name=v1,v2,...".
func parseParam(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("bad --param %q, want name=v1,v2", s)
	}
	var vals []float64
	for _, f := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", nil, fmt.Errorf("bad --param %q: %w", s, err)
		}
		vals = append(vals, v)
	}
	return name, vals, nil
}

func tune(cmd *cobra.Command, args []string) error {
	if len(tuneParams) == 0 {
		return fmt.Errorf("at least one --param is required")
	}
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	var names []string
	var ranges [][]float64
	for _, p := range tuneParams {
		name, vals, err := parseParam(p)
		if err != nil {
			return err
		}
		names = append(names, name)
		ranges = append(ranges, vals)
	}
	gs, err := optim.NewGridSearch(names, ranges, logger)
	if err != nil {
		return err
	}

	best, trials, err := gs.Search(cmd.Context(), optim.DemoEvaluator(cfg, args[0], demoOpts, tuneMetric))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\n", strings.ToUpper(strings.Join(names, "\t")), tuneMetric)
	for _, t := range trials {
		row := make([]string, len(names))
		for i, n := range names {
			row[i] = strconv.FormatFloat(t.Params[n], 'g', -1, 64)
		}
		val := fmt.Sprintf("%.6f", t.Value)
		if t.Err != nil {
			val = "failed: " + t.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%s\n", strings.Join(row, "\t"), val)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	if err != nil {
		return err
	}
	fmt.Printf("\nbest: %v (%s %.6f)\n", best.Params, tuneMetric, best.Value)
	return nil
}

func presetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "presets [chain]",
		Short: "list available presets for a chain",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			chains := config.ListChains()
			if len(args) == 1 {
				chains = args
			}
			for _, c := range chains {
				presets := config.ListPresets(c)
				if len(presets) == 0 {
					fmt.Printf("no presets for chain: %s\n", c)
					continue
				}
				fmt.Printf("presets for %s:\n", c)
				for _, p := range presets {
					fmt.Printf("  %s\n", p)
				}
			}
			return nil
		},
	}
}

func chainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "list kinematic chains",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHAIN\tDOF\tREACH")
			for _, name := range kinematics.Names() {
				c, err := kinematics.Lookup(name)
				if err != nil {
					return err
				}
				reach := c.EndEffector(c.Neutral).P.Norm()
				fmt.Fprintf(w, "%s\t%d\t%.3f\n", name, c.DOF(), reach)
			}
			return w.Flush()
		},
	}
}

func controllersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "controllers",
		Short: "list controllers and their default gains",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KIND\tKP\tKV\tDAMPING\tINPUT")
			for _, k := range controllers.NewRegistry().Kinds() {
				d := controllers.DefaultConfig(k)
				input := "-"
				if len(d.InputMin) > 0 && len(d.InputMax) > 0 {
					input = fmt.Sprintf("[%g, %g]", d.InputMin[0], d.InputMax[0])
				}
				fmt.Fprintf(w, "%s\t%v\t%v\t%g\t%s\n", k, d.Kp, d.Kv, d.Damping, input)
			}
			return w.Flush()
		},
	}
}

func configCmd() *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "inspect and write configuration files",
	}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return err
			}
			return enc.Close()
		},
	}, &cobra.Command{
		Use:   "init [path]",
		Short: "write the resolved configuration to a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if _, err := os.Stat(args[0]); err == nil {
				return fmt.Errorf("%s already exists", args[0])
			}
			if err := config.Save(args[0], cfg); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	})
	return cfgCmd
}

func runScenario(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	results, runErr := automation.RunScenario(cmd.Context(), sc, cfg, logger,
		experiment.WithStore(storage.New(dataDir)))

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STEP\tDEMO\tRUN\tTRACKING")
	for i, r := range results {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.5f\n", i+1, r.Step.Demo, r.Outcome.EpisodeID, r.Outcome.Metrics["tracking_error_rms"])
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return runErr
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup(cmd)
	if err != nil {
		return err
	}
	defer logger.Sync()

	results, err := automation.RunMonteCarlo(cmd.Context(), cfg, automation.MonteCarloConfig{
		Demo:         args[0],
		Options:      demoOpts,
		Perturbation: mcPerturbation,
		Trials:       mcTrials,
		Seed:         mcSeed,
	}, logger)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TRIAL\tTRACKING\tRESULT")
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		fmt.Fprintf(w, "%d\t%.5f\t%s\n", r.Trial, r.Metrics["tracking_error_rms"], status)
	}
	if ferr := w.Flush(); ferr != nil {
		return ferr
	}
	ok, failed := automation.MonteCarloStats(results)
	fmt.Printf("\n%d ok, %d failed\n", ok, failed)
	return err
}
