// Package optim sweeps controller gains over a grid and keeps the setting
// that minimises an episode metric.
package optim

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/config"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/demo"
	"github.com/san-kum/armsim/internal/experiment"
)

// Params names the tunable scalar gains of a controller configuration.
// Setting a stiffness drops an explicit damping gain so that it is derived
// again from the damping ratio. Applied in name order, so "kv" overrides
// the derived value.
var Params = map[string]func(*controllers.Config, float64){
	"kp":      func(c *controllers.Config, v float64) { c.Kp, c.Kv = []float64{v}, nil },
	"kv":      func(c *controllers.Config, v float64) { c.Kv = []float64{v} },
	"damping": func(c *controllers.Config, v float64) { c.Kv = nil; c.Damping = v },
	"kp_pos":  func(c *controllers.Config, v float64) { setGrouped(c, &c.KpPos, v) },
	"kp_ori":  func(c *controllers.Config, v float64) { setGrouped(c, &c.KpOri, v) },
	"kp_null": func(c *controllers.Config, v float64) { c.KpNull = v },
}

// setGrouped switches c to separate position and orientation gains. The
// group that is not swept keeps kp.
func setGrouped(c *controllers.Config, dst *[]float64, v float64) {
	c.Coupled = false
	c.Kv = nil
	*dst = []float64{v}
}

// Trial is one evaluated grid point.
type Trial struct {
	Params map[string]float64
	Value  float64
	Err    error
}

type GridSearch struct {
	paramNames []string
	ranges     [][]float64
	logger     *zap.Logger
}

func NewGridSearch(params []string, ranges [][]float64, logger *zap.Logger) (*GridSearch, error) {
	if len(params) != len(ranges) {
		return nil, fmt.Errorf("%w: %d parameters for %d ranges", arm.ErrInvalidConfig, len(params), len(ranges))
	}
	for i, p := range params {
		if _, ok := Params[p]; !ok {
			return nil, fmt.Errorf("%w: unknown gain %q", arm.ErrInvalidConfig, p)
		}
		if len(ranges[i]) == 0 {
			return nil, fmt.Errorf("%w: empty range for %q", arm.ErrInvalidConfig, p)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GridSearch{paramNames: params, ranges: ranges, logger: logger}, nil
}

// Evaluator scores one parameter set; lower is better.
type Evaluator func(ctx context.Context, params map[string]float64) (float64, error)

// Search evaluates every grid point in order and returns the best one with
// all trials. Failed trials are kept with their error and never win.
func (g *GridSearch) Search(ctx context.Context, eval Evaluator) (Trial, []Trial, error) {
	best := Trial{Value: math.Inf(1)}
	var trials []Trial

	err := g.searchRecursive(ctx, 0, map[string]float64{}, func(params map[string]float64) {
		v, err := eval(ctx, params)
		t := Trial{Params: params, Value: v, Err: err}
		trials = append(trials, t)
		if err != nil {
			g.logger.Warn("trial failed", zap.Any("params", params), zap.Error(err))
			return
		}
		g.logger.Info("trial", zap.Any("params", params), zap.Float64("value", v))
		if v < best.Value {
			best = t
		}
	})
	if err != nil {
		return best, trials, err
	}
	if best.Params == nil {
		return best, trials, fmt.Errorf("all %d trials failed", len(trials))
	}
	return best, trials, nil
}

func (g *GridSearch) searchRecursive(ctx context.Context, depth int, current map[string]float64, visit func(map[string]float64)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if depth == len(g.paramNames) {
		visit(current)
		return nil
	}

	name := g.paramNames[depth]
	for _, val := range g.ranges[depth] {
		next := make(map[string]float64, len(current)+1)
		for k, v := range current {
			next[k] = v
		}
		next[name] = val
		if err := g.searchRecursive(ctx, depth+1, next, visit); err != nil {
			return err
		}
	}
	return nil
}

// Apply returns a copy of base with params set on the selected controller.
func Apply(base *config.Config, params map[string]float64) (*config.Config, error) {
	kind, err := base.ControllerKind()
	if err != nil {
		return nil, err
	}
	cfg := *base
	cc := base.ControllerConfig(kind)
	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		set, ok := Params[k]
		if !ok {
			return nil, fmt.Errorf("%w: unknown gain %q", arm.ErrInvalidConfig, k)
		}
		set(&cc, params[k])
	}
	cfg.Controllers = map[string]controllers.Config{string(kind): cc}
	return &cfg, nil
}

// DemoEvaluator runs the named demo in simulation for every trial and reads
// metric from the episode metrics.
func DemoEvaluator(base *config.Config, demoName string, opts demo.Options, metric string) Evaluator {
	return func(ctx context.Context, params map[string]float64) (float64, error) {
		cfg, err := Apply(base, params)
		if err != nil {
			return 0, err
		}
		cfg.Mode = "sim"
		e, err := experiment.New(cfg)
		if err != nil {
			return 0, err
		}
		out, err := e.Run(ctx, demoName, opts)
		if err != nil {
			return 0, err
		}
		v, ok := out.Metrics[metric]
		if !ok {
			return 0, fmt.Errorf("%w: unknown metric %q", arm.ErrInvalidConfig, metric)
		}
		return v, nil
	}
}
