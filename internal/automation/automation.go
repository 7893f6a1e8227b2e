// Package automation runs batches of episodes: scripted scenarios loaded
// from YAML and Monte Carlo trials from perturbed start postures.
package automation

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/config"
	"github.com/san-kum/armsim/internal/demo"
	"github.com/san-kum/armsim/internal/experiment"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/optim"
)

// Scenario is a scripted sequence of demo runs.
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps" validate:"required,min=1,dive"`
}

// ScenarioStep is one demo run. Empty fields keep the base configuration.
type ScenarioStep struct {
	Demo       string             `yaml:"demo" validate:"required"`
	Chain      string             `yaml:"chain"`
	Preset     string             `yaml:"preset"`
	Controller string             `yaml:"controller"`
	Steps      int                `yaml:"steps" validate:"gte=0"`
	Axis       int                `yaml:"axis" validate:"gte=0,lte=2"`
	Absolute   bool               `yaml:"absolute"`
	Gains      map[string]float64 `yaml:"gains"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", arm.ErrInvalidConfig, path, err)
	}
	if err := validate.Struct(&scenario); err != nil {
		return nil, fmt.Errorf("%w: scenario %s: %w", arm.ErrInvalidConfig, path, err)
	}
	return &scenario, nil
}

// Config derives the configuration of the step from base.
func (s ScenarioStep) Config(base *config.Config) (*config.Config, error) {
	var cfg *config.Config
	if s.Preset != "" {
		chain := s.Chain
		if chain == "" {
			chain = base.Chain
		}
		if cfg = config.GetPreset(chain, s.Preset); cfg == nil {
			return nil, fmt.Errorf("%w: unknown preset %s/%s", arm.ErrInvalidConfig, chain, s.Preset)
		}
	} else {
		c := *base
		cfg = &c
	}
	if s.Chain != "" {
		cfg.Chain = s.Chain
	}
	if s.Controller != "" {
		cfg.Controller = s.Controller
	}
	if len(s.Gains) > 0 {
		tuned, err := optim.Apply(cfg, s.Gains)
		if err != nil {
			return nil, err
		}
		cfg = tuned
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (s ScenarioStep) Options() demo.Options {
	o := demo.DefaultOptions()
	if s.Steps > 0 {
		o.Steps = s.Steps
	}
	o.Axis = s.Axis
	o.Absolute = s.Absolute
	return o
}

// StepResult is the outcome of one scenario step.
type StepResult struct {
	Step    ScenarioStep
	Outcome *experiment.Outcome
}

// RunScenario executes every step in order and stops at the first failure,
// returning the steps completed so far.
func RunScenario(ctx context.Context, scenario *Scenario, base *config.Config, logger *zap.Logger, opts ...experiment.Option) ([]StepResult, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		logger.Info("scenario step",
			zap.String("scenario", scenario.Name),
			zap.Int("step", i+1),
			zap.Int("of", len(scenario.Steps)),
			zap.String("demo", step.Demo),
		)

		cfg, err := step.Config(base)
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		exp, err := experiment.New(cfg, append([]experiment.Option{experiment.WithLogger(logger)}, opts...)...)
		if err != nil {
			return results, fmt.Errorf("step %d setup: %w", i+1, err)
		}
		out, err := exp.Run(ctx, step.Demo, step.Options())
		if err != nil {
			return results, fmt.Errorf("step %d run: %w", i+1, err)
		}
		results = append(results, StepResult{Step: step, Outcome: out})
	}

	return results, nil
}

// MonteCarloConfig perturbs the initial posture of a simulated arm before
// each trial of a demo.
type MonteCarloConfig struct {
	Demo    string
	Options demo.Options
	// Perturbation bounds the uniform offset added to every joint of the
	// neutral posture, in joint units.
	Perturbation float64
	Trials       int
	Seed         int64
}

// MonteCarloResult holds one trial. Err is set when the trial failed, for
// example because the reset did not settle.
type MonteCarloResult struct {
	Trial   int
	Q0      []float64
	Final   map[string]float64
	Metrics map[string]float64
	Err     error
}

// RunMonteCarlo runs the trials in simulation. Trial failures are recorded
// and do not stop the batch; a canceled ctx does.
func RunMonteCarlo(ctx context.Context, base *config.Config, mc MonteCarloConfig, logger *zap.Logger, opts ...experiment.Option) ([]MonteCarloResult, error) {
	if mc.Trials <= 0 {
		return nil, fmt.Errorf("%w: monte carlo needs at least one trial", arm.ErrInvalidConfig)
	}
	if mc.Perturbation < 0 {
		return nil, fmt.Errorf("%w: negative perturbation", arm.ErrInvalidConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	chain, err := kinematics.Lookup(base.Chain)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(mc.Seed))
	if mc.Seed == 0 {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	results := make([]MonteCarloResult, 0, mc.Trials)
	for trial := 0; trial < mc.Trials; trial++ {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		q0 := make([]float64, chain.DOF())
		for i, v := range chain.Neutral {
			q0[i] = v + (rng.Float64()-0.5)*2*mc.Perturbation
		}
		q0 = chain.ClampToLimits(q0)

		cfg := *base
		cfg.Mode = "sim"
		cfg.Sim.Q0 = q0
		res := MonteCarloResult{Trial: trial, Q0: q0}

		exp, err := experiment.New(&cfg, append([]experiment.Option{experiment.WithLogger(logger)}, opts...)...)
		if err != nil {
			return results, err
		}
		out, err := exp.Run(ctx, mc.Demo, mc.Options)
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		res.Err = err
		if out != nil {
			res.Metrics = out.Metrics
			if out.Result != nil {
				res.Final = out.Result.Final()
			}
		}
		results = append(results, res)

		if (trial+1)%10 == 0 {
			logger.Info("monte carlo progress", zap.Int("done", trial+1), zap.Int("trials", mc.Trials))
		}
	}

	return results, nil
}

// MonteCarloStats counts successful and failed trials.
func MonteCarloStats(results []MonteCarloResult) (ok int, failed int) {
	for _, r := range results {
		if r.Err == nil {
			ok++
		} else {
			failed++
		}
	}
	return
}
