// Package experiment wires a configuration into a world, a metrics suite and
// an episode recorder, and runs demos on the result.
package experiment

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/san-kum/armsim/internal/config"
	"github.com/san-kum/armsim/internal/demo"
	"github.com/san-kum/armsim/internal/hardware"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/metrics"
	"github.com/san-kum/armsim/internal/robot"
	"github.com/san-kum/armsim/internal/storage"
	"github.com/san-kum/armsim/internal/world"
)

// Opener connects a transport for real mode.
type Opener func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (hardware.Transport, error)

type Experiment struct {
	cfg       *config.Config
	chain     *kinematics.Chain
	store     *storage.Store
	logger    *zap.Logger
	open      Opener
	observers []robot.Observer

	world *world.World
	suite metrics.Suite
	rec   *storage.Recorder
}

type Option func(*Experiment)

func WithLogger(l *zap.Logger) Option {
	return func(e *Experiment) { e.logger = l }
}

// WithStore records every run into s.
func WithStore(s *storage.Store) Option {
	return func(e *Experiment) { e.store = s }
}

// WithOpener replaces the feetech transport used in real mode.
func WithOpener(o Opener) Option {
	return func(e *Experiment) { e.open = o }
}

func WithObserver(obs robot.Observer) Option {
	return func(e *Experiment) { e.observers = append(e.observers, obs) }
}

// New validates cfg. Nothing is connected until Setup.
func New(cfg *config.Config, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	chain, err := kinematics.Lookup(cfg.Chain)
	if err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, chain: chain, logger: zap.NewNop(), open: OpenFeetech}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Experiment) Chain() *kinematics.Chain { return e.chain }

// World is nil before Setup.
func (e *Experiment) World() *world.World { return e.world }

func (e *Experiment) Metrics() metrics.Suite { return e.suite }

// WorldConfig translates cfg into a world configuration.
func WorldConfig(cfg *config.Config, chain *kinematics.Chain) (world.Config, error) {
	rc, err := cfg.RobotConfig()
	if err != nil {
		return world.Config{}, err
	}
	return world.Config{
		Chain:       chain,
		ControlFreq: cfg.ControlFreq,
		PolicyFreq:  cfg.PolicyFreq,
		Robot:       rc,
		Sim:         world.SimConfig{Integrator: cfg.Sim.Integrator, Substeps: cfg.Sim.Substeps},
		Q0:          cfg.Sim.Q0,
		Hardware:    []hardware.Option{hardware.WithTimeout(cfg.Hardware.Timeout())},
	}, nil
}

// OpenFeetech opens the servo bus described by cfg.Hardware.
func OpenFeetech(ctx context.Context, cfg *config.Config, logger *zap.Logger) (hardware.Transport, error) {
	cal, err := hardware.LoadCalibration(cfg.Hardware.Calibration)
	if err != nil {
		return nil, err
	}
	joints := cfg.Hardware.Joints
	if len(joints) == 0 {
		joints = hardware.SO101Joints
	}
	return hardware.OpenFeetech(ctx, hardware.FeetechConfig{
		Port:        cfg.Hardware.Port,
		BaudRate:    cfg.Hardware.BaudRate,
		Joints:      joints,
		Gripper:     cfg.Hardware.Gripper,
		Calibration: cal,
		Stiffness:   cfg.Hardware.Stiffness,
	}, logger)
}

// Setup connects the world. demoName is stored with the episode.
func (e *Experiment) Setup(ctx context.Context, demoName string) error {
	if e.world != nil {
		return errors.New("experiment already set up")
	}
	wcfg, err := WorldConfig(e.cfg, e.chain)
	if err != nil {
		return err
	}

	e.suite = metrics.Default()
	opts := []world.Option{world.WithLogger(e.logger), world.WithObserver(e.suite.Observe)}
	for _, obs := range e.observers {
		opts = append(opts, world.WithObserver(obs))
	}
	if e.store != nil {
		if err := e.store.Init(); err != nil {
			return err
		}
		e.rec, err = e.store.Record(storage.EpisodeMetadata{
			Chain:       e.cfg.Chain,
			Mode:        e.cfg.Mode,
			Demo:        demoName,
			Controller:  e.cfg.Controller,
			Integrator:  e.cfg.Sim.Integrator,
			ControlFreq: e.cfg.ControlFreq,
			PolicyFreq:  e.cfg.PolicyFreq,
		}, e.suite)
		if err != nil {
			return err
		}
		opts = append(opts, world.WithObserver(e.rec.Observe), world.WithCloser(e.rec))
	}

	switch e.cfg.Mode {
	case "real":
		var tr hardware.Transport
		tr, err = e.open(ctx, e.cfg, e.logger)
		if err == nil {
			e.world, err = world.NewReal(wcfg, tr, opts...)
		}
	default:
		e.world, err = world.NewSim(wcfg, opts...)
	}
	if err != nil {
		if e.rec != nil {
			// The world owns its closers only once it is built.
			e.rec.Fail(err)
			err = multierr.Append(err, e.rec.Close())
		}
		return fmt.Errorf("connect %s world: %w", e.cfg.Mode, err)
	}
	e.logger.Info("experiment ready",
		zap.String("chain", e.cfg.Chain),
		zap.String("mode", e.cfg.Mode),
		zap.String("controller", e.cfg.Controller),
		zap.String("episode", e.EpisodeID()),
	)
	return nil
}

// EpisodeID is empty when no store is attached.
func (e *Experiment) EpisodeID() string {
	if e.rec == nil {
		return ""
	}
	return e.rec.ID()
}

// Outcome summarises one run.
type Outcome struct {
	EpisodeID string
	Result    *demo.Result
	Metrics   map[string]float64
}

// Finish records res and runErr with the episode and closes the world.
func (e *Experiment) Finish(res *demo.Result, runErr error) (*Outcome, error) {
	if e.world == nil {
		return nil, errors.New("experiment not set up")
	}
	out := &Outcome{EpisodeID: e.EpisodeID(), Result: res, Metrics: e.suite.Values()}
	if e.rec != nil {
		e.rec.SetSteps(e.world.Steps())
		if res != nil {
			e.rec.SetAxisError(res.Final())
		}
		e.rec.Fail(runErr)
	}
	err := multierr.Append(runErr, e.world.Close())
	return out, err
}

// Run connects, executes the named demo and closes the world.
func (e *Experiment) Run(ctx context.Context, demoName string, opts demo.Options, ro ...demo.RunnerOption) (*Outcome, error) {
	if err := e.Setup(ctx, demoName); err != nil {
		return nil, err
	}
	ro = append([]demo.RunnerOption{demo.WithLogger(e.logger)}, ro...)
	res, err := demo.NewRunner(e.world, opts, ro...).Run(ctx, demoName)
	return e.Finish(res, err)
}
