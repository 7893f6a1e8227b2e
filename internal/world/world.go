// Package world runs the two-rate stepping protocol: one policy step sets a
// goal and then runs a fixed number of control ticks on the robot.
package world

import (
	"context"
	"fmt"
	"io"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/hardware"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/robot"
	"github.com/san-kum/armsim/internal/sim"
	"github.com/san-kum/armsim/internal/telemetry"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type SimConfig struct {
	Integrator string
	Substeps   int
}

type Config struct {
	Chain *kinematics.Chain

	// ControlFreq and PolicyFreq default to the controller defaults.
	ControlFreq float64
	PolicyFreq  float64

	Robot robot.Config
	Sim   SimConfig

	// Q0 is the initial posture of a simulated arm; nil selects the neutral
	// posture.
	Q0 []float64

	Hardware []hardware.Option
}

// World owns one connection and the robot interface driving it. Not safe
// for concurrent use.
type World struct {
	cfg     Config
	conn    arm.ExecutionContext
	robot   *robot.Interface
	logger  *zap.Logger
	closers []io.Closer

	ticksPerStep int
	steps        int
	controlSteps int
	closed       bool
}

type Option func(*options)

type options struct {
	logger    *zap.Logger
	observers []robot.Observer
	closers   []io.Closer
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver registers a per-tick observer on the robot.
func WithObserver(obs robot.Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs) }
}

// WithCloser releases c when the world closes, after the connection.
func WithCloser(c io.Closer) Option {
	return func(o *options) { o.closers = append(o.closers, c) }
}

func (c Config) rates() (float64, float64) {
	control, policy := c.ControlFreq, c.PolicyFreq
	if control == 0 {
		control = c.Robot.ControllerConfig.ControlFreq
	}
	if control == 0 {
		control = controllers.DefaultControlFreq
	}
	if policy == 0 {
		policy = c.Robot.ControllerConfig.PolicyFreq
	}
	if policy == 0 {
		policy = controllers.DefaultPolicyFreq
	}
	return control, policy
}

// New takes ownership of conn. conn is closed when construction fails.
func New(cfg Config, conn arm.ExecutionContext, opts ...Option) (w *World, err error) {
	defer func() {
		if err != nil && conn != nil {
			err = multierr.Append(err, conn.Close())
		}
	}()
	if conn == nil {
		return nil, fmt.Errorf("%w: world needs a connection", arm.ErrNotConnected)
	}
	if cfg.Chain == nil {
		return nil, fmt.Errorf("%w: world needs a kinematic chain", arm.ErrInvalidConfig)
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	control, policy := cfg.rates()
	n, err := controllers.ControlStepsPerPolicyStep(control, policy)
	if err != nil {
		return nil, err
	}
	cfg.ControlFreq, cfg.PolicyFreq = control, policy
	cfg.Robot.ControllerConfig.ControlFreq = control
	cfg.Robot.ControllerConfig.PolicyFreq = policy

	ropts := []robot.Option{robot.WithLogger(o.logger)}
	for _, obs := range o.observers {
		ropts = append(ropts, robot.WithObserver(obs))
	}
	r, err := robot.New(cfg.Chain, conn, cfg.Robot, ropts...)
	if err != nil {
		return nil, err
	}
	o.logger.Info("world connected",
		zap.String("chain", cfg.Chain.Name),
		zap.Float64("control_freq", control),
		zap.Float64("policy_freq", policy),
		zap.Int("ticks_per_step", n))
	return &World{
		cfg:          cfg,
		conn:         conn,
		robot:        r,
		logger:       o.logger,
		closers:      o.closers,
		ticksPerStep: n,
	}, nil
}

// NewSim builds a world around a freshly simulated arm.
func NewSim(cfg Config, opts ...Option) (*World, error) {
	if cfg.Chain == nil {
		return nil, fmt.Errorf("%w: world needs a kinematic chain", arm.ErrInvalidConfig)
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	control, _ := cfg.rates()
	simOpts := []sim.Option{sim.WithLogger(o.logger)}
	if cfg.Sim.Integrator != "" {
		simOpts = append(simOpts, sim.WithIntegrator(cfg.Sim.Integrator))
	}
	if cfg.Sim.Substeps != 0 {
		simOpts = append(simOpts, sim.WithSubsteps(cfg.Sim.Substeps))
	}
	engine, err := sim.NewEngine(control, simOpts...)
	if err != nil {
		return nil, err
	}
	a, err := engine.NewArm(cfg.Chain, cfg.Q0)
	if err != nil {
		return nil, err
	}
	return New(cfg, a, opts...)
}

// NewReal builds a world around a hardware arm on tr. tr is closed when
// construction fails.
func NewReal(cfg Config, tr hardware.Transport, opts ...Option) (*World, error) {
	if cfg.Chain == nil {
		err := fmt.Errorf("%w: world needs a kinematic chain", arm.ErrInvalidConfig)
		return nil, multierr.Append(err, tr.Close())
	}
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	control, _ := cfg.rates()
	hopts := append([]hardware.Option{hardware.WithLogger(o.logger)}, cfg.Hardware...)
	a, err := hardware.NewArm(tr, cfg.Chain.DOF(), control, hopts...)
	if err != nil {
		return nil, multierr.Append(err, tr.Close())
	}
	return New(cfg, a, opts...)
}

func (w *World) Robot() *robot.Interface { return w.robot }

// Steps is the number of policy steps since the last reset.
func (w *World) Steps() int { return w.steps }

// ControlSteps is the number of control ticks since the last reset.
func (w *World) ControlSteps() int { return w.controlSteps }

// TicksPerStep is the number of control ticks per policy step.
func (w *World) TicksPerStep() int { return w.ticksPerStep }

// Step applies action, when not nil, and runs one policy period of control
// ticks. A failing tick aborts the step.
func (w *World) Step(ctx context.Context, action *arm.Action) (arm.Observation, error) {
	if w.closed {
		return arm.Observation{}, fmt.Errorf("%w: world closed", arm.ErrNotConnected)
	}
	if action != nil {
		if err := w.robot.ApplyAction(ctx, *action); err != nil {
			return arm.Observation{}, err
		}
	}
	for i := 0; i < w.ticksPerStep; i++ {
		if err := w.robot.Step(ctx); err != nil {
			return arm.Observation{}, fmt.Errorf("policy step %d: %w", w.steps, err)
		}
		w.controlSteps++
	}
	w.steps++
	telemetry.PolicySteps.Inc()
	return w.observe(ctx)
}

func (w *World) observe(ctx context.Context) (arm.Observation, error) {
	if _, err := w.robot.Refresh(ctx); err != nil {
		return arm.Observation{}, err
	}
	obs, err := w.robot.Observation()
	if err != nil {
		return arm.Observation{}, err
	}
	obs.Step = w.steps
	return obs, nil
}

// Reset homes the robot and zeroes the counters.
func (w *World) Reset(ctx context.Context) (arm.Observation, error) {
	if w.closed {
		return arm.Observation{}, fmt.Errorf("%w: world closed", arm.ErrNotConnected)
	}
	w.steps, w.controlSteps = 0, 0
	if err := w.robot.Reset(ctx); err != nil {
		return arm.Observation{}, err
	}
	return w.observe(ctx)
}

func (w *World) ChangeController(ctx context.Context, kind controllers.Kind, cfg controllers.Config) error {
	if w.closed {
		return fmt.Errorf("%w: world closed", arm.ErrNotConnected)
	}
	if cfg.ControlFreq == 0 {
		cfg.ControlFreq = w.cfg.ControlFreq
	}
	if cfg.PolicyFreq == 0 {
		cfg.PolicyFreq = w.cfg.PolicyFreq
	}
	if cfg.ControlFreq != w.cfg.ControlFreq || cfg.PolicyFreq != w.cfg.PolicyFreq {
		return fmt.Errorf("%w: controller rates must match the world (%g/%g Hz)", arm.ErrInvalidConfig, w.cfg.ControlFreq, w.cfg.PolicyFreq)
	}
	return w.robot.ChangeController(ctx, kind, cfg)
}

// Close releases the connection and the registered closers. Later calls
// return nil.
func (w *World) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.conn.Close()
	for _, c := range w.closers {
		err = multierr.Append(err, c.Close())
	}
	w.logger.Info("world closed", zap.Int("steps", w.steps), zap.Int("control_steps", w.controlSteps))
	return err
}
