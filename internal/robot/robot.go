// Package robot is the control-rate half of the stepping protocol. An
// Interface turns policy actions into controller goals and runs one
// refresh, compute, dispatch and advance cycle per control tick.
package robot

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/model"
	"github.com/san-kum/armsim/internal/telemetry"
	"go.uber.org/zap"
)

type ResetConfig struct {
	Kp        float64 `yaml:"kp" json:"kp"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	MaxTicks  int     `yaml:"max_ticks" json:"max_ticks"`
}

type Config struct {
	Controller       controllers.Kind
	ControllerConfig controllers.Config

	// ActionLimits clips action values per action kind before translation.
	ActionLimits map[arm.ActionKind]controllers.Range

	// GoalTicks sets ExpiresAfter on every goal built from an action.
	GoalTicks int

	Reset ResetConfig
}

func DefaultResetConfig() ResetConfig {
	return ResetConfig{Kp: 40, Tolerance: 0.01, MaxTicks: 5000}
}

// TickRecord describes one completed control tick.
type TickRecord struct {
	Tick       int
	Controller controllers.Kind
	Snapshot   *model.Snapshot
	Torque     arm.Torque
	Goal       arm.Goal
	HasGoal    bool
	Singular   bool
	Limits     controllers.Range
	Duration   time.Duration
}

// Observer is called after every completed tick.
type Observer func(TickRecord)

// Interface is not safe for concurrent use.
type Interface struct {
	cfg      Config
	conn     arm.ExecutionContext
	model    *model.Model
	registry *controllers.Registry
	ctrl     controllers.Controller
	logger   *zap.Logger

	observers []Observer

	tick     int
	last     *model.Snapshot
	gripper  float64
	singular int

	// goal expiry
	expiring  bool
	remaining int
}

type Option func(*Interface)

func WithLogger(l *zap.Logger) Option {
	return func(r *Interface) { r.logger = l }
}

func WithRegistry(reg *controllers.Registry) Option {
	return func(r *Interface) { r.registry = reg }
}

func WithObserver(o Observer) Option {
	return func(r *Interface) { r.observers = append(r.observers, o) }
}

// New builds the interface around conn. conn stays owned by the caller.
func New(chain *kinematics.Chain, conn arm.ExecutionContext, cfg Config, opts ...Option) (*Interface, error) {
	m, err := model.New(chain, conn)
	if err != nil {
		return nil, err
	}
	r := &Interface{
		cfg:      cfg,
		conn:     conn,
		model:    m,
		registry: controllers.NewRegistry(),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.cfg.Reset == (ResetConfig{}) {
		r.cfg.Reset = DefaultResetConfig()
	}
	if err := validateReset(r.cfg.Reset); err != nil {
		return nil, err
	}
	if r.cfg.GoalTicks < 0 {
		return nil, fmt.Errorf("%w: goal ticks must not be negative", arm.ErrInvalidConfig)
	}
	if r.cfg.Controller == "" {
		r.cfg.Controller = controllers.JointImpedance
	}
	ctrl, err := r.registry.New(r.cfg.Controller, r.cfg.ControllerConfig, chain.DOF())
	if err != nil {
		return nil, err
	}
	r.ctrl = ctrl
	r.logger.Info("robot interface ready",
		zap.String("chain", chain.Name),
		zap.String("controller", string(ctrl.Kind())))
	return r, nil
}

func validateReset(c ResetConfig) error {
	if !(c.Kp > 0) || !(c.Tolerance > 0) || c.MaxTicks <= 0 {
		return fmt.Errorf("%w: reset needs positive kp, tolerance and max_ticks", arm.ErrInvalidConfig)
	}
	return nil
}

func (r *Interface) Controller() controllers.Controller { return r.ctrl }
func (r *Interface) Chain() *kinematics.Chain          { return r.model.Chain() }
func (r *Interface) Tick() int                         { return r.tick }

// Singularities counts ticks computed at a singular configuration.
func (r *Interface) Singularities() int { return r.singular }

// Last returns the snapshot of the most recent tick or refresh.
func (r *Interface) Last() *model.Snapshot { return r.last }

func (r *Interface) AddObserver(o Observer) {
	r.observers = append(r.observers, o)
}

// Refresh reads the current state unless it was already read this tick.
func (r *Interface) Refresh(ctx context.Context) (*model.Snapshot, error) {
	return r.snapshot(ctx)
}

func (r *Interface) snapshot(ctx context.Context) (*model.Snapshot, error) {
	if r.last != nil && r.last.Tick() == r.tick {
		return r.last, nil
	}
	s, err := r.model.Refresh(ctx, r.tick)
	if err != nil {
		return nil, err
	}
	r.last = s
	return s, nil
}

// ApplyAction translates a policy action into a goal for the selected
// controller. Out-of-range values are clipped.
func (r *Interface) ApplyAction(ctx context.Context, a arm.Action) error {
	kind := r.ctrl.Kind()
	if !kind.Accepts(goalKindFor(a.Kind)) {
		return fmt.Errorf("%w: %s action cannot drive %s", arm.ErrInvalidGoal, a.Kind, kind)
	}
	values, grip, hasGrip, err := splitAction(a, r.model.Chain().DOF())
	if err != nil {
		return err
	}
	if lim, ok := r.cfg.ActionLimits[a.Kind]; ok {
		values = clipAction(values, lim)
	}
	s, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	goal, err := translate(a.Kind, values, s)
	if err != nil {
		return err
	}
	goal.ExpiresAfter = r.cfg.GoalTicks
	if err := r.setGoal(goal, s); err != nil {
		return err
	}
	if hasGrip {
		return r.setGripper(ctx, grip)
	}
	return nil
}

// SetGoal hands goal to the selected controller directly.
func (r *Interface) SetGoal(ctx context.Context, goal arm.Goal) error {
	s, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	return r.setGoal(goal, s)
}

func (r *Interface) setGoal(goal arm.Goal, s *model.Snapshot) error {
	if goal.ExpiresAfter < 0 {
		return fmt.Errorf("%w: negative goal expiry", arm.ErrInvalidGoal)
	}
	if err := r.ctrl.SetGoal(goal, s); err != nil {
		return err
	}
	r.expiring = goal.ExpiresAfter > 0
	r.remaining = goal.ExpiresAfter
	r.logger.Debug("goal set",
		zap.String("controller", string(r.ctrl.Kind())),
		zap.Int("tick", r.tick),
		zap.Stringer("goal", goal.Kind))
	return nil
}

func (r *Interface) setGripper(ctx context.Context, cmd float64) error {
	r.gripper = math.Max(-1, math.Min(1, cmd))
	g, ok := r.conn.(arm.Gripper)
	if !ok {
		return nil
	}
	if err := g.SetGripper(ctx, r.gripper); err != nil {
		return fmt.Errorf("gripper: %w", err)
	}
	return nil
}

func (r *Interface) fail(tick int, quantity string, err error) error {
	telemetry.TickErrors.WithLabelValues(arm.Kind(err)).Inc()
	te := &arm.TickError{Controller: string(r.ctrl.Kind()), Tick: tick, Quantity: quantity, Err: err}
	r.logger.Error("control tick failed",
		zap.String("controller", te.Controller),
		zap.Int("tick", tick),
		zap.String("quantity", quantity),
		zap.Error(err))
	return te
}

// Step runs one control tick. Once the torque is computed the dispatch and
// advance are not interrupted by ctx.
func (r *Interface) Step(ctx context.Context) error {
	start := time.Now()
	tick := r.tick
	s, err := r.model.Refresh(ctx, tick)
	if err != nil {
		return r.fail(tick, "state", err)
	}
	r.last = s

	if r.expiring && r.remaining <= 0 {
		r.expiring = false
		if err := r.ctrl.SetGoal(controllers.HoldGoal(r.ctrl.Kind(), s), s); err != nil {
			return r.fail(tick, "goal", err)
		}
		r.logger.Debug("goal expired", zap.Int("tick", tick))
	}

	kind := r.ctrl.Kind()
	singular := false
	tau, err := r.ctrl.Run(s)
	if err != nil {
		if tau == nil || !errors.Is(err, arm.ErrKinematicSingularity) {
			return r.fail(tick, "torque", err)
		}
		singular = true
		r.singular++
		telemetry.Singularities.WithLabelValues(string(kind)).Inc()
		if r.singular == 1 || r.singular%100 == 0 {
			r.logger.Warn("kinematic singularity",
				zap.String("controller", string(kind)),
				zap.Int("tick", tick),
				zap.Int("count", r.singular))
		}
	}

	ctx = context.WithoutCancel(ctx)
	if err := r.conn.Dispatch(ctx, tau); err != nil {
		return r.fail(tick, "dispatch", err)
	}
	if err := r.conn.Advance(ctx); err != nil {
		return r.fail(tick, "advance", err)
	}
	if r.expiring {
		r.remaining--
	}
	r.tick++

	elapsed := time.Since(start)
	telemetry.ControlTicks.WithLabelValues(string(kind)).Inc()
	telemetry.TickDuration.WithLabelValues(string(kind)).Observe(elapsed.Seconds())
	if len(r.observers) > 0 {
		goal, ok := r.ctrl.Goal()
		cfg := r.ctrl.Config()
		rec := TickRecord{
			Tick:       tick,
			Controller: kind,
			Snapshot:   s,
			Torque:     tau,
			Goal:       goal,
			HasGoal:    ok,
			Singular:   singular,
			Limits:     controllers.Range{Min: cfg.OutputMin, Max: cfg.OutputMax},
			Duration:   elapsed,
		}
		for _, o := range r.observers {
			o(rec)
		}
	}
	return nil
}

// ChangeController swaps in a new controller holding the current state. The
// old controller stays selected when cfg is invalid.
func (r *Interface) ChangeController(ctx context.Context, kind controllers.Kind, cfg controllers.Config) error {
	next, err := r.registry.New(kind, cfg, r.model.Chain().DOF())
	if err != nil {
		return err
	}
	s, err := r.snapshot(ctx)
	if err != nil {
		return err
	}
	if err := next.SetGoal(controllers.HoldGoal(kind, s), s); err != nil {
		return err
	}
	prev := r.ctrl.Kind()
	r.ctrl = next
	r.cfg.Controller, r.cfg.ControllerConfig = kind, cfg
	r.expiring, r.remaining = false, 0
	r.logger.Info("controller changed",
		zap.String("from", string(prev)),
		zap.String("controller", string(kind)),
		zap.Int("tick", r.tick))
	return nil
}

// Reset drives the arm to the chain's neutral posture with a dedicated
// low-gain joint impedance law, then resets the selected controller and the
// tick counter.
func (r *Interface) Reset(ctx context.Context) error {
	chain := r.model.Chain()
	n := chain.DOF()
	neutral := chain.Neutral
	if neutral == nil {
		neutral = make([]float64, n)
	}

	rc := r.cfg.Reset
	cfg := controllers.DefaultConfig(controllers.JointImpedance)
	cfg.Kp = []float64{rc.Kp}
	cfg.Kv = nil
	cfg.ControlFreq = r.ctrl.Config().ControlFreq
	cfg.PolicyFreq = r.ctrl.Config().PolicyFreq
	cfg.InterpolationSteps = 1
	homing, err := controllers.NewJointImpedance(cfg, n)
	if err != nil {
		return err
	}

	r.logger.Info("reset started", zap.Float64s("neutral", neutral))
	tick := r.tick
	settled := false
	for i := 0; i < rc.MaxTicks; i++ {
		s, err := r.model.Refresh(ctx, tick)
		if err != nil {
			return r.fail(tick, "state", err)
		}
		if stationary(s, neutral, rc.Tolerance) {
			settled = true
			break
		}
		if i == 0 {
			if err := homing.SetGoal(arm.JointPositionGoal(neutral), s); err != nil {
				return err
			}
		}
		tau, err := homing.Run(s)
		if err != nil {
			return r.fail(tick, "torque", err)
		}
		if err := r.conn.Dispatch(ctx, tau); err != nil {
			return r.fail(tick, "dispatch", err)
		}
		if err := r.conn.Advance(ctx); err != nil {
			return r.fail(tick, "advance", err)
		}
		tick++
	}

	r.ctrl.Reset()
	r.expiring, r.remaining = false, 0
	r.tick = 0
	r.singular = 0
	r.last = nil
	if !settled {
		return fmt.Errorf("%w: not stationary after %d ticks", arm.ErrResetIncomplete, rc.MaxTicks)
	}
	if _, err := r.snapshot(ctx); err != nil {
		return err
	}
	r.logger.Info("reset complete", zap.Int("ticks", tick))
	return nil
}

func stationary(s *model.Snapshot, target []float64, tol float64) bool {
	q, qd := s.Q(), s.QDot()
	for i := range q {
		if math.Abs(q[i]-target[i]) >= tol || math.Abs(qd[i]) >= tol {
			return false
		}
	}
	return true
}

// Observation reports the last snapshot. Step is left to the caller.
func (r *Interface) Observation() (arm.Observation, error) {
	s := r.last
	if s == nil {
		return arm.Observation{}, fmt.Errorf("%w: no snapshot yet", arm.ErrStateUnavailable)
	}
	grip := r.gripper
	if g, ok := r.conn.(interface{ Gripper() float64 }); ok {
		grip = g.Gripper()
	}
	return arm.Observation{
		EEPose:  s.EEPose(),
		EETwist: s.EETwist(),
		Q:       s.Q(),
		QDot:    s.QDot(),
		Gripper: grip,
		Tick:    s.Tick(),
		Time:    s.Time(),
	}, nil
}
