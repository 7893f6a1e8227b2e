package demo

import (
	"context"
	"fmt"
	"math"
	"sort"

	"go.uber.org/zap"

	"github.com/san-kum/armsim/internal/arm"
)

const (
	DefaultSteps      = 50
	DefaultPathLength = 0.15
	DefaultSquareStep = 0.005
	DefaultJointDelta = 0.05
)

// Options shape the generated trajectory.
type Options struct {
	// Steps is the number of waypoints for zero, line and rotation.
	// Square uses Steps/4 per side.
	Steps      int
	PathLength float64
	SquareStep float64
	Rotation   float64
	Axis       int
	// Absolute sends absolute pose or joint targets instead of deltas.
	Absolute   bool
	JointDelta float64
}

func DefaultOptions() Options {
	return Options{
		Steps:      DefaultSteps,
		PathLength: DefaultPathLength,
		SquareStep: DefaultSquareStep,
		Rotation:   DefaultRotation,
		JointDelta: DefaultJointDelta,
	}
}

// Demo produces one action per policy step and scores the observation that
// follows it.
type Demo interface {
	Name() string
	Len() int
	Axes() []string
	// Goal is the target of step i in the layout of State.
	Goal(i int) []float64
	State(obs arm.Observation) []float64
	Action(i int, obs arm.Observation) arm.Action
	Error(i int, obs arm.Observation) []float64
}

type factory func(start arm.Observation, o Options) (Demo, error)

var demos = map[string]factory{
	"zero": func(s arm.Observation, o Options) (Demo, error) {
		return poseFrom(Zero(s.EEPose, o.Steps))(o)
	},
	"line": func(s arm.Observation, o Options) (Demo, error) {
		return poseFrom(Line(s.EEPose, o.Steps, o.PathLength, o.Axis))(o)
	},
	"square": func(s arm.Observation, o Options) (Demo, error) {
		return poseFrom(Square(s.EEPose, o.Steps/4, o.SquareStep))(o)
	},
	"rotation": func(s arm.Observation, o Options) (Demo, error) {
		return poseFrom(Rotation(s.EEPose, o.Steps, o.Rotation, o.Axis))(o)
	},
	"joint": newJointDemo,
}

func poseFrom(p *Path, err error) func(Options) (Demo, error) {
	return func(o Options) (Demo, error) {
		if err != nil {
			return nil, err
		}
		return &poseDemo{path: p, absolute: o.Absolute}, nil
	}
}

// Names lists the available demos.
func Names() []string {
	names := make([]string, 0, len(demos))
	for n := range demos {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// New builds the named demo starting from obs.
func New(name string, start arm.Observation, o Options) (Demo, error) {
	f, ok := demos[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown demo %q", arm.ErrInvalidConfig, name)
	}
	return f(start, o)
}

// IsJointSpace reports whether the named demo commands joints rather than
// the end effector.
func IsJointSpace(name string) bool { return name == "joint" }

type poseDemo struct {
	path     *Path
	absolute bool
}

func (d *poseDemo) Name() string   { return d.path.Name }
func (d *poseDemo) Len() int       { return len(d.path.Goals()) }
func (d *poseDemo) Axes() []string { return []string{"x", "y", "z", "ax", "ay", "az"} }

func (d *poseDemo) Goal(i int) []float64 { return d.path.Goals()[i].Slice() }

func (d *poseDemo) State(obs arm.Observation) []float64 { return obs.EEPose.Slice() }

func (d *poseDemo) Action(i int, obs arm.Observation) arm.Action {
	goal := d.path.Goals()[i]
	if d.absolute {
		return arm.Action{Kind: arm.ActionAbsolutePose, Values: goal.Slice()}
	}
	return arm.Action{Kind: arm.ActionDeltaPose, Values: GetDelta(goal, obs.EEPose).Slice()}
}

func (d *poseDemo) Error(i int, obs arm.Observation) []float64 {
	return GetDelta(d.path.Goals()[i], obs.EEPose).Slice()
}

type jointDemo struct {
	goals    [][]float64
	absolute bool
}

func newJointDemo(start arm.Observation, o Options) (Demo, error) {
	if len(start.Q) == 0 {
		return nil, fmt.Errorf("%w: joint demo needs a joint reading", arm.ErrStateUnavailable)
	}
	d := &jointDemo{absolute: o.Absolute}
	cur := append([]float64(nil), start.Q...)
	for _, step := range JointSteps(len(cur), o.JointDelta) {
		next := make([]float64, len(cur))
		for j := range cur {
			next[j] = cur[j] + step[j]
		}
		d.goals = append(d.goals, next)
		cur = next
	}
	return d, nil
}

func (d *jointDemo) Name() string { return "joint" }
func (d *jointDemo) Len() int     { return len(d.goals) }

func (d *jointDemo) Axes() []string {
	axes := make([]string, len(d.goals[0]))
	for i := range axes {
		axes[i] = fmt.Sprintf("q%d", i)
	}
	return axes
}

func (d *jointDemo) Goal(i int) []float64 { return append([]float64(nil), d.goals[i]...) }

func (d *jointDemo) State(obs arm.Observation) []float64 { return append([]float64(nil), obs.Q...) }

func (d *jointDemo) Action(i int, obs arm.Observation) arm.Action {
	if d.absolute {
		return arm.Action{Kind: arm.ActionJointAbsolute, Values: d.Goal(i)}
	}
	return arm.Action{Kind: arm.ActionJointDelta, Values: d.Error(i, obs)}
}

func (d *jointDemo) Error(i int, obs arm.Observation) []float64 {
	e := make([]float64, len(d.goals[i]))
	for j := range e {
		e[j] = d.goals[i][j] - obs.Q[j]
	}
	return e
}

// Env is the policy-rate surface a demo runs against.
type Env interface {
	Reset(ctx context.Context) (arm.Observation, error)
	Step(ctx context.Context, action *arm.Action) (arm.Observation, error)
}

// StepResult is reported after every policy step.
type StepResult struct {
	Step        int
	Action      arm.Action
	Observation arm.Observation
	Goal        []float64
	Error       []float64
}

// Result holds the per-step goals, states and errors of one run.
type Result struct {
	Demo   string
	Axes   []string
	Goals  [][]float64
	States [][]float64
	Errors [][]float64
}

// Final is the absolute error per axis after the last step.
func (r *Result) Final() map[string]float64 {
	out := make(map[string]float64, len(r.Axes))
	if len(r.Errors) == 0 {
		return out
	}
	last := r.Errors[len(r.Errors)-1]
	for i, a := range r.Axes {
		out[a] = math.Abs(last[i])
	}
	return out
}

// RMS is the root mean square error per axis over the run.
func (r *Result) RMS() map[string]float64 {
	out := make(map[string]float64, len(r.Axes))
	if len(r.Errors) == 0 {
		return out
	}
	for i, a := range r.Axes {
		var sum float64
		for _, e := range r.Errors {
			sum += e[i] * e[i]
		}
		out[a] = math.Sqrt(sum / float64(len(r.Errors)))
	}
	return out
}

// Series returns column i of rows.
func Series(rows [][]float64, i int) []float64 {
	out := make([]float64, len(rows))
	for k, r := range rows {
		out[k] = r[i]
	}
	return out
}

type Runner struct {
	env    Env
	opts   Options
	logger *zap.Logger
	onStep func(StepResult)
}

type RunnerOption func(*Runner)

func WithLogger(l *zap.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// WithStepHook is called after every policy step.
func WithStepHook(fn func(StepResult)) RunnerOption {
	return func(r *Runner) { r.onStep = fn }
}

func NewRunner(env Env, opts Options, ro ...RunnerOption) *Runner {
	r := &Runner{env: env, opts: opts, logger: zap.NewNop()}
	for _, o := range ro {
		o(r)
	}
	return r
}

// Run resets the environment, builds the named demo from the reset
// observation and executes it. The partial result is returned with any
// step error.
func (r *Runner) Run(ctx context.Context, name string) (*Result, error) {
	obs, err := r.env.Reset(ctx)
	if err != nil {
		return nil, fmt.Errorf("reset: %w", err)
	}
	d, err := New(name, obs, r.opts)
	if err != nil {
		return nil, err
	}

	res := &Result{Demo: d.Name(), Axes: d.Axes()}
	r.logger.Info("demo started",
		zap.String("demo", d.Name()),
		zap.Int("steps", d.Len()),
		zap.Bool("absolute", r.opts.Absolute),
	)

	for i := 0; i < d.Len(); i++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		action := d.Action(i, obs)
		obs, err = r.env.Step(ctx, &action)
		if err != nil {
			return res, fmt.Errorf("demo %s step %d: %w", d.Name(), i, err)
		}

		step := StepResult{
			Step:        i,
			Action:      action,
			Observation: obs,
			Goal:        d.Goal(i),
			Error:       d.Error(i, obs),
		}
		res.Goals = append(res.Goals, step.Goal)
		res.States = append(res.States, d.State(obs))
		res.Errors = append(res.Errors, step.Error)
		r.logger.Debug("demo step", zap.Int("step", i), zap.Float64s("error", step.Error))
		if r.onStep != nil {
			r.onStep(step)
		}
	}

	r.logger.Info("demo finished", zap.String("demo", d.Name()), zap.Any("final_error", res.Final()))
	return res, nil
}
