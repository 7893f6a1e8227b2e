package controllers

import (
	"fmt"
	"math"

	"github.com/san-kum/armsim/internal/arm"
)

const (
	DefaultControlFreq          = 500.0
	DefaultPolicyFreq           = 20.0
	DefaultSingularityThreshold = 0.00025
)

// Range is a per-component interval. A single value broadcasts to every
// component.
type Range struct {
	Min []float64 `yaml:"min" json:"min"`
	Max []float64 `yaml:"max" json:"max"`
}

// Config is the construction-time configuration of a controller. Gains and
// limits hold either one value (broadcast) or one value per controlled
// dimension: joints for joint-space controllers, x y z ax ay az for the
// end-effector controllers.
type Config struct {
	Kp      []float64 `yaml:"kp,omitempty" json:"kp,omitempty"`
	Kv      []float64 `yaml:"kv,omitempty" json:"kv,omitempty"`
	Damping float64   `yaml:"damping,omitempty" json:"damping,omitempty"`

	Coupled bool      `yaml:"coupled" json:"coupled"`
	KpPos   []float64 `yaml:"kp_pos,omitempty" json:"kp_pos,omitempty"`
	KvPos   []float64 `yaml:"kv_pos,omitempty" json:"kv_pos,omitempty"`
	KpOri   []float64 `yaml:"kp_ori,omitempty" json:"kp_ori,omitempty"`
	KvOri   []float64 `yaml:"kv_ori,omitempty" json:"kv_ori,omitempty"`

	InputMin  []float64 `yaml:"input_min,omitempty" json:"input_min,omitempty"`
	InputMax  []float64 `yaml:"input_max,omitempty" json:"input_max,omitempty"`
	OutputMin []float64 `yaml:"output_min,omitempty" json:"output_min,omitempty"`
	OutputMax []float64 `yaml:"output_max,omitempty" json:"output_max,omitempty"`

	ControlFreq        float64 `yaml:"control_freq" json:"control_freq"`
	PolicyFreq         float64 `yaml:"policy_freq" json:"policy_freq"`
	InterpolationSteps int     `yaml:"interpolation_steps,omitempty" json:"interpolation_steps,omitempty"`
	RampRatio          float64 `yaml:"ramp_ratio,omitempty" json:"ramp_ratio,omitempty"`

	KpNull  float64   `yaml:"kp_null,omitempty" json:"kp_null,omitempty"`
	KvNull  float64   `yaml:"kv_null,omitempty" json:"kv_null,omitempty"`
	Posture []float64 `yaml:"posture,omitempty" json:"posture,omitempty"`

	PositionLimits *Range `yaml:"position_limits,omitempty" json:"position_limits,omitempty"`

	SingularityThreshold float64 `yaml:"singularity_threshold,omitempty" json:"singularity_threshold,omitempty"`
}

// DefaultConfig returns gains that track well on the bundled chains.
func DefaultConfig(kind Kind) Config {
	cfg := Config{
		Damping:              1,
		ControlFreq:          DefaultControlFreq,
		PolicyFreq:           DefaultPolicyFreq,
		SingularityThreshold: DefaultSingularityThreshold,
	}
	switch kind {
	case JointImpedance:
		cfg.Kp = []float64{50}
		cfg.InputMin = []float64{-0.5}
		cfg.InputMax = []float64{0.5}
	case JointVelocity:
		cfg.Kv = []float64{10}
	case EEImpedance, EEPosture:
		cfg.Kp = []float64{150}
		cfg.Coupled = true
		cfg.InputMin = []float64{-0.2}
		cfg.InputMax = []float64{0.2}
		cfg.RampRatio = 0.2
		if kind == EEPosture {
			cfg.KpNull = 10
		}
	}
	cfg.OutputMin = []float64{-150}
	cfg.OutputMax = []float64{150}
	return cfg
}

// gains is the validated, fully broadcast form of Config.
type gains struct {
	kp, kv       []float64
	inMin, inMax []float64
	outMin       []float64
	outMax       []float64
	posMin       []float64
	posMax       []float64
	steps        int
	dt           float64
	kpNull       float64
	kvNull       float64
	posture      []float64
	threshold    float64
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{arm.ErrInvalidConfig}, args...)...)
}

func broadcast(name string, v []float64, n int, def float64) ([]float64, error) {
	out := make([]float64, n)
	switch len(v) {
	case 0:
		for i := range out {
			out[i] = def
		}
	case 1:
		for i := range out {
			out[i] = v[0]
		}
	case n:
		copy(out, v)
	default:
		return nil, invalid("%s has %d values, want 1 or %d", name, len(v), n)
	}
	for _, x := range out {
		if math.IsNaN(x) {
			return nil, invalid("%s contains NaN", name)
		}
	}
	return out, nil
}

func nonNegative(name string, v []float64) error {
	for _, x := range v {
		if !(x >= 0) || math.IsInf(x, 0) {
			return invalid("%s must be finite and non-negative", name)
		}
	}
	return nil
}

// derivedKv fills kv = 2 sqrt(kp) damping where kv was omitted.
func derivedKv(kp []float64, damping float64) []float64 {
	kv := make([]float64, len(kp))
	for i, k := range kp {
		kv[i] = 2 * math.Sqrt(k) * damping
	}
	return kv
}

// ControlStepsPerPolicyStep is control / policy rounded half up. It fails
// when either rate is non-positive or control is slower than policy.
func ControlStepsPerPolicyStep(control, policy float64) (int, error) {
	if !(control > 0) || !(policy > 0) || math.IsInf(control, 0) || math.IsInf(policy, 0) {
		return 0, invalid("control (%g Hz) and policy (%g Hz) rates must be positive", control, policy)
	}
	if control < policy {
		return 0, invalid("control rate %g Hz is below policy rate %g Hz", control, policy)
	}
	return int(math.Floor(control/policy + 0.5)), nil
}

// resolve validates cfg for a controller of the given kind acting on dof
// joints and returns the broadcast gains.
func resolve(kind Kind, cfg Config, dof int) (gains, error) {
	var g gains
	if dof <= 0 {
		return g, invalid("controller needs at least one joint, got %d", dof)
	}
	if _, err := ControlStepsPerPolicyStep(cfg.ControlFreq, cfg.PolicyFreq); err != nil {
		return g, err
	}
	g.dt = 1 / cfg.ControlFreq

	switch {
	case cfg.InterpolationSteps < 0 || cfg.RampRatio < 0:
		return g, invalid("interpolation steps and ramp ratio must be non-negative")
	case cfg.InterpolationSteps > 0:
		g.steps = cfg.InterpolationSteps
	case cfg.RampRatio > 0:
		g.steps = int(math.Ceil(cfg.RampRatio * cfg.ControlFreq / cfg.PolicyFreq))
	default:
		g.steps = 1
	}

	if cfg.Damping < 0 {
		return g, invalid("damping must be non-negative")
	}
	damping := cfg.Damping
	if damping == 0 {
		damping = 1
	}

	dim := dof
	task := kind == EEImpedance || kind == EEPosture
	if task {
		dim = 6
	}

	grouped := len(cfg.KpPos)+len(cfg.KvPos)+len(cfg.KpOri)+len(cfg.KvOri) > 0
	if grouped && !task {
		return g, invalid("per-group gains apply to end-effector controllers only")
	}
	if grouped && cfg.Coupled {
		return g, invalid("coupled controller given per-group gains")
	}

	var err error
	if g.kp, err = broadcast("kp", cfg.Kp, dim, 0); err != nil {
		return g, err
	}
	if len(cfg.Kv) > 0 {
		if g.kv, err = broadcast("kv", cfg.Kv, dim, 0); err != nil {
			return g, err
		}
	} else {
		g.kv = derivedKv(g.kp, damping)
	}
	if grouped {
		if err := applyGroup(g.kp[0:3], g.kv[0:3], cfg.KpPos, cfg.KvPos, damping, "pos"); err != nil {
			return g, err
		}
		if err := applyGroup(g.kp[3:6], g.kv[3:6], cfg.KpOri, cfg.KvOri, damping, "ori"); err != nil {
			return g, err
		}
	}
	if err := nonNegative("kp", g.kp); err != nil {
		return g, err
	}
	if err := nonNegative("kv", g.kv); err != nil {
		return g, err
	}

	inf := math.Inf(1)
	if g.inMin, err = broadcast("input_min", cfg.InputMin, dim, -inf); err != nil {
		return g, err
	}
	if g.inMax, err = broadcast("input_max", cfg.InputMax, dim, inf); err != nil {
		return g, err
	}
	if g.outMin, err = broadcast("output_min", cfg.OutputMin, dof, -inf); err != nil {
		return g, err
	}
	if g.outMax, err = broadcast("output_max", cfg.OutputMax, dof, inf); err != nil {
		return g, err
	}
	for i := range g.inMin {
		if g.inMin[i] > g.inMax[i] {
			return g, invalid("input_min[%d] above input_max", i)
		}
	}
	for i := range g.outMin {
		if g.outMin[i] > g.outMax[i] {
			return g, invalid("output_min[%d] above output_max", i)
		}
	}

	if cfg.PositionLimits != nil {
		if task {
			return g, invalid("position_limits apply to joint-space controllers only")
		}
		if g.posMin, err = broadcast("position_limits.min", cfg.PositionLimits.Min, dof, -inf); err != nil {
			return g, err
		}
		if g.posMax, err = broadcast("position_limits.max", cfg.PositionLimits.Max, dof, inf); err != nil {
			return g, err
		}
	}

	if cfg.KpNull < 0 || cfg.KvNull < 0 {
		return g, invalid("null-space gains must be non-negative")
	}
	g.kpNull = cfg.KpNull
	g.kvNull = cfg.KvNull
	if g.kvNull == 0 {
		g.kvNull = 2 * math.Sqrt(g.kpNull) * damping
	}
	if cfg.Posture != nil {
		if len(cfg.Posture) != dof {
			return g, invalid("posture has %d values for %d joints", len(cfg.Posture), dof)
		}
		g.posture = append([]float64(nil), cfg.Posture...)
	}

	g.threshold = cfg.SingularityThreshold
	if g.threshold == 0 {
		g.threshold = DefaultSingularityThreshold
	}
	if g.threshold < 0 {
		return g, invalid("singularity threshold must be positive")
	}
	return g, nil
}

func applyGroup(kp, kv, groupKp, groupKv []float64, damping float64, name string) error {
	if len(groupKp) > 0 {
		v, err := broadcast("kp_"+name, groupKp, 3, 0)
		if err != nil {
			return err
		}
		copy(kp, v)
		if len(groupKv) == 0 {
			copy(kv, derivedKv(v, damping))
		}
	}
	if len(groupKv) > 0 {
		v, err := broadcast("kv_"+name, groupKv, 3, 0)
		if err != nil {
			return err
		}
		copy(kv, v)
	}
	return nil
}
