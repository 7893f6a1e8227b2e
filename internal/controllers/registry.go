package controllers

import (
	"fmt"
	"sort"

	"github.com/san-kum/armsim/internal/arm"
)

// Factory builds a controller for dof joints.
type Factory func(cfg Config, dof int) (Controller, error)

type Registry struct {
	factories map[Kind]Factory
}

func NewRegistry() *Registry {
	r := &Registry{factories: make(map[Kind]Factory)}
	r.factories[JointTorque] = NewJointTorque
	r.factories[JointVelocity] = NewJointVelocity
	r.factories[JointImpedance] = NewJointImpedance
	r.factories[EEImpedance] = NewEEImpedance
	r.factories[EEPosture] = NewEEPosture
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(kind Kind, f Factory) {
	r.factories[kind] = f
}

// New builds a controller. Zero rates and absent gains take the defaults of
// the kind.
func (r *Registry) New(kind Kind, cfg Config, dof int) (Controller, error) {
	f, ok := r.factories[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown controller %q", arm.ErrInvalidConfig, kind)
	}
	return f(WithDefaults(kind, cfg), dof)
}

// NewByName parses name case-insensitively before building.
func (r *Registry) NewByName(name string, cfg Config, dof int) (Controller, error) {
	kind, err := ParseKind(name)
	if err != nil {
		return nil, err
	}
	return r.New(kind, cfg, dof)
}

func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// WithDefaults fills every unset field from DefaultConfig. Absent gains
// take the default kp and kv only when no grouped gain is given, and the
// default coupling is applied under the same condition.
func WithDefaults(kind Kind, cfg Config) Config {
	def := DefaultConfig(kind)
	if cfg.ControlFreq == 0 {
		cfg.ControlFreq = def.ControlFreq
	}
	if cfg.PolicyFreq == 0 {
		cfg.PolicyFreq = def.PolicyFreq
	}
	if cfg.SingularityThreshold == 0 {
		cfg.SingularityThreshold = def.SingularityThreshold
	}
	if cfg.Damping == 0 {
		cfg.Damping = def.Damping
	}
	if cfg.InterpolationSteps == 0 && cfg.RampRatio == 0 {
		cfg.RampRatio = def.RampRatio
	}
	if cfg.KpNull == 0 && cfg.KvNull == 0 {
		cfg.KpNull = def.KpNull
	}
	if cfg.InputMin == nil && cfg.InputMax == nil {
		cfg.InputMin = def.InputMin
		cfg.InputMax = def.InputMax
	}
	if cfg.OutputMin == nil && cfg.OutputMax == nil {
		cfg.OutputMin = def.OutputMin
		cfg.OutputMax = def.OutputMax
	}
	grouped := len(cfg.KpPos)+len(cfg.KvPos)+len(cfg.KpOri)+len(cfg.KvOri) > 0
	if !grouped {
		cfg.Coupled = cfg.Coupled || def.Coupled
		if cfg.Kp == nil && cfg.Kv == nil {
			cfg.Kp = def.Kp
			cfg.Kv = def.Kv
		}
	}
	return cfg
}
