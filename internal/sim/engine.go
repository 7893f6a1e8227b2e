// Package sim is the simulated execution context: rigid-body arms integrated
// by a shared physics engine.
package sim

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/integrators"
	"github.com/san-kum/armsim/internal/kinematics"
	"go.uber.org/zap"
)

// Engine steps simulated arms. Advance calls from different arms are
// serialized on the engine.
type Engine struct {
	mu         sync.Mutex
	dt         float64
	substeps   int
	integrator string
	epoch      time.Time
	logger     *zap.Logger
}

type Option func(*Engine)

func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSubsteps splits each control period into n integration steps.
func WithSubsteps(n int) Option {
	return func(e *Engine) { e.substeps = n }
}

func WithIntegrator(name string) Option {
	return func(e *Engine) { e.integrator = name }
}

// WithEpoch sets the wall-clock time reported at simulation time zero.
func WithEpoch(t time.Time) Option {
	return func(e *Engine) { e.epoch = t }
}

// NewEngine builds an engine advancing 1/controlFreq seconds per Advance.
func NewEngine(controlFreq float64, opts ...Option) (*Engine, error) {
	if !(controlFreq > 0) || math.IsInf(controlFreq, 0) {
		return nil, fmt.Errorf("%w: control rate must be positive, got %g", arm.ErrInvalidConfig, controlFreq)
	}
	e := &Engine{
		dt:         1 / controlFreq,
		substeps:   2,
		integrator: "rk4",
		epoch:      time.Now(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.substeps <= 0 {
		return nil, fmt.Errorf("%w: substeps must be positive, got %d", arm.ErrInvalidConfig, e.substeps)
	}
	if _, err := integrators.New(e.integrator); err != nil {
		return nil, err
	}
	return e, nil
}

// Dt is the control period in seconds.
func (e *Engine) Dt() float64 { return e.dt }

// NewArm places a simulated arm at rest at q0, or at the chain's neutral
// posture when q0 is nil.
func (e *Engine) NewArm(chain *kinematics.Chain, q0 []float64) (*Arm, error) {
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	n := chain.DOF()
	if q0 == nil {
		q0 = chain.Neutral
	}
	if q0 == nil {
		q0 = make([]float64, n)
	}
	if len(q0) != n {
		return nil, fmt.Errorf("%w: initial posture has %d values for %d joints", arm.ErrInvalidConfig, len(q0), n)
	}
	integ, err := integrators.New(e.integrator)
	if err != nil {
		return nil, err
	}
	a := &Arm{
		engine: e,
		chain:  chain,
		integ:  integ,
		tau:    make([]float64, n),
	}
	a.setState(q0, make([]float64, n))
	e.logger.Info("simulated arm created",
		zap.String("chain", chain.Name),
		zap.Int("dof", n),
		zap.String("integrator", e.integrator),
		zap.Int("substeps", e.substeps))
	return a, nil
}
