// Package hardware is the physical execution context: a realtime-paced arm
// in front of a joint-level transport such as a servo bus.
package hardware

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/armsim/internal/arm"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Transport moves joint data to and from the robot.
// ReadJoints may return nil velocities.
type Transport interface {
	ReadJoints(ctx context.Context) (positions, velocities []float64, err error)
	WriteTorques(ctx context.Context, tau []float64) error
	Close() error
}

// GripperTransport is implemented by transports that drive a gripper.
type GripperTransport interface {
	WriteGripper(ctx context.Context, cmd float64) error
}

const DefaultTimeout = 20 * time.Millisecond

type Arm struct {
	tr      Transport
	dof     int
	timeout time.Duration
	limiter *rate.Limiter
	logger  *zap.Logger
	now     func() time.Time

	prevQ  []float64
	prevT  time.Time
	closed bool
}

var (
	_ arm.ExecutionContext = (*Arm)(nil)
	_ arm.Gripper          = (*Arm)(nil)
)

type Option func(*Arm)

// WithTimeout bounds every transport round trip.
func WithTimeout(d time.Duration) Option {
	return func(a *Arm) { a.timeout = d }
}

func WithLogger(l *zap.Logger) Option {
	return func(a *Arm) { a.logger = l }
}

// WithClock replaces time.Now for velocity estimation.
func WithClock(now func() time.Time) Option {
	return func(a *Arm) { a.now = now }
}

// NewArm paces Advance at controlFreq. It takes ownership of tr.
func NewArm(tr Transport, dof int, controlFreq float64, opts ...Option) (*Arm, error) {
	if dof <= 0 {
		return nil, fmt.Errorf("%w: arm needs at least one joint", arm.ErrInvalidConfig)
	}
	if !(controlFreq > 0) || math.IsInf(controlFreq, 0) {
		return nil, fmt.Errorf("%w: control rate must be positive, got %g", arm.ErrInvalidConfig, controlFreq)
	}
	a := &Arm{
		tr:      tr,
		dof:     dof,
		timeout: DefaultTimeout,
		limiter: rate.NewLimiter(rate.Limit(controlFreq), 1),
		logger:  zap.NewNop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.timeout <= 0 {
		return nil, fmt.Errorf("%w: transport timeout must be positive", arm.ErrInvalidConfig)
	}
	return a, nil
}

func (a *Arm) DOF() int { return a.dof }

// roundTrip runs fn under the transport timeout and maps a missed deadline
// to arm.ErrTransportTimeout.
func (a *Arm) roundTrip(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	rctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	err := fn(rctx)
	if err == nil && rctx.Err() == nil {
		return nil
	}
	if ctx.Err() == nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(rctx.Err(), context.DeadlineExceeded)) {
		a.logger.Warn("transport timeout", zap.String("op", op), zap.Duration("timeout", a.timeout))
		return fmt.Errorf("%s: %w after %s", op, arm.ErrTransportTimeout, a.timeout)
	}
	if err == nil {
		err = ctx.Err()
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (a *Arm) ReadState(ctx context.Context) (arm.JointState, error) {
	if a.closed {
		return arm.JointState{}, fmt.Errorf("%w: hardware arm closed", arm.ErrStateUnavailable)
	}
	var q, qd []float64
	err := a.roundTrip(ctx, "read joints", func(ctx context.Context) error {
		var err error
		q, qd, err = a.tr.ReadJoints(ctx)
		return err
	})
	if err != nil {
		return arm.JointState{}, fmt.Errorf("%w: %w", arm.ErrStateUnavailable, err)
	}
	if len(q) != a.dof || (qd != nil && len(qd) != a.dof) {
		return arm.JointState{}, fmt.Errorf("%w: transport returned %d positions for %d joints", arm.ErrStateUnavailable, len(q), a.dof)
	}

	now := a.now()
	if qd == nil {
		qd = a.estimateVelocity(q, now)
	}
	a.prevQ = append(a.prevQ[:0], q...)
	a.prevT = now
	return arm.JointState{Positions: q, Velocities: qd, Time: now}, nil
}

// estimateVelocity differentiates against the previous reading; the first
// reading reports the arm at rest.
func (a *Arm) estimateVelocity(q []float64, now time.Time) []float64 {
	qd := make([]float64, len(q))
	dt := now.Sub(a.prevT).Seconds()
	if a.prevQ == nil || dt <= 0 {
		return qd
	}
	for i := range q {
		qd[i] = (q[i] - a.prevQ[i]) / dt
	}
	return qd
}

func (a *Arm) Dispatch(ctx context.Context, tau arm.Torque) error {
	if a.closed {
		return fmt.Errorf("%w: hardware arm closed", arm.ErrStateUnavailable)
	}
	if len(tau) != a.dof {
		return fmt.Errorf("%w: torque has %d values for %d joints", arm.ErrShapeMismatch, len(tau), a.dof)
	}
	return a.roundTrip(ctx, "write torques", func(ctx context.Context) error {
		return a.tr.WriteTorques(ctx, tau)
	})
}

// Advance blocks until the next control period starts.
func (a *Arm) Advance(ctx context.Context) error {
	if a.closed {
		return fmt.Errorf("%w: hardware arm closed", arm.ErrStateUnavailable)
	}
	return a.limiter.Wait(ctx)
}

func (a *Arm) SetGripper(ctx context.Context, cmd float64) error {
	g, ok := a.tr.(GripperTransport)
	if !ok {
		return nil
	}
	cmd = math.Max(-1, math.Min(1, cmd))
	return a.roundTrip(ctx, "write gripper", func(ctx context.Context) error {
		return g.WriteGripper(ctx, cmd)
	})
}

// Close releases the transport once.
func (a *Arm) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	a.logger.Info("hardware arm closed")
	return a.tr.Close()
}
