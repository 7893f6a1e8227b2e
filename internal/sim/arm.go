package sim

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/dynamo"
	"github.com/san-kum/armsim/internal/kinematics"
	"gonum.org/v1/gonum/mat"
)

// Arm is one simulated manipulator. It implements arm.ExecutionContext,
// arm.Gripper and dynamo.System. The joint state is x = [q..., qdot...].
type Arm struct {
	engine *Engine
	chain  *kinematics.Chain
	integ  dynamo.Integrator

	x       dynamo.State
	tau     []float64
	t       float64
	gripper float64
	closed  bool
}

var (
	_ arm.ExecutionContext = (*Arm)(nil)
	_ arm.Gripper          = (*Arm)(nil)
	_ dynamo.System        = (*Arm)(nil)
)

func (a *Arm) DOF() int { return a.chain.DOF() }

func (a *Arm) StateDim() int   { return 2 * a.chain.DOF() }
func (a *Arm) ControlDim() int { return a.chain.DOF() }

// Derive solves M(q) qdd = u - c(q, qd) - g(q) - b qd.
func (a *Arm) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	q, qd := x.Split()
	n := len(q)
	g := a.chain.Gravity(q)
	c := a.chain.Coriolis(q, qd)
	rhs := make([]float64, n)
	for i := range rhs {
		rhs[i] = -c[i] - g[i] - a.chain.Links[i].Damping*qd[i]
		if i < len(u) {
			rhs[i] += u[i]
		}
	}

	qdd := mat.NewVecDense(n, nil)
	var chol mat.Cholesky
	if !chol.Factorize(a.chain.MassMatrix(q)) || chol.SolveVecTo(qdd, mat.NewVecDense(n, rhs)) != nil {
		for i := range rhs {
			qdd.SetVec(i, math.NaN())
		}
	}
	return dynamo.Join(qd, qdd.RawVector().Data)
}

func (a *Arm) ReadState(ctx context.Context) (arm.JointState, error) {
	if err := ctx.Err(); err != nil {
		return arm.JointState{}, fmt.Errorf("%w: %w", arm.ErrStateUnavailable, err)
	}
	if a.closed {
		return arm.JointState{}, fmt.Errorf("%w: simulated arm closed", arm.ErrStateUnavailable)
	}
	q, qd := a.x.Split()
	return arm.JointState{
		Positions:  append([]float64(nil), q...),
		Velocities: append([]float64(nil), qd...),
		Time:       a.engine.epoch.Add(time.Duration(a.t * float64(time.Second))),
	}, nil
}

// Dispatch stores tau for the next Advance.
func (a *Arm) Dispatch(ctx context.Context, tau arm.Torque) error {
	if a.closed {
		return fmt.Errorf("%w: simulated arm closed", arm.ErrStateUnavailable)
	}
	if len(tau) != a.DOF() {
		return fmt.Errorf("%w: torque has %d values for %d joints", arm.ErrShapeMismatch, len(tau), a.DOF())
	}
	for _, v := range tau {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: torque is not finite", arm.ErrInvalidGoal)
		}
	}
	copy(a.tau, tau)
	return nil
}

// Advance integrates one control period with the last dispatched torque and
// then clears it, so an Advance without Dispatch applies zero torque.
func (a *Arm) Advance(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if a.closed {
		return fmt.Errorf("%w: simulated arm closed", arm.ErrStateUnavailable)
	}

	e := a.engine
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.dt / float64(e.substeps)
	x := a.x
	for i := 0; i < e.substeps; i++ {
		x = a.integ.Step(a, x, a.tau, a.t+float64(i)*h, h)
		if !x.IsValid() {
			return fmt.Errorf("%w: simulation diverged at t=%.4f", arm.ErrStateUnavailable, a.t)
		}
		a.enforceLimits(x)
	}
	a.x = x
	a.t += e.dt
	for i := range a.tau {
		a.tau[i] = 0
	}
	return nil
}

// enforceLimits stops joints at their hard limits.
func (a *Arm) enforceLimits(x dynamo.State) {
	q, qd := x.Split()
	for i, l := range a.chain.Links {
		if l.Lower >= l.Upper {
			continue
		}
		if q[i] < l.Lower {
			q[i] = l.Lower
			qd[i] = math.Max(qd[i], 0)
		} else if q[i] > l.Upper {
			q[i] = l.Upper
			qd[i] = math.Min(qd[i], 0)
		}
	}
}

func (a *Arm) SetGripper(ctx context.Context, cmd float64) error {
	if a.closed {
		return fmt.Errorf("%w: simulated arm closed", arm.ErrStateUnavailable)
	}
	a.gripper = math.Max(-1, math.Min(1, cmd))
	return nil
}

func (a *Arm) Gripper() float64 { return a.gripper }

// Time is the simulated time in seconds.
func (a *Arm) Time() float64 { return a.t }

// Teleport sets the joint state directly.
func (a *Arm) Teleport(q, qd []float64) error {
	n := a.DOF()
	if len(q) != n || (qd != nil && len(qd) != n) {
		return fmt.Errorf("%w: teleport state does not match %d joints", arm.ErrShapeMismatch, n)
	}
	if qd == nil {
		qd = make([]float64, n)
	}
	a.setState(q, qd)
	return nil
}

func (a *Arm) setState(q, qd []float64) {
	a.x = dynamo.Join(q, qd)
}

// Close is idempotent.
func (a *Arm) Close() error {
	if !a.closed {
		a.closed = true
		a.engine.logger.Info("simulated arm closed")
	}
	return nil
}
