package controllers

import (
	"fmt"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/interp"
	"github.com/san-kum/armsim/internal/model"
	"github.com/san-kum/armsim/internal/spatial"
	"gonum.org/v1/gonum/mat"
)

// eeController is the operational-space impedance law, optionally with a
// null-space posture task.
type eeController struct {
	base
	posture bool

	pos   *interp.Linear
	ori   *interp.Slerp
	twist *interp.Linear

	// desired pose integrated from twist goals
	desired spatial.Pose
}

func newEE(kind Kind, cfg Config, dof int) (*eeController, error) {
	b, err := newBase(kind, cfg, dof)
	if err != nil {
		return nil, err
	}
	return &eeController{
		base:    b,
		posture: kind == EEPosture,
		pos:     interp.NewLinear(),
		ori:     interp.NewSlerp(),
		twist:   interp.NewLinear(),
	}, nil
}

// NewEEImpedance drives the end effector toward a pose or twist goal:
// tau = J' lambda F + g + c with F = kp e - kv (v - v_goal).
func NewEEImpedance(cfg Config, dof int) (Controller, error) {
	return newEE(EEImpedance, cfg, dof)
}

// NewEEPosture adds a posture task projected into the null space of the
// end-effector task.
func NewEEPosture(cfg Config, dof int) (Controller, error) {
	return newEE(EEPosture, cfg, dof)
}

func (c *eeController) SetGoal(goal arm.Goal, s *model.Snapshot) error {
	if err := c.checkGoal(goal, s); err != nil {
		return err
	}
	cur := s.EEPose()
	pos := interp.NewLinear()
	ori := interp.NewSlerp()
	tw := interp.NewLinear()
	switch goal.Kind {
	case arm.GoalEEPose:
		goal.Pose.Orientation = spatial.Normalize(goal.Pose.Orientation)
		if err := pos.Reset(spatial.VecSlice(cur.Position), spatial.VecSlice(goal.Pose.Position), c.g.steps); err != nil {
			return err
		}
		if err := ori.Reset(cur.Orientation, goal.Pose.Orientation, c.g.steps); err != nil {
			return err
		}
	case arm.GoalEETwist:
		if err := tw.Reset(s.EETwist().Slice(), goal.Twist.Slice(), c.g.steps); err != nil {
			return err
		}
		c.desired = cur
	}
	c.pos, c.ori, c.twist = pos, ori, tw
	c.store(goal)
	return nil
}

// target advances the interpolators one tick and returns the desired pose
// and twist.
func (c *eeController) target() (spatial.Pose, spatial.Twist) {
	if c.goal.Kind == arm.GoalEETwist {
		v, _ := spatial.TwistFromSlice(c.twist.Next())
		c.desired.Position = c.desired.Position.Add(v.Linear.Mul(c.g.dt))
		c.desired.Orientation = spatial.Rotate(c.desired.Orientation, v.Angular.Mul(c.g.dt))
		return c.desired, v
	}
	p := spatial.VecFromSlice(c.pos.Next())
	return spatial.Pose{Position: p, Orientation: c.ori.Next()}, spatial.Twist{}
}

func (c *eeController) Run(s *model.Snapshot) (arm.Torque, error) {
	if err := c.checkSnapshot(s); err != nil {
		return nil, err
	}
	if !c.hasGoal {
		if err := c.SetGoal(HoldGoal(c.kind, s), s); err != nil {
			return nil, err
		}
	}
	want, vGoal := c.target()
	cur, v := s.EEPose(), s.EETwist()

	ePos := want.Position.Sub(cur.Position)
	eOri := spatial.OrientationError(want.Orientation, cur.Orientation)
	e := clipVec(append(spatial.VecSlice(ePos), spatial.VecSlice(eOri)...), c.g.inMin, c.g.inMax)
	dv := append(spatial.VecSlice(v.Linear.Sub(vGoal.Linear)), spatial.VecSlice(v.Angular.Sub(vGoal.Angular))...)

	f := make([]float64, 6)
	for i := range f {
		f[i] = c.g.kp[i]*e[i] - c.g.kv[i]*dv[i]
	}

	op := computeOpspace(s.MassMatrix(), s.Jacobian(), s.LinearJacobian(), s.AngularJacobian(), c.g.threshold, c.cfg.Coupled, c.posture)

	var wrench mat.VecDense
	if c.cfg.Coupled {
		wrench.MulVec(op.lambda, mat.NewVecDense(6, f))
	} else {
		var fp, fo mat.VecDense
		fp.MulVec(op.lambdaPos, mat.NewVecDense(3, f[0:3]))
		fo.MulVec(op.lambdaOri, mat.NewVecDense(3, f[3:6]))
		wrench.ReuseAsVec(6)
		for i := 0; i < 3; i++ {
			wrench.SetVec(i, fp.AtVec(i))
			wrench.SetVec(i+3, fo.AtVec(i))
		}
	}

	var task mat.VecDense
	task.MulVec(s.Jacobian().T(), &wrench)

	g, cor := s.Gravity(), s.Coriolis()
	tau := make([]float64, c.dof)
	for i := range tau {
		tau[i] = task.AtVec(i) + g[i] + cor[i]
	}
	if c.posture {
		null := c.nullTorque(op, s)
		for i := range tau {
			tau[i] += null[i]
		}
	}

	out := c.finish(tau, g)
	if op.singular || !finite(tau) {
		return out, fmt.Errorf("%s at tick %d: %w", c.kind, s.Tick(), arm.ErrKinematicSingularity)
	}
	return out, nil
}

// nullTorque is N' M (kp_null (q_posture - q) - kv_null qdot).
func (c *eeController) nullTorque(op opspace, s *model.Snapshot) []float64 {
	q, qd := s.Q(), s.QDot()
	posture := c.g.posture
	if posture == nil {
		posture = q
	}
	acc := make([]float64, c.dof)
	for i := range acc {
		acc[i] = c.g.kpNull*(posture[i]-q[i]) - c.g.kvNull*qd[i]
	}
	var mAcc, out mat.VecDense
	mAcc.MulVec(s.MassMatrix(), mat.NewVecDense(c.dof, acc))
	out.MulVec(op.nullspace(s.Jacobian()).T(), &mAcc)
	return out.RawVector().Data
}

func (c *eeController) Reset() {
	c.clear()
	c.pos = interp.NewLinear()
	c.ori = interp.NewSlerp()
	c.twist = interp.NewLinear()
	c.desired = spatial.Pose{}
}

func (c *eeController) Progress() (int, int) {
	if c.goal.Kind == arm.GoalEETwist && c.hasGoal {
		return c.twist.Step(), c.twist.TotalSteps()
	}
	return c.pos.Step(), c.pos.TotalSteps()
}

func (c *eeController) Params() map[string]float64 {
	p := c.baseParams()
	p["kp_ori"] = c.g.kp[3]
	p["kv_ori"] = c.g.kv[3]
	if c.posture {
		p["kp_null"] = c.g.kpNull
		p["kv_null"] = c.g.kvNull
	}
	return p
}
