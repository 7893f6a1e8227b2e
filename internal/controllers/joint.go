package controllers

import (
	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/interp"
	"github.com/san-kum/armsim/internal/model"
)

// jointController is shared by the three joint-space laws; only the torque
// law differs.
type jointController struct {
	base
	interp *interp.Linear
	law    func(target []float64, s *model.Snapshot) []float64
	start  func(s *model.Snapshot) []float64
	last   []float64
}

func newJoint(kind Kind, cfg Config, dof int) (*jointController, error) {
	b, err := newBase(kind, cfg, dof)
	if err != nil {
		return nil, err
	}
	return &jointController{base: b, interp: interp.NewLinear()}, nil
}

func (c *jointController) SetGoal(goal arm.Goal, s *model.Snapshot) error {
	if err := c.checkGoal(goal, s); err != nil {
		return err
	}
	target := goal.Joints
	if c.g.posMin != nil && goal.Kind == arm.GoalJointPositions {
		target = clipVec(target, c.g.posMin, c.g.posMax)
	}
	if goal.Kind != arm.GoalJointPositions {
		target = clipVec(target, c.g.inMin, c.g.inMax)
	}
	if err := c.interp.Reset(c.start(s), target, c.g.steps); err != nil {
		return err
	}
	goal.Joints = target
	c.store(goal)
	return nil
}

func (c *jointController) Run(s *model.Snapshot) (arm.Torque, error) {
	if err := c.checkSnapshot(s); err != nil {
		return nil, err
	}
	if !c.hasGoal {
		if err := c.SetGoal(HoldGoal(c.kind, s), s); err != nil {
			return nil, err
		}
	}
	target := c.interp.Next()
	tau := c.finish(c.law(target, s), s.Gravity())
	c.last = tau.Clone()
	return tau, nil
}

func (c *jointController) Reset() {
	c.clear()
	c.interp = interp.NewLinear()
	c.last = nil
}

func (c *jointController) Progress() (int, int) {
	return c.interp.Step(), c.interp.TotalSteps()
}

func (c *jointController) Params() map[string]float64 {
	return c.baseParams()
}

// NewJointImpedance tracks joint positions:
// tau = kp (q_goal - q) - kv qdot + g, with the position error clipped to the
// input limits.
func NewJointImpedance(cfg Config, dof int) (Controller, error) {
	c, err := newJoint(JointImpedance, cfg, dof)
	if err != nil {
		return nil, err
	}
	c.start = func(s *model.Snapshot) []float64 { return s.Q() }
	c.law = func(target []float64, s *model.Snapshot) []float64 {
		q, qd, g := s.Q(), s.QDot(), s.Gravity()
		tau := make([]float64, c.dof)
		for i := range tau {
			e := clip(target[i]-q[i], c.g.inMin[i], c.g.inMax[i])
			tau[i] = c.g.kp[i]*e - c.g.kv[i]*qd[i] + g[i]
		}
		return tau
	}
	return c, nil
}

// NewJointVelocity tracks joint velocities with gravity compensation:
// tau = kv (qdot_goal - qdot) + g.
func NewJointVelocity(cfg Config, dof int) (Controller, error) {
	c, err := newJoint(JointVelocity, cfg, dof)
	if err != nil {
		return nil, err
	}
	c.start = func(s *model.Snapshot) []float64 { return s.QDot() }
	c.law = func(target []float64, s *model.Snapshot) []float64 {
		qd, g := s.QDot(), s.Gravity()
		tau := make([]float64, c.dof)
		for i := range tau {
			e := clip(target[i]-qd[i], c.g.inMin[i], c.g.inMax[i])
			tau[i] = c.g.kv[i]*e + g[i]
		}
		return tau
	}
	return c, nil
}

// NewJointTorque ramps toward the goal torque and passes it through.
func NewJointTorque(cfg Config, dof int) (Controller, error) {
	c, err := newJoint(JointTorque, cfg, dof)
	if err != nil {
		return nil, err
	}
	c.start = func(*model.Snapshot) []float64 {
		if c.last != nil {
			return c.last
		}
		return make([]float64, c.dof)
	}
	c.law = func(target []float64, _ *model.Snapshot) []float64 {
		return target
	}
	return c, nil
}
