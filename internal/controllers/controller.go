// Package controllers turns goals into joint torques. Every controller reads
// one model snapshot per control tick and returns a torque command clipped to
// its output limits.
package controllers

import (
	"fmt"
	"math"
	"strings"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/model"
	"gonum.org/v1/gonum/num/quat"
)

type Kind string

const (
	JointTorque    Kind = "JointTorque"
	JointVelocity  Kind = "JointVelocity"
	JointImpedance Kind = "JointImpedance"
	EEImpedance    Kind = "EEImpedance"
	EEPosture      Kind = "EEPosture"
)

var kinds = []Kind{JointTorque, JointVelocity, JointImpedance, EEImpedance, EEPosture}

func normalizeName(s string) string {
	return strings.ToLower(strings.NewReplacer("_", "", "-", "", " ", "").Replace(s))
}

// ParseKind accepts the canonical names and their snake case forms.
func ParseKind(s string) (Kind, error) {
	n := normalizeName(s)
	for _, k := range kinds {
		if normalizeName(string(k)) == n {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: unknown controller %q", arm.ErrInvalidConfig, s)
}

// Accepts reports the goal kinds a controller kind can track.
func (k Kind) Accepts(g arm.GoalKind) bool {
	switch k {
	case JointTorque:
		return g == arm.GoalJointTorques
	case JointVelocity:
		return g == arm.GoalJointVelocities
	case JointImpedance:
		return g == arm.GoalJointPositions
	case EEImpedance, EEPosture:
		return g == arm.GoalEEPose || g == arm.GoalEETwist
	}
	return false
}

type Controller interface {
	Kind() Kind

	// SetGoal validates goal against s and restarts interpolation from the
	// current state. A rejected goal leaves the previous goal in place.
	SetGoal(goal arm.Goal, s *model.Snapshot) error

	// Run computes the torque for one tick. A singular configuration returns
	// a usable torque together with an error wrapping
	// arm.ErrKinematicSingularity.
	Run(s *model.Snapshot) (arm.Torque, error)

	Reset()
	Config() Config

	// Goal returns the stored goal, false before the first goal or hold.
	Goal() (arm.Goal, bool)

	// Progress returns the interpolation step and its total.
	Progress() (step, total int)

	Params() map[string]float64
}

// HoldGoal is the goal that keeps the robot where s observed it: the current
// joint positions or pose, and zero velocity or torque.
func HoldGoal(k Kind, s *model.Snapshot) arm.Goal {
	switch k {
	case JointTorque:
		return arm.JointTorqueGoal(make([]float64, s.DOF()))
	case JointVelocity:
		return arm.JointVelocityGoal(make([]float64, s.DOF()))
	case EEImpedance, EEPosture:
		return arm.PoseGoal(s.EEPose())
	default:
		return arm.JointPositionGoal(s.Q())
	}
}

// base carries the state common to all controllers.
type base struct {
	kind Kind
	cfg  Config
	dof  int
	g    gains

	goal    arm.Goal
	hasGoal bool
}

func newBase(kind Kind, cfg Config, dof int) (base, error) {
	g, err := resolve(kind, cfg, dof)
	if err != nil {
		return base{}, err
	}
	return base{kind: kind, cfg: cfg, dof: dof, g: g}, nil
}

func (b *base) Kind() Kind     { return b.kind }
func (b *base) Config() Config { return b.cfg }

func (b *base) Goal() (arm.Goal, bool) {
	if !b.hasGoal {
		return arm.Goal{}, false
	}
	return b.goal.Clone(), true
}

func (b *base) checkGoal(goal arm.Goal, s *model.Snapshot) error {
	if !b.kind.Accepts(goal.Kind) {
		return fmt.Errorf("%w: %s does not accept %s goals", arm.ErrInvalidGoal, b.kind, goal.Kind)
	}
	if err := b.checkSnapshot(s); err != nil {
		return err
	}
	switch goal.Kind {
	case arm.GoalJointPositions, arm.GoalJointVelocities, arm.GoalJointTorques:
		if len(goal.Joints) != b.dof {
			return fmt.Errorf("%w: goal has %d values for %d joints", arm.ErrShapeMismatch, len(goal.Joints), b.dof)
		}
		if !finite(goal.Joints) {
			return fmt.Errorf("%w: goal is not finite", arm.ErrInvalidGoal)
		}
	case arm.GoalEEPose:
		if !finite(goal.Pose.Slice()) {
			return fmt.Errorf("%w: pose goal is not finite", arm.ErrInvalidGoal)
		}
		if quat.Abs(goal.Pose.Orientation) < 1e-9 {
			return fmt.Errorf("%w: pose goal has a zero quaternion", arm.ErrInvalidGoal)
		}
	case arm.GoalEETwist:
		if !finite(goal.Twist.Slice()) {
			return fmt.Errorf("%w: twist goal is not finite", arm.ErrInvalidGoal)
		}
	}
	return nil
}

func (b *base) checkSnapshot(s *model.Snapshot) error {
	if s == nil {
		return fmt.Errorf("%w: nil snapshot", arm.ErrShapeMismatch)
	}
	if s.DOF() != b.dof {
		return fmt.Errorf("%w: snapshot has %d joints, controller %d", arm.ErrShapeMismatch, s.DOF(), b.dof)
	}
	return nil
}

func (b *base) store(goal arm.Goal) {
	b.goal = goal.Clone()
	b.hasGoal = true
}

func (b *base) clear() {
	b.goal = arm.Goal{}
	b.hasGoal = false
}

// finish clips tau to the output limits and replaces non-finite entries so
// the result is always dispatchable.
func (b *base) finish(tau []float64, fallback []float64) arm.Torque {
	out := make(arm.Torque, len(tau))
	for i, v := range tau {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = 0
			if fallback != nil {
				v = fallback[i]
			}
		}
		out[i] = clip(v, b.g.outMin[i], b.g.outMax[i])
	}
	return out
}

func (b *base) baseParams() map[string]float64 {
	p := map[string]float64{
		"steps":   float64(b.g.steps),
		"control": 1 / b.g.dt,
	}
	if len(b.g.kp) > 0 {
		p["kp"] = b.g.kp[0]
		p["kv"] = b.g.kv[0]
	}
	return p
}

func clip(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func clipVec(v, lo, hi []float64) []float64 {
	out := make([]float64, len(v))
	for i := range v {
		out[i] = clip(v[i], lo[i], hi[i])
	}
	return out
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}
