package arm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/san-kum/armsim/internal/spatial"
)

// Torque is a joint torque command, one entry per joint.
type Torque []float64

func (t Torque) Clone() Torque {
	c := make(Torque, len(t))
	copy(c, t)
	return c
}

// JointState is one reading of the joint encoders.
// Velocities may be nil when the source only measures positions.
type JointState struct {
	Positions  []float64
	Velocities []float64
	Time       time.Time
}

// ExecutionContext is the capability surface shared by the simulated and the
// physical arm. Implementations are driven by a single goroutine.
type ExecutionContext interface {
	DOF() int
	ReadState(ctx context.Context) (JointState, error)
	Dispatch(ctx context.Context, tau Torque) error
	// Advance moves the context forward one control period. Simulations
	// integrate; hardware waits for its own realtime loop.
	Advance(ctx context.Context) error
	Close() error
}

// Gripper is implemented by contexts with an actuated gripper.
// The command is normalized to [-1, 1], -1 fully open.
type Gripper interface {
	SetGripper(ctx context.Context, cmd float64) error
}

type GoalKind int

const (
	GoalJointPositions GoalKind = iota
	GoalJointVelocities
	GoalJointTorques
	GoalEEPose
	GoalEETwist
)

func (k GoalKind) String() string {
	switch k {
	case GoalJointPositions:
		return "joint_positions"
	case GoalJointVelocities:
		return "joint_velocities"
	case GoalJointTorques:
		return "joint_torques"
	case GoalEEPose:
		return "ee_pose"
	case GoalEETwist:
		return "ee_twist"
	}
	return fmt.Sprintf("goal(%d)", int(k))
}

// Goal is a tagged variant: Joints is used by the joint kinds, Pose and
// Twist by the end-effector kinds.
type Goal struct {
	Kind   GoalKind
	Joints []float64
	Pose   spatial.Pose
	Twist  spatial.Twist

	// ExpiresAfter > 0 reverts the goal to holding after that many control ticks.
	ExpiresAfter int
}

func JointPositionGoal(q []float64) Goal { return Goal{Kind: GoalJointPositions, Joints: clone(q)} }
func JointVelocityGoal(v []float64) Goal { return Goal{Kind: GoalJointVelocities, Joints: clone(v)} }
func JointTorqueGoal(t []float64) Goal   { return Goal{Kind: GoalJointTorques, Joints: clone(t)} }
func PoseGoal(p spatial.Pose) Goal       { return Goal{Kind: GoalEEPose, Pose: p} }
func TwistGoal(t spatial.Twist) Goal     { return Goal{Kind: GoalEETwist, Twist: t} }

func (g Goal) Clone() Goal {
	g.Joints = clone(g.Joints)
	return g
}

type ActionKind int

const (
	ActionDeltaPose ActionKind = iota
	ActionAbsolutePose
	ActionJointDelta
	ActionJointAbsolute
	ActionJointVelocity
	ActionTorque
)

var actionNames = map[ActionKind]string{
	ActionDeltaPose:     "delta_pose",
	ActionAbsolutePose:  "absolute_pose",
	ActionJointDelta:    "joint_delta",
	ActionJointAbsolute: "joint_absolute",
	ActionJointVelocity: "joint_velocity",
	ActionTorque:        "torque",
}

func (k ActionKind) String() string {
	if n, ok := actionNames[k]; ok {
		return n
	}
	return fmt.Sprintf("action(%d)", int(k))
}

func ParseActionKind(s string) (ActionKind, error) {
	s = strings.ToLower(strings.ReplaceAll(s, "-", "_"))
	for k, n := range actionNames {
		if n == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown action type %q", ErrInvalidConfig, s)
}

// Len returns the vector length for the action and whether a trailing
// gripper value may follow it.
func (k ActionKind) Len(dof int) (n int, gripper bool) {
	switch k {
	case ActionDeltaPose:
		return 6, true
	case ActionAbsolutePose:
		return 7, true
	default:
		return dof, false
	}
}

// Action is one policy-rate command vector.
type Action struct {
	Kind   ActionKind
	Values []float64
}

// Observation is assembled once per policy step from the final tick's snapshot.
type Observation struct {
	EEPose  spatial.Pose
	EETwist spatial.Twist
	Q       []float64
	QDot    []float64
	Gripper float64
	Step    int
	Tick    int
	Time    time.Time
}

func (o Observation) AsMap() map[string]any {
	return map[string]any{
		"ee_pose":   o.EEPose.Slice(),
		"ee_twist":  o.EETwist.Slice(),
		"q":         clone(o.Q),
		"dq":        clone(o.QDot),
		"gripper":   o.Gripper,
		"step":      o.Step,
		"tick":      o.Tick,
		"timestamp": o.Time,
	}
}

func clone(v []float64) []float64 {
	if v == nil {
		return nil
	}
	c := make([]float64, len(v))
	copy(c, v)
	return c
}
