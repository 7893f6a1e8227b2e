package robot

import (
	"fmt"
	"math"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/model"
	"github.com/san-kum/armsim/internal/spatial"
)

// goalKindFor is the goal an action kind translates into.
func goalKindFor(k arm.ActionKind) arm.GoalKind {
	switch k {
	case arm.ActionDeltaPose, arm.ActionAbsolutePose:
		return arm.GoalEEPose
	case arm.ActionJointVelocity:
		return arm.GoalJointVelocities
	case arm.ActionTorque:
		return arm.GoalJointTorques
	default:
		return arm.GoalJointPositions
	}
}

// splitAction checks the length of a against dof and separates the optional
// trailing gripper command.
func splitAction(a arm.Action, dof int) (values []float64, gripper float64, hasGripper bool, err error) {
	n, withGripper := a.Kind.Len(dof)
	switch {
	case len(a.Values) == n:
		values = a.Values
	case withGripper && len(a.Values) == n+1:
		values = a.Values[:n]
		gripper, hasGripper = a.Values[n], true
	default:
		return nil, 0, false, fmt.Errorf("%w: %s action has %d values, want %d", arm.ErrInvalidGoal, a.Kind, len(a.Values), n)
	}
	for _, v := range a.Values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, 0, false, fmt.Errorf("%w: %s action is not finite", arm.ErrInvalidGoal, a.Kind)
		}
	}
	return values, gripper, hasGripper, nil
}

// clipAction clips v to r. A one-element bound broadcasts; an empty bound
// leaves that side open.
func clipAction(v []float64, r controllers.Range) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		if lo, ok := bound(r.Min, i); ok {
			x = math.Max(x, lo)
		}
		if hi, ok := bound(r.Max, i); ok {
			x = math.Min(x, hi)
		}
		out[i] = x
	}
	return out
}

func bound(b []float64, i int) (float64, bool) {
	switch {
	case len(b) == 1:
		return b[0], true
	case i < len(b):
		return b[i], true
	}
	return 0, false
}

// translate maps a clipped action onto a goal relative to the snapshot.
// Delta poses apply the translation in the world frame and the rotation
// vector premultiplied onto the current orientation.
func translate(kind arm.ActionKind, v []float64, s *model.Snapshot) (arm.Goal, error) {
	switch kind {
	case arm.ActionDeltaPose:
		cur := s.EEPose()
		return arm.PoseGoal(spatial.Pose{
			Position:    cur.Position.Add(spatial.VecFromSlice(v[0:3])),
			Orientation: spatial.Rotate(cur.Orientation, spatial.VecFromSlice(v[3:6])),
		}), nil
	case arm.ActionAbsolutePose:
		p, err := spatial.PoseFromSlice(v)
		if err != nil {
			return arm.Goal{}, fmt.Errorf("%w: %w", arm.ErrInvalidGoal, err)
		}
		return arm.PoseGoal(p), nil
	case arm.ActionJointDelta:
		q := s.Q()
		for i := range q {
			q[i] += v[i]
		}
		return arm.JointPositionGoal(q), nil
	case arm.ActionJointAbsolute:
		return arm.JointPositionGoal(v), nil
	case arm.ActionJointVelocity:
		return arm.JointVelocityGoal(v), nil
	case arm.ActionTorque:
		return arm.JointTorqueGoal(v), nil
	}
	return arm.Goal{}, fmt.Errorf("%w: unknown action %s", arm.ErrInvalidGoal, kind)
}
