package metrics

import (
	"math"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/robot"
)

// TrackingError is the RMS distance to the final goal: metres for pose goals,
// radians for joint position goals. Velocity and torque goals are skipped.
type TrackingError struct {
	sq   mean
	last float64
}

func NewTrackingError() *TrackingError { return &TrackingError{} }

func (e *TrackingError) Name() string { return "tracking_error_rms" }

func (e *TrackingError) Observe(rec robot.TickRecord) {
	d, ok := GoalError(rec)
	if !ok {
		return
	}
	e.last = d
	e.sq.add(d * d)
}

// GoalError is the distance between the measured state and the final goal of
// one tick. ok is false when the tick has no position-like goal.
func GoalError(rec robot.TickRecord) (d float64, ok bool) {
	if !rec.HasGoal || rec.Snapshot == nil {
		return 0, false
	}
	switch rec.Goal.Kind {
	case arm.GoalEEPose:
		return rec.Snapshot.EEPose().Position.Sub(rec.Goal.Pose.Position).Norm(), true
	case arm.GoalJointPositions:
		q := rec.Snapshot.Q()
		if len(q) != len(rec.Goal.Joints) {
			return 0, false
		}
		var sum float64
		for i := range q {
			sum += (q[i] - rec.Goal.Joints[i]) * (q[i] - rec.Goal.Joints[i])
		}
		return math.Sqrt(sum), true
	}
	return 0, false
}

func (e *TrackingError) Value() float64 { return math.Sqrt(e.sq.value()) }

// Last is the error at the most recent tracked tick.
func (e *TrackingError) Last() float64 { return e.last }

func (e *TrackingError) Reset() {
	e.sq.reset()
	e.last = 0
}
