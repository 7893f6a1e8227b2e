package metrics

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/model"
	"github.com/san-kum/armsim/internal/robot"
	"github.com/san-kum/armsim/internal/spatial"
)

func snapshot(t *testing.T, q, qd []float64) *model.Snapshot {
	t.Helper()
	s, err := model.Build(kinematics.Cartesian6(), arm.JointState{Positions: q, Velocities: qd}, 0)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestTrackingErrorPose(t *testing.T) {
	m := NewTrackingError()
	s := snapshot(t, []float64{0.3, 0.1, 0.4, 0, 0, 0}, nil)
	goal := arm.PoseGoal(spatial.Pose{Position: r3.Vector{X: 0.4, Y: 0.1, Z: 0.3 + 0.03}, Orientation: spatial.IdentityQuat()})

	m.Observe(robot.TickRecord{Snapshot: s, Goal: goal, HasGoal: true})
	if math.Abs(m.Value()-0.03) > 1e-12 {
		t.Errorf("expected rms 0.03, got %f", m.Value())
	}

	// Velocity goals are not tracked.
	m.Observe(robot.TickRecord{Snapshot: s, Goal: arm.JointVelocityGoal(make([]float64, 6)), HasGoal: true})
	m.Observe(robot.TickRecord{Snapshot: s})
	if math.Abs(m.Value()-0.03) > 1e-12 {
		t.Errorf("expected rms unchanged, got %f", m.Value())
	}

	m.Reset()
	if m.Value() != 0 || m.Last() != 0 {
		t.Error("expected zero after reset")
	}
}

func TestTrackingErrorJoints(t *testing.T) {
	m := NewTrackingError()
	s := snapshot(t, []float64{0.3, 0.1, 0.4, 0, 0, 0}, nil)
	goal := arm.JointPositionGoal([]float64{0.3, 0.1, 0.4, 0.3, 0.4, 0})
	m.Observe(robot.TickRecord{Snapshot: s, Goal: goal, HasGoal: true})
	m.Observe(robot.TickRecord{Snapshot: s, Goal: arm.JointPositionGoal(s.Q()), HasGoal: true})

	want := math.Sqrt((0.25 + 0) / 2)
	if math.Abs(m.Value()-want) > 1e-12 {
		t.Errorf("expected rms %f, got %f", want, m.Value())
	}
	if m.Last() != 0 {
		t.Errorf("expected last error 0, got %f", m.Last())
	}
}

func TestControlEffortAndSaturation(t *testing.T) {
	effort := NewControlEffort()
	sat := NewSaturation()
	lim := controllers.Range{Min: []float64{-10}, Max: []float64{10}}

	for _, tau := range []arm.Torque{{10, 1, -2}, {-10, 0, 4}} {
		rec := robot.TickRecord{Torque: tau, Limits: lim}
		effort.Observe(rec)
		sat.Observe(rec)
	}
	if effort.Value() != 13.5 {
		t.Errorf("expected effort 13.5, got %f", effort.Value())
	}
	if math.Abs(sat.Value()-2.0/6) > 1e-12 {
		t.Errorf("expected saturation 1/3, got %f", sat.Value())
	}

	open := NewSaturation()
	open.Observe(robot.TickRecord{Torque: arm.Torque{1e9}})
	if open.Value() != 0 {
		t.Error("unbounded torque should never saturate")
	}
}

func TestEnergy(t *testing.T) {
	m := NewEnergy()
	if m.Value() != 0 {
		t.Error("expected zero energy before samples")
	}
	s := snapshot(t, []float64{0.3, 0.1, 0.4, 0, 0, 0}, []float64{0, 0, 1, 0, 0, 0})

	m.Observe(robot.TickRecord{Snapshot: s})
	want := 0.5 * s.MassMatrix().At(2, 2)
	if math.Abs(m.Value()-want) > 1e-12 {
		t.Errorf("expected energy %f, got %f", want, m.Value())
	}
}

func TestSuite(t *testing.T) {
	s := Default()
	s.Observe(robot.TickRecord{Torque: arm.Torque{1, -1}, Singular: true})
	s.Observe(robot.TickRecord{Torque: arm.Torque{1, -1}})

	v := s.Values()
	if len(v) != 5 {
		t.Fatalf("expected 5 metrics, got %d", len(v))
	}
	if v["regularity"] != 0.5 {
		t.Errorf("expected regularity 0.5, got %f", v["regularity"])
	}
	if v["control_effort"] != 2 {
		t.Errorf("expected effort 2, got %f", v["control_effort"])
	}

	s.Reset()
	if s.Values()["regularity"] != 1 {
		t.Error("expected regularity 1 after reset")
	}
}
