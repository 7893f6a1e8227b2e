package robot

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	chain *kinematics.Chain
	sim   *sim.Arm
	robot *Interface
}

func newFixture(t *testing.T, chain *kinematics.Chain, q0 []float64, cfg Config, opts ...Option) *fixture {
	t.Helper()
	e, err := sim.NewEngine(500)
	require.NoError(t, err)
	a, err := e.NewArm(chain, q0)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	r, err := New(chain, a, cfg, opts...)
	require.NoError(t, err)
	return &fixture{chain: chain, sim: a, robot: r}
}

func TestApplyDeltaPose(t *testing.T) {
	f := newFixture(t, kinematics.Cartesian6(), nil, Config{
		Controller:   controllers.EEImpedance,
		ActionLimits: map[arm.ActionKind]controllers.Range{arm.ActionDeltaPose: {Min: []float64{-0.05}, Max: []float64{0.05}}},
	})
	ctx := context.Background()

	require.NoError(t, f.robot.ApplyAction(ctx, arm.Action{Kind: arm.ActionDeltaPose, Values: []float64{0.02, -1, 0, 0, 0, 0, 0.5}}))
	goal, ok := f.robot.Controller().Goal()
	require.True(t, ok)
	assert.Equal(t, arm.GoalEEPose, goal.Kind)
	assert.InDelta(t, 0.42, goal.Pose.Position.X, 1e-12)
	assert.InDelta(t, 0.05, goal.Pose.Position.Y, 1e-12)
	assert.InDelta(t, 0.3, goal.Pose.Position.Z, 1e-12)
	assert.Equal(t, 0.5, f.sim.Gripper())
}

func TestApplyActionRejects(t *testing.T) {
	f := newFixture(t, kinematics.Cartesian6(), nil, Config{Controller: controllers.EEImpedance})
	ctx := context.Background()

	tests := []struct {
		name   string
		action arm.Action
	}{
		{"short delta", arm.Action{Kind: arm.ActionDeltaPose, Values: []float64{0, 0, 0}}},
		{"long delta", arm.Action{Kind: arm.ActionDeltaPose, Values: make([]float64, 8)}},
		{"zero quaternion", arm.Action{Kind: arm.ActionAbsolutePose, Values: []float64{0.4, 0, 0.3, 0, 0, 0, 0}}},
		{"nan", arm.Action{Kind: arm.ActionDeltaPose, Values: []float64{math.NaN(), 0, 0, 0, 0, 0}}},
		{"joint action on pose controller", arm.Action{Kind: arm.ActionJointVelocity, Values: make([]float64, 6)}},
	}
	for _, tt := range tests {
		err := f.robot.ApplyAction(ctx, tt.action)
		assert.ErrorIs(t, err, arm.ErrInvalidGoal, tt.name)
	}
	_, ok := f.robot.Controller().Goal()
	assert.False(t, ok)
}

func TestJointActions(t *testing.T) {
	f := newFixture(t, kinematics.Cartesian6(), nil, Config{Controller: controllers.JointImpedance})
	ctx := context.Background()

	require.NoError(t, f.robot.ApplyAction(ctx, arm.Action{Kind: arm.ActionJointDelta, Values: []float64{0.1, 0, 0, 0, 0, 0.2}}))
	goal, _ := f.robot.Controller().Goal()
	assert.InDeltaSlice(t, []float64{0.4, 0.1, 0.4, 0, 0, 0.2}, goal.Joints, 1e-12)

	require.NoError(t, f.robot.ApplyAction(ctx, arm.Action{Kind: arm.ActionJointAbsolute, Values: []float64{0, 0, 0, 0, 0, 0}}))
	goal, _ = f.robot.Controller().Goal()
	assert.Equal(t, []float64{0, 0, 0, 0, 0, 0}, goal.Joints)

	err := f.robot.ApplyAction(ctx, arm.Action{Kind: arm.ActionJointAbsolute, Values: []float64{0, 0, 0, 0, 0, 0, 1}})
	assert.ErrorIs(t, err, arm.ErrInvalidGoal)
	assert.ErrorIs(t, f.robot.ApplyAction(ctx, arm.Action{Kind: arm.ActionTorque, Values: make([]float64, 6)}), arm.ErrInvalidGoal)
}

func TestStepNotifiesObservers(t *testing.T) {
	var recs []TickRecord
	f := newFixture(t, kinematics.Arm7(), nil, Config{}, WithObserver(func(r TickRecord) { recs = append(recs, r) }))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, f.robot.Step(ctx))
	}
	assert.Equal(t, 5, f.robot.Tick())
	require.Len(t, recs, 5)
	assert.Equal(t, 4, recs[4].Tick)
	assert.Equal(t, controllers.JointImpedance, recs[0].Controller)
	assert.True(t, recs[0].HasGoal)
	assert.Len(t, recs[0].Torque, 7)
	assert.InDelta(t, 5*0.002, f.sim.Time(), 1e-12)

	obs, err := f.robot.Observation()
	require.NoError(t, err)
	assert.Equal(t, 4, obs.Tick)
	assert.Len(t, obs.Q, 7)
}

func TestGoalExpiry(t *testing.T) {
	f := newFixture(t, kinematics.Cartesian6(), nil, Config{Controller: controllers.JointVelocity, GoalTicks: 3})
	ctx := context.Background()

	require.NoError(t, f.robot.ApplyAction(ctx, arm.Action{Kind: arm.ActionJointVelocity, Values: []float64{0, 0, 0.1, 0, 0, 0}}))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.robot.Step(ctx))
		goal, _ := f.robot.Controller().Goal()
		assert.Equal(t, 0.1, goal.Joints[2])
	}
	require.NoError(t, f.robot.Step(ctx))
	goal, _ := f.robot.Controller().Goal()
	assert.Equal(t, make([]float64, 6), goal.Joints)
}

func TestStepErrorsCarryTick(t *testing.T) {
	f := newFixture(t, kinematics.Cartesian6(), nil, Config{})
	ctx := context.Background()
	require.NoError(t, f.robot.Step(ctx))
	require.NoError(t, f.sim.Close())

	err := f.robot.Step(ctx)
	var te *arm.TickError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 1, te.Tick)
	assert.Equal(t, "state", te.Quantity)
	assert.Equal(t, string(controllers.JointImpedance), te.Controller)
	assert.ErrorIs(t, err, arm.ErrStateUnavailable)
	assert.Equal(t, 1, f.robot.Tick())
}

func TestSingularTickStillDispatches(t *testing.T) {
	q0 := []float64{0.3, 0.1, 0.4, 0, math.Pi / 2, 0}
	f := newFixture(t, kinematics.Cartesian6(), q0, Config{Controller: controllers.EEImpedance})
	ctx := context.Background()

	require.NoError(t, f.robot.Step(ctx))
	require.NoError(t, f.robot.Step(ctx))
	assert.GreaterOrEqual(t, f.robot.Singularities(), 1)
	assert.Equal(t, 2, f.robot.Tick())

	st, err := f.sim.ReadState(ctx)
	require.NoError(t, err)
	for _, q := range st.Positions {
		assert.False(t, math.IsNaN(q))
	}
}

func TestChangeController(t *testing.T) {
	f := newFixture(t, kinematics.Cartesian6(), nil, Config{Controller: controllers.JointImpedance})
	ctx := context.Background()

	require.NoError(t, f.robot.ApplyAction(ctx, arm.Action{Kind: arm.ActionJointDelta, Values: []float64{0.1, 0, 0, 0, 0, 0}}))
	for i := 0; i < 3; i++ {
		require.NoError(t, f.robot.Step(ctx))
	}
	before, err := f.sim.ReadState(ctx)
	require.NoError(t, err)

	bad := controllers.Config{Kp: []float64{1, 2}}
	assert.ErrorIs(t, f.robot.ChangeController(ctx, controllers.EEImpedance, bad), arm.ErrInvalidConfig)
	assert.Equal(t, controllers.JointImpedance, f.robot.Controller().Kind())

	require.NoError(t, f.robot.ChangeController(ctx, controllers.EEPosture, controllers.Config{}))
	assert.Equal(t, controllers.EEPosture, f.robot.Controller().Kind())
	step, total := f.robot.Controller().Progress()
	assert.Equal(t, 0, step)
	assert.Positive(t, total)
	goal, ok := f.robot.Controller().Goal()
	require.True(t, ok)
	assert.Equal(t, arm.GoalEEPose, goal.Kind)

	after, err := f.sim.ReadState(ctx)
	require.NoError(t, err)
	assert.Equal(t, before.Positions, after.Positions)
	assert.Equal(t, before.Velocities, after.Velocities)
}

func TestReset(t *testing.T) {
	chain := kinematics.Arm7()
	q0 := make([]float64, 7)
	for i := range q0 {
		q0[i] = chain.Neutral[i] + 0.2
	}
	f := newFixture(t, chain, q0, Config{})
	ctx := context.Background()
	require.NoError(t, f.robot.Step(ctx))

	require.NoError(t, f.robot.Reset(ctx))
	assert.Equal(t, 0, f.robot.Tick())
	_, ok := f.robot.Controller().Goal()
	assert.False(t, ok)

	obs, err := f.robot.Observation()
	require.NoError(t, err)
	assert.Equal(t, 0, obs.Tick)
	for i, q := range obs.Q {
		assert.InDelta(t, chain.Neutral[i], q, 0.01)
	}
}

func TestResetIncomplete(t *testing.T) {
	chain := kinematics.Arm7()
	q0 := make([]float64, 7)
	f := newFixture(t, chain, q0, Config{Reset: ResetConfig{Kp: 40, Tolerance: 0.01, MaxTicks: 3}})
	assert.ErrorIs(t, f.robot.Reset(context.Background()), arm.ErrResetIncomplete)
}

func TestNewValidation(t *testing.T) {
	chain := kinematics.Cartesian6()
	e, err := sim.NewEngine(500)
	require.NoError(t, err)
	a, err := e.NewArm(chain, nil)
	require.NoError(t, err)

	_, err = New(chain, a, Config{Controller: "Admittance"})
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
	_, err = New(chain, a, Config{GoalTicks: -1})
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
	_, err = New(chain, a, Config{Reset: ResetConfig{Kp: 1}})
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
	_, err = New(kinematics.Arm7(), a, Config{})
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
}

// A 0.1 m move along x with kp 50, kv 14 over 100 interpolation steps
// converges below a millimetre without the error growing.
func TestEndEffectorMoveConverges(t *testing.T) {
	chain := kinematics.Cartesian6()
	f := newFixture(t, chain, nil, Config{
		Controller: controllers.EEImpedance,
		ControllerConfig: controllers.Config{
			Kp:                 []float64{50},
			Kv:                 []float64{14},
			InterpolationSteps: 100,
			ControlFreq:        500,
			PolicyFreq:         20,
		},
	})
	ctx := context.Background()

	start := chain.EndEffector(chain.Neutral).P
	require.NoError(t, f.robot.ApplyAction(ctx, arm.Action{Kind: arm.ActionDeltaPose, Values: []float64{0.1, 0, 0, 0, 0, 0}}))
	goal := start.Add(r3.Vector{X: 0.1})

	prev := math.Inf(1)
	for i := 0; i < 850; i++ {
		require.NoError(t, f.robot.Step(ctx))
		st, err := f.sim.ReadState(ctx)
		require.NoError(t, err)
		e := chain.EndEffector(st.Positions).P.Sub(goal).Norm()
		require.LessOrEqual(t, e, prev+1e-6, "tick %d", i)
		prev = e
	}
	assert.Less(t, prev, 1e-3)
}
