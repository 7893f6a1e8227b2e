package sim

import (
	"context"
	"sync"
	"testing"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArm(t *testing.T, chain *kinematics.Chain, opts ...Option) *Arm {
	t.Helper()
	e, err := NewEngine(100, opts...)
	require.NoError(t, err)
	a, err := e.NewArm(chain, nil)
	require.NoError(t, err)
	return a
}

func TestGravityCompensatedArmHolds(t *testing.T) {
	chain := kinematics.Arm7()
	a := newArm(t, chain)
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		st, err := a.ReadState(ctx)
		require.NoError(t, err)
		require.NoError(t, a.Dispatch(ctx, chain.Gravity(st.Positions)))
		require.NoError(t, a.Advance(ctx))
	}
	st, err := a.ReadState(ctx)
	require.NoError(t, err)
	for i, q := range st.Positions {
		assert.InDelta(t, chain.Neutral[i], q, 1e-6)
		assert.InDelta(t, 0, st.Velocities[i], 1e-5)
	}
	assert.InDelta(t, 0.5, a.Time(), 1e-9)
}

func TestAdvanceWithoutDispatchFalls(t *testing.T) {
	chain := kinematics.Cartesian6()
	a := newArm(t, chain)
	ctx := context.Background()

	require.NoError(t, a.Advance(ctx))
	st, _ := a.ReadState(ctx)
	assert.Less(t, st.Positions[0], chain.Neutral[0])
	assert.Less(t, st.Velocities[0], 0.0)

	// A dispatched torque is used only once.
	require.NoError(t, a.Teleport(chain.Neutral, nil))
	g := chain.Gravity(chain.Neutral)
	require.NoError(t, a.Dispatch(ctx, g))
	require.NoError(t, a.Advance(ctx))
	st, _ = a.ReadState(ctx)
	assert.InDelta(t, chain.Neutral[0], st.Positions[0], 1e-9)
	require.NoError(t, a.Advance(ctx))
	st, _ = a.ReadState(ctx)
	assert.Less(t, st.Positions[0], chain.Neutral[0])
}

func TestJointLimitsStopTheArm(t *testing.T) {
	chain := kinematics.Cartesian6()
	a := newArm(t, chain)
	ctx := context.Background()
	for i := 0; i < 200; i++ {
		require.NoError(t, a.Advance(ctx))
	}
	st, _ := a.ReadState(ctx)
	assert.Equal(t, chain.Links[0].Lower, st.Positions[0])
	assert.GreaterOrEqual(t, st.Velocities[0], 0.0)
}

func TestDispatchValidation(t *testing.T) {
	a := newArm(t, kinematics.Cartesian6())
	ctx := context.Background()

	assert.ErrorIs(t, a.Dispatch(ctx, arm.Torque{1, 2}), arm.ErrShapeMismatch)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	_, err := a.ReadState(ctx)
	assert.ErrorIs(t, err, arm.ErrStateUnavailable)
	assert.ErrorIs(t, a.Advance(ctx), arm.ErrStateUnavailable)
	assert.ErrorIs(t, a.Dispatch(ctx, make(arm.Torque, 6)), arm.ErrStateUnavailable)
}

func TestEngineOptions(t *testing.T) {
	_, err := NewEngine(0)
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
	_, err = NewEngine(100, WithSubsteps(0))
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
	_, err = NewEngine(100, WithIntegrator("leapfrog"))
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)

	e, err := NewEngine(500, WithIntegrator("semi_implicit"), WithSubsteps(4))
	require.NoError(t, err)
	assert.InDelta(t, 0.002, e.Dt(), 1e-15)
}

func TestGripperClamped(t *testing.T) {
	a := newArm(t, kinematics.SO101())
	require.NoError(t, a.SetGripper(context.Background(), 3))
	assert.Equal(t, 1.0, a.Gripper())
}

func TestArmsShareEngine(t *testing.T) {
	e, err := NewEngine(100)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		a, err := e.NewArm(kinematics.Cartesian6(), nil)
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = a.Advance(context.Background())
			}
		}()
	}
	wg.Wait()
}
