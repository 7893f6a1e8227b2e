package model

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

type fakeConn struct {
	dof   int
	state arm.JointState
	err   error
}

func (f *fakeConn) DOF() int { return f.dof }
func (f *fakeConn) ReadState(context.Context) (arm.JointState, error) {
	return f.state, f.err
}
func (f *fakeConn) Dispatch(context.Context, arm.Torque) error { return nil }
func (f *fakeConn) Advance(context.Context) error              { return nil }
func (f *fakeConn) Close() error                               { return nil }

func TestRefresh(t *testing.T) {
	chain := kinematics.Cartesian6()
	conn := &fakeConn{dof: 6, state: arm.JointState{
		Positions:  []float64{0.3, 0.1, 0.4, 0, 0, 0},
		Velocities: []float64{0.1, 0, -0.2, 0, 0, 0},
	}}
	m, err := New(chain, conn)
	require.NoError(t, err)

	s, err := m.Refresh(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 4, s.Tick())
	assert.InDelta(t, 0.4, s.EEPose().Position.X, 1e-12)
	assert.InDelta(t, -0.2, s.EETwist().Linear.X, 1e-12)
	assert.InDelta(t, 0.1, s.EETwist().Linear.Z, 1e-12)

	r, c := s.Jacobian().Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 6, c)
	assert.True(t, mat.EqualApprox(s.MassMatrix(), s.MassMatrix().T(), 1e-12))

	// Accessors hand out copies.
	q := s.Q()
	q[0] = 99
	assert.InDelta(t, 0.3, s.Q()[0], 1e-15)
}

func TestRefreshFailures(t *testing.T) {
	chain := kinematics.Cartesian6()
	conn := &fakeConn{dof: 6}
	m, err := New(chain, conn)
	require.NoError(t, err)
	ctx := context.Background()

	conn.err = errors.New("bus unplugged")
	_, err = m.Refresh(ctx, 0)
	assert.ErrorIs(t, err, arm.ErrStateUnavailable)

	conn.err = nil
	conn.state = arm.JointState{Positions: []float64{0, 0, 0}}
	_, err = m.Refresh(ctx, 0)
	assert.ErrorIs(t, err, arm.ErrStateUnavailable)

	conn.state = arm.JointState{Positions: []float64{0, 0, math.NaN(), 0, 0, 0}}
	s, err := m.Refresh(ctx, 0)
	assert.ErrorIs(t, err, arm.ErrStateUnavailable)
	assert.Nil(t, s)
}

func TestNewRejectsDimensionMismatch(t *testing.T) {
	_, err := New(kinematics.Arm7(), &fakeConn{dof: 6})
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
}
