package arm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTickErrorUnwrap(t *testing.T) {
	err := &TickError{Controller: "JointImpedance", Tick: 12, Quantity: "refresh", Err: ErrStateUnavailable}

	assert.True(t, errors.Is(err, ErrStateUnavailable))
	assert.Equal(t, "tick 12 (JointImpedance, refresh): armsim: robot state unavailable", err.Error())

	var te *TickError
	wrapped := fmt.Errorf("step 3: %w", err)
	assert.True(t, errors.As(wrapped, &te))
	assert.Equal(t, 12, te.Tick)
}

func TestShapeMismatchIsInvalidGoal(t *testing.T) {
	assert.True(t, errors.Is(ErrShapeMismatch, ErrInvalidGoal))
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "none"},
		{fmt.Errorf("x: %w", ErrInvalidConfig), "invalid_config"},
		{ErrShapeMismatch, "invalid_goal"},
		{fmt.Errorf("read: %w: %w", ErrStateUnavailable, ErrTransportTimeout), "transport_timeout"},
		{ErrKinematicSingularity, "kinematic_singularity"},
		{errors.New("boom"), "other"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err))
	}
}

func TestParseActionKind(t *testing.T) {
	k, err := ParseActionKind("Delta-Pose")
	assert.NoError(t, err)
	assert.Equal(t, ActionDeltaPose, k)

	_, err = ParseActionKind("teleport")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	n, grip := ActionAbsolutePose.Len(7)
	assert.Equal(t, 7, n)
	assert.True(t, grip)
	n, grip = ActionJointDelta.Len(5)
	assert.Equal(t, 5, n)
	assert.False(t, grip)
}
