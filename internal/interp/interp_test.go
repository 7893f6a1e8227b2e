package interp

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/spatial"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
)

func TestLinearReachesGoalExactly(t *testing.T) {
	l := NewLinear()
	goal := []float64{0.1, -0.3, 1.0 / 3.0}
	require.NoError(t, l.Reset([]float64{0, 0, 0}, goal, 7))

	var last []float64
	for i := 0; i < 7; i++ {
		assert.False(t, l.Done())
		last = l.Next()
	}
	assert.True(t, l.Done())
	assert.Equal(t, goal, last)

	// Idempotent once complete.
	assert.Equal(t, goal, l.Next())
	assert.Equal(t, 7, l.Step())
}

func TestLinearMonotoneProgress(t *testing.T) {
	l := NewLinear()
	require.NoError(t, l.Reset([]float64{0}, []float64{1}, 4))
	prev := 0.0
	for i := 1; i <= 4; i++ {
		v := l.Next()
		assert.InDelta(t, float64(i)/4, v[0], 1e-15)
		assert.GreaterOrEqual(t, v[0], prev)
		prev = v[0]
	}
}

func TestLinearResetErrors(t *testing.T) {
	l := NewLinear()
	assert.ErrorIs(t, l.Reset([]float64{0}, []float64{1}, 0), arm.ErrInvalidConfig)
	assert.ErrorIs(t, l.Reset([]float64{0}, []float64{1, 2}, 3), arm.ErrInvalidConfig)
}

func TestLinearRestart(t *testing.T) {
	l := NewLinear()
	require.NoError(t, l.Reset([]float64{0}, []float64{1}, 2))
	l.Next()
	require.NoError(t, l.Reset([]float64{5}, []float64{6}, 2))
	assert.Equal(t, 0, l.Step())
	assert.Equal(t, []float64{5}, l.Current())
	assert.InDelta(t, 5.5, l.Next()[0], 1e-15)
}

func TestUntouchedInterpolators(t *testing.T) {
	l := NewLinear()
	assert.True(t, l.Done())
	assert.Nil(t, l.Next())

	s := NewSlerp()
	assert.True(t, s.Done())
	assert.Equal(t, spatial.IdentityQuat(), s.Next())
}

func TestSlerpUnitNorm(t *testing.T) {
	s := NewSlerp()
	a := spatial.QuatFromRotationVector(r3.Vector{Z: 0.2})
	b := spatial.QuatFromRotationVector(r3.Vector{X: 1.5, Y: -0.4})
	require.NoError(t, s.Reset(a, b, 50))

	var q quat.Number
	for !s.Done() {
		q = s.Next()
		assert.InDelta(t, 1.0, quat.Abs(q), 1e-12)
	}
	assert.Equal(t, s.Goal(), q)
	assert.InDelta(t, 1.0, math.Abs(spatial.Dot(q, b)), 1e-12)
}

func TestSlerpRejectsZeroSteps(t *testing.T) {
	s := NewSlerp()
	assert.ErrorIs(t, s.Reset(spatial.IdentityQuat(), spatial.IdentityQuat(), -1), arm.ErrInvalidConfig)
}
