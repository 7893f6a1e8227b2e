// Package demo generates validation trajectories for the end effector and the
// joints and runs them against a world.
package demo

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/spatial"
)

// Delta is a pose increment: a position offset and a world-frame rotation
// vector.
type Delta struct {
	Position r3.Vector
	Rotation r3.Vector
}

// Slice returns the 6-element layout dx, dy, dz, ax, ay, az.
func (d Delta) Slice() []float64 {
	return []float64{d.Position.X, d.Position.Y, d.Position.Z, d.Rotation.X, d.Rotation.Y, d.Rotation.Z}
}

// ApplyDelta moves p by d. It matches how delta_pose actions are turned into goals.
func ApplyDelta(p spatial.Pose, d Delta) spatial.Pose {
	return spatial.Pose{
		Position:    p.Position.Add(d.Position),
		Orientation: spatial.Rotate(p.Orientation, d.Rotation),
	}
}

// GetDelta is the increment that takes current to goal.
func GetDelta(goal, current spatial.Pose) Delta {
	return Delta{
		Position: goal.Position.Sub(current.Position),
		Rotation: spatial.OrientationError(goal.Orientation, current.Orientation),
	}
}

// ApplyDeltaSlice and GetDeltaSlice work on the flat 7-element pose layout.
func ApplyDeltaSlice(pose, delta []float64) ([]float64, error) {
	if len(delta) != 6 {
		return nil, fmt.Errorf("%w: delta needs 6 values [x y z ax ay az], got %d", arm.ErrInvalidGoal, len(delta))
	}
	p, err := spatial.PoseFromSlice(pose)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", arm.ErrInvalidGoal, err)
	}
	d := Delta{Position: spatial.VecFromSlice(delta[:3]), Rotation: spatial.VecFromSlice(delta[3:])}
	return ApplyDelta(p, d).Slice(), nil
}

func GetDeltaSlice(goal, current []float64) ([]float64, error) {
	g, err := spatial.PoseFromSlice(goal)
	if err != nil {
		return nil, fmt.Errorf("%w: goal: %v", arm.ErrInvalidGoal, err)
	}
	c, err := spatial.PoseFromSlice(current)
	if err != nil {
		return nil, fmt.Errorf("%w: current: %v", arm.ErrInvalidGoal, err)
	}
	return GetDelta(g, c).Slice(), nil
}

// Path is a sequence of end-effector waypoints built by accumulating deltas
// from a start pose. The final waypoint is held for a fifth of the path
// length so the controller can settle.
type Path struct {
	Name   string
	Deltas []Delta
	Poses  []spatial.Pose
}

func newPath(name string, start spatial.Pose, deltas []Delta) *Path {
	p := &Path{Name: name, Deltas: deltas, Poses: []spatial.Pose{start}}
	for _, d := range deltas {
		p.Poses = append(p.Poses, ApplyDelta(p.Poses[len(p.Poses)-1], d))
	}
	last := p.Poses[len(p.Poses)-1]
	for i := 0; i < int(0.2*float64(len(deltas))); i++ {
		p.Poses = append(p.Poses, last)
	}
	return p
}

// Goals are the waypoints after the start pose.
func (p *Path) Goals() []spatial.Pose { return p.Poses[1:] }

func axisVec(axis int, v float64) (r3.Vector, error) {
	switch axis {
	case 0:
		return r3.Vector{X: v}, nil
	case 1:
		return r3.Vector{Y: v}, nil
	case 2:
		return r3.Vector{Z: v}, nil
	}
	return r3.Vector{}, fmt.Errorf("%w: axis %d is not one of 0, 1, 2", arm.ErrInvalidConfig, axis)
}

func checkSteps(n int) error {
	if n <= 0 {
		return fmt.Errorf("%w: path needs at least one step, got %d", arm.ErrInvalidConfig, n)
	}
	return nil
}

// Zero holds the start pose.
func Zero(start spatial.Pose, steps int) (*Path, error) {
	if err := checkSteps(steps); err != nil {
		return nil, err
	}
	return newPath("zero", start, make([]Delta, steps)), nil
}

// Line travels length metres along axis in equal steps.
func Line(start spatial.Pose, steps int, length float64, axis int) (*Path, error) {
	if err := checkSteps(steps); err != nil {
		return nil, err
	}
	v, err := axisVec(axis, length/float64(steps))
	if err != nil {
		return nil, err
	}
	deltas := make([]Delta, steps)
	for i := range deltas {
		deltas[i].Position = v
	}
	return newPath("line", start, deltas), nil
}

// Square traces a square in the xy plane. It starts along +x and proceeds
// clockwise seen from above: +x, -y, -x, +y.
func Square(start spatial.Pose, sideSteps int, step float64) (*Path, error) {
	if err := checkSteps(sideSteps); err != nil {
		return nil, err
	}
	sides := []r3.Vector{{X: step}, {Y: -step}, {X: -step}, {Y: step}}
	deltas := []Delta{{}}
	for _, side := range sides {
		for i := 0; i < sideSteps; i++ {
			deltas = append(deltas, Delta{Position: side})
		}
	}
	return newPath("square", start, deltas), nil
}

// Rotation turns the end effector by angle radians about a world axis.
func Rotation(start spatial.Pose, steps int, angle float64, axis int) (*Path, error) {
	if err := checkSteps(steps); err != nil {
		return nil, err
	}
	v, err := axisVec(axis, angle/float64(steps))
	if err != nil {
		return nil, err
	}
	deltas := make([]Delta, steps)
	for i := range deltas {
		deltas[i].Rotation = v
	}
	return newPath("rotation", start, deltas), nil
}

// JointSteps moves each joint by +delta in turn and then back by -delta in
// reverse order, starting with a zero step.
func JointSteps(dof int, delta float64) [][]float64 {
	steps := [][]float64{make([]float64, dof)}
	for j := 0; j < dof; j++ {
		d := make([]float64, dof)
		d[j] = delta
		steps = append(steps, d)
	}
	for j := 0; j < dof; j++ {
		d := make([]float64, dof)
		d[dof-1-j] = -delta
		steps = append(steps, d)
	}
	return steps
}

// DefaultRotation is the default total turn of the rotation path.
const DefaultRotation = math.Pi / 4
