// Package spatial provides the rigid-body math used by kinematics and the
// operational-space controllers.
//
// Vectors are [r3.Vector], rotations are row-major [Mat3] values and
// orientations are unit quaternions ([quat.Number], Real is the scalar part).
// Slices exchanged with policies use the xyzw quaternion layout.
package spatial

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/quat"
)

const eps = 1e-12

// Mat3 is a row-major 3x3 matrix.
type Mat3 [3][3]float64

func Identity() Mat3 {
	return Mat3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}
}

func (m Mat3) Mul(o Mat3) Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[i][0]*o[0][j] + m[i][1]*o[1][j] + m[i][2]*o[2][j]
		}
	}
	return r
}

func (m Mat3) MulVec(v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m[0][0]*v.X + m[0][1]*v.Y + m[0][2]*v.Z,
		Y: m[1][0]*v.X + m[1][1]*v.Y + m[1][2]*v.Z,
		Z: m[2][0]*v.X + m[2][1]*v.Y + m[2][2]*v.Z,
	}
}

func (m Mat3) T() Mat3 {
	var r Mat3
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			r[i][j] = m[j][i]
		}
	}
	return r
}

// Col returns column j as a vector.
func (m Mat3) Col(j int) r3.Vector {
	return r3.Vector{X: m[0][j], Y: m[1][j], Z: m[2][j]}
}

func RotX(a float64) Mat3 {
	s, c := math.Sincos(a)
	return Mat3{{1, 0, 0}, {0, c, -s}, {0, s, c}}
}

func RotZ(a float64) Mat3 {
	s, c := math.Sincos(a)
	return Mat3{{c, -s, 0}, {s, c, 0}, {0, 0, 1}}
}

// Transform is a homogeneous rigid transform.
type Transform struct {
	R Mat3
	P r3.Vector
}

func IdentityTransform() Transform {
	return Transform{R: Identity()}
}

// Compose returns t * o.
func (t Transform) Compose(o Transform) Transform {
	return Transform{R: t.R.Mul(o.R), P: t.P.Add(t.R.MulVec(o.P))}
}

// Apply maps a point expressed in t's child frame into its parent frame.
func (t Transform) Apply(p r3.Vector) r3.Vector {
	return t.P.Add(t.R.MulVec(p))
}

// IdentityQuat is the zero rotation.
func IdentityQuat() quat.Number {
	return quat.Number{Real: 1}
}

// Normalize returns q scaled to unit norm. A zero quaternion maps to identity.
func Normalize(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n < eps || math.IsNaN(n) {
		return IdentityQuat()
	}
	return quat.Scale(1/n, q)
}

// Canonical returns the representative of q with a non-negative scalar part.
func Canonical(q quat.Number) quat.Number {
	if q.Real < 0 {
		return quat.Scale(-1, q)
	}
	return q
}

func Dot(a, b quat.Number) float64 {
	return a.Real*b.Real + a.Imag*b.Imag + a.Jmag*b.Jmag + a.Kmag*b.Kmag
}

// QuatFromMat converts a rotation matrix using Shepperd's method.
func QuatFromMat(m Mat3) quat.Number {
	tr := m[0][0] + m[1][1] + m[2][2]
	var q quat.Number
	switch {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{
			Real: 0.25 * s,
			Imag: (m[2][1] - m[1][2]) / s,
			Jmag: (m[0][2] - m[2][0]) / s,
			Kmag: (m[1][0] - m[0][1]) / s,
		}
	case m[0][0] > m[1][1] && m[0][0] > m[2][2]:
		s := math.Sqrt(1+m[0][0]-m[1][1]-m[2][2]) * 2
		q = quat.Number{
			Real: (m[2][1] - m[1][2]) / s,
			Imag: 0.25 * s,
			Jmag: (m[0][1] + m[1][0]) / s,
			Kmag: (m[0][2] + m[2][0]) / s,
		}
	case m[1][1] > m[2][2]:
		s := math.Sqrt(1+m[1][1]-m[0][0]-m[2][2]) * 2
		q = quat.Number{
			Real: (m[0][2] - m[2][0]) / s,
			Imag: (m[0][1] + m[1][0]) / s,
			Jmag: 0.25 * s,
			Kmag: (m[1][2] + m[2][1]) / s,
		}
	default:
		s := math.Sqrt(1+m[2][2]-m[0][0]-m[1][1]) * 2
		q = quat.Number{
			Real: (m[1][0] - m[0][1]) / s,
			Imag: (m[0][2] + m[2][0]) / s,
			Jmag: (m[1][2] + m[2][1]) / s,
			Kmag: 0.25 * s,
		}
	}
	return Canonical(Normalize(q))
}

// QuatToMat converts a unit quaternion to a rotation matrix.
func QuatToMat(q quat.Number) Mat3 {
	q = Normalize(q)
	w, x, y, z := q.Real, q.Imag, q.Jmag, q.Kmag
	return Mat3{
		{1 - 2*(y*y+z*z), 2 * (x*y - z*w), 2 * (x*z + y*w)},
		{2 * (x*y + z*w), 1 - 2*(x*x+z*z), 2 * (y*z - x*w)},
		{2 * (x*z - y*w), 2 * (y*z + x*w), 1 - 2*(x*x+y*y)},
	}
}

// QuatFromRotationVector maps an axis-angle vector (axis * angle) to a quaternion.
func QuatFromRotationVector(v r3.Vector) quat.Number {
	angle := v.Norm()
	if angle < eps {
		return Normalize(quat.Number{Real: 1, Imag: v.X / 2, Jmag: v.Y / 2, Kmag: v.Z / 2})
	}
	s := math.Sin(angle/2) / angle
	return quat.Number{Real: math.Cos(angle / 2), Imag: v.X * s, Jmag: v.Y * s, Kmag: v.Z * s}
}

// RotationVector is the logarithm of q: the axis-angle vector of the
// shortest rotation represented by q.
func RotationVector(q quat.Number) r3.Vector {
	q = Canonical(Normalize(q))
	v := r3.Vector{X: q.Imag, Y: q.Jmag, Z: q.Kmag}
	s := v.Norm()
	if s < eps {
		return v.Mul(2)
	}
	angle := 2 * math.Atan2(s, q.Real)
	return v.Mul(angle / s)
}

// OrientationError returns the world-frame rotation vector e such that
// rotating current by e yields goal, taking the shortest arc.
func OrientationError(goal, current quat.Number) r3.Vector {
	return RotationVector(quat.Mul(Normalize(goal), quat.Conj(Normalize(current))))
}

// Rotate applies a world-frame rotation vector to q.
func Rotate(q quat.Number, v r3.Vector) quat.Number {
	return Normalize(quat.Mul(QuatFromRotationVector(v), q))
}

// Slerp interpolates along the great circle between unit quaternions a and b.
func Slerp(a, b quat.Number, t float64) quat.Number {
	a, b = Normalize(a), Normalize(b)
	d := Dot(a, b)
	if d < 0 {
		b = quat.Scale(-1, b)
		d = -d
	}
	if d > 0.9995 {
		return Normalize(quat.Add(a, quat.Scale(t, quat.Sub(b, a))))
	}
	theta := math.Acos(math.Min(d, 1))
	sin := math.Sin(theta)
	s0 := math.Sin((1-t)*theta) / sin
	s1 := math.Sin(t*theta) / sin
	return Normalize(quat.Add(quat.Scale(s0, a), quat.Scale(s1, b)))
}

// QuatFromXYZW parses a 4-element xyzw slice.
func QuatFromXYZW(v []float64) (quat.Number, error) {
	if len(v) != 4 {
		return quat.Number{}, fmt.Errorf("quaternion needs 4 values, got %d", len(v))
	}
	q := quat.Number{Real: v[3], Imag: v[0], Jmag: v[1], Kmag: v[2]}
	if quat.Abs(q) < eps {
		return quat.Number{}, fmt.Errorf("zero quaternion")
	}
	return Normalize(q), nil
}

// XYZW returns q in xyzw layout.
func XYZW(q quat.Number) [4]float64 {
	return [4]float64{q.Imag, q.Jmag, q.Kmag, q.Real}
}

// Pose is an end-effector position and orientation.
type Pose struct {
	Position    r3.Vector
	Orientation quat.Number
}

// Slice returns the 7-element layout x, y, z, qx, qy, qz, qw.
func (p Pose) Slice() []float64 {
	q := XYZW(p.Orientation)
	return []float64{p.Position.X, p.Position.Y, p.Position.Z, q[0], q[1], q[2], q[3]}
}

// PoseFromSlice parses the 7-element layout produced by [Pose.Slice].
func PoseFromSlice(v []float64) (Pose, error) {
	if len(v) != 7 {
		return Pose{}, fmt.Errorf("pose needs 7 values, got %d", len(v))
	}
	q, err := QuatFromXYZW(v[3:7])
	if err != nil {
		return Pose{}, err
	}
	return Pose{Position: r3.Vector{X: v[0], Y: v[1], Z: v[2]}, Orientation: q}, nil
}

// Twist is a spatial velocity expressed in the world frame.
type Twist struct {
	Linear  r3.Vector
	Angular r3.Vector
}

func (t Twist) Slice() []float64 {
	return []float64{t.Linear.X, t.Linear.Y, t.Linear.Z, t.Angular.X, t.Angular.Y, t.Angular.Z}
}

func TwistFromSlice(v []float64) (Twist, error) {
	if len(v) != 6 {
		return Twist{}, fmt.Errorf("twist needs 6 values, got %d", len(v))
	}
	return Twist{
		Linear:  r3.Vector{X: v[0], Y: v[1], Z: v[2]},
		Angular: r3.Vector{X: v[3], Y: v[4], Z: v[5]},
	}, nil
}

// VecFromSlice reads three values starting at v[0].
func VecFromSlice(v []float64) r3.Vector {
	return r3.Vector{X: v[0], Y: v[1], Z: v[2]}
}

// VecSlice returns v as a 3-element slice.
func VecSlice(v r3.Vector) []float64 {
	return []float64{v.X, v.Y, v.Z}
}
