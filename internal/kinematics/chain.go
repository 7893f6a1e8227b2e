// Package kinematics models a serial manipulator as a standard
// Denavit-Hartenberg chain and derives the quantities the controllers need:
// forward kinematics, Jacobians, joint-space mass matrix, gravity and
// Coriolis torques.
package kinematics

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/spatial"
	"gonum.org/v1/gonum/mat"
)

type JointType int

const (
	Revolute JointType = iota
	Prismatic
)

func (j JointType) String() string {
	if j == Prismatic {
		return "prismatic"
	}
	return "revolute"
}

// Link is one DH link together with its rigid-body parameters.
// COM is expressed in the link's own frame.
type Link struct {
	Name   string
	A      float64
	Alpha  float64
	D      float64
	Offset float64
	Joint  JointType

	Mass     float64
	COM      r3.Vector
	Inertia  float64
	Armature float64
	Damping  float64

	Lower, Upper float64
}

// transform returns the DH transform of the link for joint value q.
func (l Link) transform(q float64) spatial.Transform {
	theta, d := l.Offset, l.D
	if l.Joint == Prismatic {
		d += q
	} else {
		theta += q
	}
	s, c := math.Sincos(theta)
	return spatial.Transform{
		R: spatial.RotZ(theta).Mul(spatial.RotX(l.Alpha)),
		P: r3.Vector{X: l.A * c, Y: l.A * s, Z: d},
	}
}

type Chain struct {
	Name    string
	Links   []Link
	Tool    spatial.Transform
	// G is the gravitational acceleration in the base frame.
	G       r3.Vector
	Neutral []float64
}

func (c *Chain) DOF() int {
	return len(c.Links)
}

func (c *Chain) Validate() error {
	if len(c.Links) == 0 {
		return fmt.Errorf("%w: chain %q has no links", arm.ErrInvalidConfig, c.Name)
	}
	for i, l := range c.Links {
		for _, v := range []float64{l.A, l.Alpha, l.D, l.Offset, l.Mass, l.Inertia, l.Armature, l.Damping, l.COM.X, l.COM.Y, l.COM.Z} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: link %d has a non-finite parameter", arm.ErrInvalidConfig, i)
			}
		}
		if l.Mass < 0 || l.Inertia < 0 || l.Armature < 0 || l.Damping < 0 {
			return fmt.Errorf("%w: link %d has negative inertial parameters", arm.ErrInvalidConfig, i)
		}
		if l.Lower > l.Upper {
			return fmt.Errorf("%w: link %d lower limit above upper limit", arm.ErrInvalidConfig, i)
		}
	}
	if c.Neutral != nil && len(c.Neutral) != len(c.Links) {
		return fmt.Errorf("%w: neutral posture has %d values for %d joints", arm.ErrInvalidConfig, len(c.Neutral), len(c.Links))
	}
	return nil
}

// Forward returns the frame of every link, index 0 being the base.
func (c *Chain) Forward(q []float64) []spatial.Transform {
	frames := make([]spatial.Transform, len(c.Links)+1)
	frames[0] = spatial.IdentityTransform()
	for i, l := range c.Links {
		frames[i+1] = frames[i].Compose(l.transform(q[i]))
	}
	return frames
}

func (c *Chain) EndEffector(q []float64) spatial.Transform {
	frames := c.Forward(q)
	return frames[len(frames)-1].Compose(c.Tool)
}

// Jacobian returns the linear and angular Jacobians of the tool point.
func (c *Chain) Jacobian(q []float64) (jv, jw *mat.Dense) {
	frames := c.Forward(q)
	tip := frames[len(frames)-1].Compose(c.Tool).P
	return c.pointJacobian(frames, len(c.Links), tip)
}

// pointJacobian is the Jacobian of point p rigidly attached to link k
// (1-based); joints past k do not move it.
func (c *Chain) pointJacobian(frames []spatial.Transform, k int, p r3.Vector) (jv, jw *mat.Dense) {
	n := len(c.Links)
	jv = mat.NewDense(3, n, nil)
	jw = mat.NewDense(3, n, nil)
	for i := 0; i < k; i++ {
		z := frames[i].R.Col(2)
		var lin, ang r3.Vector
		if c.Links[i].Joint == Prismatic {
			lin = z
		} else {
			lin = z.Cross(p.Sub(frames[i].P))
			ang = z
		}
		jv.Set(0, i, lin.X)
		jv.Set(1, i, lin.Y)
		jv.Set(2, i, lin.Z)
		jw.Set(0, i, ang.X)
		jw.Set(1, i, ang.Y)
		jw.Set(2, i, ang.Z)
	}
	return jv, jw
}

// MassMatrix is the joint-space inertia including rotor armature.
func (c *Chain) MassMatrix(q []float64) *mat.SymDense {
	n := len(c.Links)
	frames := c.Forward(q)
	m := mat.NewSymDense(n, nil)
	var tmp mat.Dense
	acc := mat.NewDense(n, n, nil)
	for k := 1; k <= n; k++ {
		l := c.Links[k-1]
		if l.Mass == 0 && l.Inertia == 0 {
			continue
		}
		com := frames[k].Apply(l.COM)
		jv, jw := c.pointJacobian(frames, k, com)
		tmp.Mul(jv.T(), jv)
		tmp.Scale(l.Mass, &tmp)
		acc.Add(acc, &tmp)
		tmp.Mul(jw.T(), jw)
		tmp.Scale(l.Inertia, &tmp)
		acc.Add(acc, &tmp)
	}
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := 0.5 * (acc.At(i, j) + acc.At(j, i))
			if i == j {
				v += c.Links[i].Armature
			}
			m.SetSym(i, j, v)
		}
	}
	return m
}

// Gravity returns the joint torques that hold the chain static against gravity.
func (c *Chain) Gravity(q []float64) []float64 {
	n := len(c.Links)
	frames := c.Forward(q)
	g := make([]float64, n)
	up := c.G.Mul(-1)
	for k := 1; k <= n; k++ {
		l := c.Links[k-1]
		if l.Mass == 0 {
			continue
		}
		jv, _ := c.pointJacobian(frames, k, frames[k].Apply(l.COM))
		for i := 0; i < k; i++ {
			g[i] += l.Mass * (jv.At(0, i)*up.X + jv.At(1, i)*up.Y + jv.At(2, i)*up.Z)
		}
	}
	return g
}

const diffStep = 1e-6

// Coriolis returns the Coriolis and centrifugal torques
// c = Mdot qd - 1/2 d(qd' M qd)/dq, with dM/dq by central differences.
func (c *Chain) Coriolis(q, qd []float64) []float64 {
	n := len(c.Links)
	out := make([]float64, n)
	qdv := mat.NewVecDense(n, append([]float64(nil), qd...))
	qp := make([]float64, n)
	qm := make([]float64, n)
	var dm mat.Dense
	var dmqd mat.VecDense
	for j := 0; j < n; j++ {
		copy(qp, q)
		copy(qm, q)
		qp[j] += diffStep
		qm[j] -= diffStep
		dm.Sub(c.MassMatrix(qp), c.MassMatrix(qm))
		dm.Scale(1/(2*diffStep), &dm)
		dmqd.MulVec(&dm, qdv)
		for i := 0; i < n; i++ {
			out[i] += dmqd.AtVec(i) * qd[j]
		}
		out[j] -= 0.5 * mat.Dot(qdv, &dmqd)
	}
	return out
}

// ClampToLimits clips q into the joint limits. Links with equal lower and
// upper limits are treated as unlimited.
func (c *Chain) ClampToLimits(q []float64) []float64 {
	out := make([]float64, len(q))
	for i, v := range q {
		l := c.Links[i]
		if l.Lower < l.Upper {
			v = math.Max(l.Lower, math.Min(l.Upper, v))
		}
		out[i] = v
	}
	return out
}
