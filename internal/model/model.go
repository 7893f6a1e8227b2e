// Package model builds the per-tick robot model snapshot every controller
// reads.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/golang/geo/r3"
	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/spatial"
	"gonum.org/v1/gonum/mat"
)

// Snapshot is an immutable view of the robot at one control tick.
type Snapshot struct {
	q, qd []float64
	pose  spatial.Pose
	twist spatial.Twist
	jv    *mat.Dense
	jw    *mat.Dense
	j     *mat.Dense
	m     *mat.SymDense
	g     []float64
	c     []float64
	tick  int
	time  time.Time
}

func (s *Snapshot) DOF() int { return len(s.q) }
func (s *Snapshot) Q() []float64 { return clone(s.q) }
func (s *Snapshot) QDot() []float64 { return clone(s.qd) }
func (s *Snapshot) EEPose() spatial.Pose { return s.pose }
func (s *Snapshot) EETwist() spatial.Twist { return s.twist }
func (s *Snapshot) Gravity() []float64 { return clone(s.g) }
func (s *Snapshot) Coriolis() []float64 { return clone(s.c) }
func (s *Snapshot) Tick() int { return s.tick }
func (s *Snapshot) Time() time.Time { return s.time }
func (s *Snapshot) LinearJacobian() mat.Matrix { return s.jv }
func (s *Snapshot) AngularJacobian() mat.Matrix { return s.jw }

// Jacobian is the stacked 6xN Jacobian, linear rows first.
func (s *Snapshot) Jacobian() mat.Matrix { return s.j }

func (s *Snapshot) MassMatrix() mat.Symmetric { return s.m }

// Build derives a snapshot from a joint reading. It fails with
// arm.ErrStateUnavailable when the reading does not fit the chain.
func Build(chain *kinematics.Chain, st arm.JointState, tick int) (*Snapshot, error) {
	n := chain.DOF()
	if len(st.Positions) != n {
		return nil, fmt.Errorf("%w: got %d joint positions for a %d joint chain", arm.ErrStateUnavailable, len(st.Positions), n)
	}
	qd := st.Velocities
	if qd == nil {
		qd = make([]float64, n)
	}
	if len(qd) != n {
		return nil, fmt.Errorf("%w: got %d joint velocities for a %d joint chain", arm.ErrStateUnavailable, len(qd), n)
	}
	if !finite(st.Positions) || !finite(qd) {
		return nil, fmt.Errorf("%w: joint reading is not finite", arm.ErrStateUnavailable)
	}

	s := &Snapshot{
		q:    clone(st.Positions),
		qd:   clone(qd),
		tick: tick,
		time: st.Time,
	}
	ee := chain.EndEffector(s.q)
	s.pose = spatial.Pose{Position: ee.P, Orientation: spatial.QuatFromMat(ee.R)}
	s.jv, s.jw = chain.Jacobian(s.q)
	s.j = mat.NewDense(6, n, nil)
	s.j.Stack(s.jv, s.jw)

	var v mat.VecDense
	v.MulVec(s.j, mat.NewVecDense(n, clone(s.qd)))
	s.twist = spatial.Twist{
		Linear:  r3.Vector{X: v.AtVec(0), Y: v.AtVec(1), Z: v.AtVec(2)},
		Angular: r3.Vector{X: v.AtVec(3), Y: v.AtVec(4), Z: v.AtVec(5)},
	}
	s.m = chain.MassMatrix(s.q)
	s.g = chain.Gravity(s.q)
	s.c = chain.Coriolis(s.q, s.qd)
	return s, nil
}

// Model refreshes snapshots from an execution context.
type Model struct {
	chain *kinematics.Chain
	conn  arm.ExecutionContext
}

func New(chain *kinematics.Chain, conn arm.ExecutionContext) (*Model, error) {
	if err := chain.Validate(); err != nil {
		return nil, err
	}
	if conn.DOF() != chain.DOF() {
		return nil, fmt.Errorf("%w: context has %d joints, chain %q has %d", arm.ErrInvalidConfig, conn.DOF(), chain.Name, chain.DOF())
	}
	return &Model{chain: chain, conn: conn}, nil
}

func (m *Model) Chain() *kinematics.Chain { return m.chain }

// Refresh reads the context and returns a new snapshot for tick. A failed
// refresh never returns an older snapshot.
func (m *Model) Refresh(ctx context.Context, tick int) (*Snapshot, error) {
	st, err := m.conn.ReadState(ctx)
	if err != nil {
		if errors.Is(err, arm.ErrStateUnavailable) {
			return nil, fmt.Errorf("refresh: %w", err)
		}
		return nil, fmt.Errorf("%w: %w", arm.ErrStateUnavailable, err)
	}
	return Build(m.chain, st, tick)
}

func finite(v []float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func clone(v []float64) []float64 {
	c := make([]float64, len(v))
	copy(c, v)
	return c
}
