// Package interp generates bounded waypoint sequences between a start and a
// goal value. Controllers advance one waypoint per control tick.
package interp

import (
	"fmt"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/spatial"
	"gonum.org/v1/gonum/num/quat"
)

type progress struct {
	step  int
	total int
}

func (p *progress) reset(total int) error {
	if total <= 0 {
		return fmt.Errorf("%w: interpolation steps must be positive, got %d", arm.ErrInvalidConfig, total)
	}
	p.step = 0
	p.total = total
	return nil
}

func (p *progress) advance() float64 {
	if p.step < p.total {
		p.step++
	}
	return float64(p.step) / float64(p.total)
}

// Done reports whether the goal has been reached. A never-reset
// interpolator is done.
func (p *progress) Done() bool { return p.step >= p.total }
func (p *progress) Step() int { return p.step }
func (p *progress) TotalSteps() int { return p.total }

// Linear interpolates vectors componentwise.
type Linear struct {
	progress
	start, goal []float64
	out         []float64
}

func NewLinear() *Linear {
	return &Linear{}
}

func (l *Linear) Reset(start, goal []float64, totalSteps int) error {
	if len(start) != len(goal) {
		return fmt.Errorf("%w: start has %d values, goal %d", arm.ErrInvalidConfig, len(start), len(goal))
	}
	if err := l.reset(totalSteps); err != nil {
		return err
	}
	l.start = append(l.start[:0], start...)
	l.goal = append(l.goal[:0], goal...)
	l.out = make([]float64, len(goal))
	return nil
}

// Next advances one step and returns the new waypoint. The returned slice is
// owned by the caller.
func (l *Linear) Next() []float64 {
	if l.goal == nil {
		return nil
	}
	frac := l.advance()
	if l.Done() {
		copy(l.out, l.goal)
	} else {
		for i := range l.goal {
			l.out[i] = l.start[i] + frac*(l.goal[i]-l.start[i])
		}
	}
	res := make([]float64, len(l.out))
	copy(res, l.out)
	return res
}

// Current returns the most recent waypoint without advancing.
func (l *Linear) Current() []float64 {
	if l.goal == nil {
		return nil
	}
	res := make([]float64, len(l.out))
	if l.step == 0 {
		copy(res, l.start)
	} else {
		copy(res, l.out)
	}
	return res
}

func (l *Linear) Goal() []float64 {
	if l.goal == nil {
		return nil
	}
	res := make([]float64, len(l.goal))
	copy(res, l.goal)
	return res
}

// Slerp interpolates unit quaternions along the shortest great circle.
type Slerp struct {
	progress
	start, goal quat.Number
	cur         quat.Number
	set         bool
}

func NewSlerp() *Slerp {
	return &Slerp{}
}

func (s *Slerp) Reset(start, goal quat.Number, totalSteps int) error {
	if err := s.reset(totalSteps); err != nil {
		return err
	}
	s.start = spatial.Normalize(start)
	s.goal = spatial.Normalize(goal)
	s.cur = s.start
	s.set = true
	return nil
}

func (s *Slerp) Next() quat.Number {
	if !s.set {
		return spatial.IdentityQuat()
	}
	frac := s.advance()
	if s.Done() {
		s.cur = s.goal
	} else {
		s.cur = spatial.Slerp(s.start, s.goal, frac)
	}
	return s.cur
}

func (s *Slerp) Current() quat.Number {
	if !s.set {
		return spatial.IdentityQuat()
	}
	return s.cur
}

func (s *Slerp) Goal() quat.Number {
	if !s.set {
		return spatial.IdentityQuat()
	}
	return s.goal
}
