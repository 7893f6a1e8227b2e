package metrics

import (
	"math"

	"github.com/san-kum/armsim/internal/robot"
)

// ControlEffort is the mean sum of absolute joint torques per tick.
type ControlEffort struct {
	m mean
}

func NewControlEffort() *ControlEffort { return &ControlEffort{} }

func (c *ControlEffort) Name() string { return "control_effort" }

func (c *ControlEffort) Observe(rec robot.TickRecord) {
	var sum float64
	for _, v := range rec.Torque {
		sum += math.Abs(v)
	}
	c.m.add(sum)
}

func (c *ControlEffort) Value() float64 { return c.m.value() }
func (c *ControlEffort) Reset()         { c.m.reset() }

// Saturation is the fraction of torque components at an output limit.
type Saturation struct {
	hits, total int
}

func NewSaturation() *Saturation { return &Saturation{} }

func (s *Saturation) Name() string { return "saturation_ratio" }

func (s *Saturation) Observe(rec robot.TickRecord) {
	for i, v := range rec.Torque {
		lo := limit(rec.Limits.Min, i, math.Inf(-1))
		hi := limit(rec.Limits.Max, i, math.Inf(1))
		if (isFinite(lo) && v <= lo) || (isFinite(hi) && v >= hi) {
			s.hits++
		}
		s.total++
	}
}

func (s *Saturation) Value() float64 {
	if s.total == 0 {
		return 0
	}
	return float64(s.hits) / float64(s.total)
}

func (s *Saturation) Reset() { s.hits, s.total = 0, 0 }

// Energy is the mean kinetic energy 1/2 qd' M qd.
type Energy struct {
	m mean
}

func NewEnergy() *Energy { return &Energy{} }

func (e *Energy) Name() string { return "kinetic_energy" }

func (e *Energy) Observe(rec robot.TickRecord) {
	if rec.Snapshot == nil {
		return
	}
	qd := rec.Snapshot.QDot()
	m := rec.Snapshot.MassMatrix()
	var ke float64
	for i := range qd {
		for j := range qd {
			ke += qd[i] * m.At(i, j) * qd[j]
		}
	}
	e.m.add(ke / 2)
}

func (e *Energy) Value() float64 { return e.m.value() }
func (e *Energy) Reset()         { e.m.reset() }

// Regularity is the fraction of ticks computed away from a singularity.
type Regularity struct {
	singular, samples int
}

func NewRegularity() *Regularity { return &Regularity{} }

func (r *Regularity) Name() string { return "regularity" }

func (r *Regularity) Observe(rec robot.TickRecord) {
	r.samples++
	if rec.Singular {
		r.singular++
	}
}

func (r *Regularity) Value() float64 {
	if r.samples == 0 {
		return 1.0
	}
	return 1.0 - float64(r.singular)/float64(r.samples)
}

func (r *Regularity) Reset() { r.singular, r.samples = 0, 0 }
