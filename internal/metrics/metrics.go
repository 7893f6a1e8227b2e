// Package metrics accumulates per-episode figures from the control ticks.
package metrics

import (
	"math"
	"sort"

	"github.com/san-kum/armsim/internal/robot"
)

type Metric interface {
	Name() string
	Observe(rec robot.TickRecord)
	Value() float64
	Reset()
}

// Suite fans one tick out to several metrics.
type Suite []Metric

// Default returns tracking error, control effort, saturation, kinetic energy
// and regularity.
func Default() Suite {
	return Suite{
		NewTrackingError(),
		NewControlEffort(),
		NewSaturation(),
		NewEnergy(),
		NewRegularity(),
	}
}

// Observe has the robot.Observer signature.
func (s Suite) Observe(rec robot.TickRecord) {
	for _, m := range s {
		m.Observe(rec)
	}
}

func (s Suite) Values() map[string]float64 {
	out := make(map[string]float64, len(s))
	for _, m := range s {
		out[m.Name()] = m.Value()
	}
	return out
}

func (s Suite) Names() []string {
	names := make([]string, len(s))
	for i, m := range s {
		names[i] = m.Name()
	}
	sort.Strings(names)
	return names
}

func (s Suite) Reset() {
	for _, m := range s {
		m.Reset()
	}
}

// mean accumulates a running average.
type mean struct {
	sum     float64
	samples int
}

func (m *mean) add(v float64) {
	m.sum += v
	m.samples++
}

func (m *mean) value() float64 {
	if m.samples == 0 {
		return 0
	}
	return m.sum / float64(m.samples)
}

func (m *mean) reset() { *m = mean{} }

func limit(b []float64, i int, def float64) float64 {
	switch {
	case len(b) == 1:
		return b[0]
	case i < len(b):
		return b[i]
	}
	return def
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
