// Package telemetry holds the process-wide prometheus metrics and the zap
// logger constructor.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ControlTicks counts completed control ticks.
	// Labels: controller
	ControlTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armsim",
		Name:      "control_ticks_total",
		Help:      "Completed control ticks",
	}, []string{"controller"})

	// Singularities counts ticks that ran in a kinematically singular
	// configuration.
	// Labels: controller
	Singularities = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armsim",
		Name:      "kinematic_singularities_total",
		Help:      "Control ticks computed at a kinematic singularity",
	}, []string{"controller"})

	// TickErrors counts aborted ticks by error class.
	// Labels: kind (see arm.Kind)
	TickErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "armsim",
		Name:      "tick_errors_total",
		Help:      "Control ticks aborted by an error",
	}, []string{"kind"})

	// TickDuration measures one full refresh, run, dispatch and advance cycle.
	// Labels: controller
	TickDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "armsim",
		Name:      "tick_duration_seconds",
		Help:      "Wall time of one control tick",
		Buckets:   []float64{0.0001, 0.00025, 0.0005, 0.001, 0.002, 0.005, 0.01, 0.025},
	}, []string{"controller"})

	PolicySteps = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "armsim",
		Name:      "policy_steps_total",
		Help:      "Completed policy steps",
	})
)
