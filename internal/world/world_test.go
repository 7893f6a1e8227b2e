package world_test

import (
	"context"
	"errors"
	"math"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/hardware"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/robot"
	"github.com/san-kum/armsim/internal/sim"
	"github.com/san-kum/armsim/internal/world"
)

// countingConn wraps a simulated arm and counts the protocol calls.
type countingConn struct {
	*sim.Arm
	reads, dispatches, advances, closes int
	failAdvanceAt                       int
}

func (c *countingConn) ReadState(ctx context.Context) (arm.JointState, error) {
	c.reads++
	return c.Arm.ReadState(ctx)
}

func (c *countingConn) Dispatch(ctx context.Context, tau arm.Torque) error {
	c.dispatches++
	return c.Arm.Dispatch(ctx, tau)
}

func (c *countingConn) Advance(ctx context.Context) error {
	c.advances++
	if c.failAdvanceAt > 0 && c.advances == c.failAdvanceAt {
		return errors.New("bus stalled")
	}
	return c.Arm.Advance(ctx)
}

func (c *countingConn) Close() error {
	c.closes++
	return c.Arm.Close()
}

func newConn(chain *kinematics.Chain, control float64) *countingConn {
	e, err := sim.NewEngine(control)
	Expect(err).NotTo(HaveOccurred())
	a, err := e.NewArm(chain, nil)
	Expect(err).NotTo(HaveOccurred())
	return &countingConn{Arm: a}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var _ = Describe("World", func() {
	var (
		ctx   context.Context
		chain *kinematics.Chain
	)

	BeforeEach(func() {
		ctx = context.Background()
		chain = kinematics.Cartesian6()
	})

	Describe("construction", func() {
		It("derives the control ticks per policy step", func() {
			w, err := world.New(world.Config{Chain: chain, ControlFreq: 500, PolicyFreq: 20}, newConn(chain, 500))
			Expect(err).NotTo(HaveOccurred())
			defer w.Close()
			Expect(w.TicksPerStep()).To(Equal(25))
		})

		It("uses the controller defaults when no rates are given", func() {
			w, err := world.New(world.Config{Chain: chain}, newConn(chain, 500))
			Expect(err).NotTo(HaveOccurred())
			defer w.Close()
			Expect(w.TicksPerStep()).To(Equal(25))
		})

		It("rejects a control rate below the policy rate and releases the connection", func() {
			conn := newConn(chain, 10)
			_, err := world.New(world.Config{Chain: chain, ControlFreq: 10, PolicyFreq: 20}, conn)
			Expect(err).To(MatchError(arm.ErrInvalidConfig))
			Expect(conn.closes).To(Equal(1))
		})

		It("releases the connection when the controller is invalid", func() {
			conn := newConn(chain, 500)
			cfg := world.Config{Chain: chain, Robot: robot.Config{Controller: "Admittance"}}
			_, err := world.New(cfg, conn)
			Expect(err).To(MatchError(arm.ErrInvalidConfig))
			Expect(conn.closes).To(Equal(1))
		})

		It("refuses a nil connection", func() {
			_, err := world.New(world.Config{Chain: chain}, nil)
			Expect(err).To(MatchError(arm.ErrNotConnected))
		})

		It("builds a simulated world", func() {
			w, err := world.NewSim(world.Config{Chain: chain, Sim: world.SimConfig{Integrator: "semi_implicit", Substeps: 4}})
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Close()).To(Succeed())
		})

		It("closes the transport when a real world cannot be built", func() {
			e, err := sim.NewEngine(500)
			Expect(err).NotTo(HaveOccurred())
			target, err := e.NewArm(chain, nil)
			Expect(err).NotTo(HaveOccurred())

			cfg := world.Config{Chain: chain, ControlFreq: 10, PolicyFreq: 20}
			_, err = world.NewReal(cfg, &hardware.Loopback{Target: target})
			Expect(err).To(MatchError(arm.ErrInvalidConfig))
			_, err = target.ReadState(ctx)
			Expect(err).To(MatchError(arm.ErrStateUnavailable))
		})
	})

	Describe("stepping", func() {
		var (
			conn *countingConn
			w    *world.World
		)

		BeforeEach(func() {
			conn = newConn(chain, 500)
			var err error
			w, err = world.New(world.Config{
				Chain:       chain,
				ControlFreq: 500,
				PolicyFreq:  20,
				Robot:       robot.Config{Controller: controllers.EEImpedance},
			}, conn)
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			Expect(w.Close()).To(Succeed())
		})

		It("runs exactly one policy period of ticks per step", func() {
			action := arm.Action{Kind: arm.ActionDeltaPose, Values: []float64{0.01, 0, 0, 0, 0, 0}}
			obs, err := w.Step(ctx, &action)
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.dispatches).To(Equal(25))
			Expect(conn.advances).To(Equal(25))
			Expect(obs.Step).To(Equal(1))
			Expect(obs.Tick).To(Equal(25))
			Expect(w.Steps()).To(Equal(1))
			Expect(w.ControlSteps()).To(Equal(25))

			_, err = w.Step(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.advances).To(Equal(50))
			Expect(w.Steps()).To(Equal(2))
		})

		It("leaves the counters alone when the action is rejected", func() {
			action := arm.Action{Kind: arm.ActionJointVelocity, Values: make([]float64, 6)}
			_, err := w.Step(ctx, &action)
			Expect(err).To(MatchError(arm.ErrInvalidGoal))
			Expect(conn.advances).To(BeZero())
			Expect(w.Steps()).To(BeZero())
		})

		It("aborts the step on a tick error", func() {
			conn.failAdvanceAt = 7
			_, err := w.Step(ctx, nil)
			Expect(err).To(HaveOccurred())

			var te *arm.TickError
			Expect(errors.As(err, &te)).To(BeTrue())
			Expect(te.Tick).To(Equal(6))
			Expect(te.Quantity).To(Equal("advance"))
			Expect(w.Steps()).To(BeZero())
			Expect(w.ControlSteps()).To(Equal(6))
		})

		It("moves the end effector toward a delta pose", func() {
			start := chain.EndEffector(chain.Neutral).P
			action := arm.Action{Kind: arm.ActionDeltaPose, Values: []float64{0.02, 0, 0, 0, 0, 0}}
			var obs arm.Observation
			var err error
			obs, err = w.Step(ctx, &action)
			Expect(err).NotTo(HaveOccurred())
			for i := 0; i < 20; i++ {
				obs, err = w.Step(ctx, nil)
				Expect(err).NotTo(HaveOccurred())
			}
			Expect(obs.EEPose.Position.X).To(BeNumerically("~", start.X+0.02, 1e-3))
			Expect(obs.EEPose.Position.Y).To(BeNumerically("~", start.Y, 1e-6))
		})

		It("swaps controllers and keeps the stepping rate", func() {
			Expect(w.ChangeController(ctx, controllers.JointImpedance, controllers.Config{})).To(Succeed())
			Expect(w.Robot().Controller().Kind()).To(Equal(controllers.JointImpedance))

			err := w.ChangeController(ctx, controllers.JointImpedance, controllers.Config{ControlFreq: 1000})
			Expect(err).To(MatchError(arm.ErrInvalidConfig))

			action := arm.Action{Kind: arm.ActionJointDelta, Values: []float64{0, 0, 0.01, 0, 0, 0}}
			_, err = w.Step(ctx, &action)
			Expect(err).NotTo(HaveOccurred())
			Expect(conn.advances).To(Equal(25))
		})

		It("resets the counters", func() {
			_, err := w.Step(ctx, nil)
			Expect(err).NotTo(HaveOccurred())
			obs, err := w.Reset(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(obs.Step).To(BeZero())
			Expect(obs.Tick).To(BeZero())
			Expect(w.Steps()).To(BeZero())
			Expect(w.ControlSteps()).To(BeZero())
			for i, q := range obs.Q {
				Expect(math.Abs(q - chain.Neutral[i])).To(BeNumerically("<", 0.01))
			}
		})
	})

	Describe("closing", func() {
		It("is idempotent and rejects later steps", func() {
			conn := newConn(chain, 500)
			extra := 0
			w, err := world.New(world.Config{Chain: chain}, conn, world.WithCloser(closerFunc(func() error {
				extra++
				return nil
			})))
			Expect(err).NotTo(HaveOccurred())

			Expect(w.Close()).To(Succeed())
			Expect(w.Close()).To(Succeed())
			Expect(conn.closes).To(Equal(1))
			Expect(extra).To(Equal(1))

			_, err = w.Step(ctx, nil)
			Expect(err).To(MatchError(arm.ErrNotConnected))
			_, err = w.Reset(ctx)
			Expect(err).To(MatchError(arm.ErrNotConnected))
		})

		It("aggregates close errors", func() {
			conn := newConn(chain, 500)
			boom := errors.New("flush failed")
			w, err := world.New(world.Config{Chain: chain}, conn, world.WithCloser(closerFunc(func() error { return boom })))
			Expect(err).NotTo(HaveOccurred())
			Expect(w.Close()).To(MatchError(boom))
			Expect(conn.closes).To(Equal(1))
		})
	})
})
