package integrators

import "github.com/san-kum/armsim/internal/dynamo"

// RK4 is the classic fourth-order Runge-Kutta scheme. The control input is
// held over the whole step.
type RK4 struct {
	k       [4]dynamo.State
	scratch dynamo.State
}

func NewRK4() *RK4 {
	return &RK4{}
}

func (r *RK4) ensureScratch(n int) {
	if len(r.scratch) == n {
		return
	}
	for i := range r.k {
		r.k[i] = make(dynamo.State, n)
	}
	r.scratch = make(dynamo.State, n)
}

// stage evaluates the derivative at x + h*from into k[i].
func (r *RK4) stage(i int, dyn dynamo.System, x, from dynamo.State, u dynamo.Control, t, h float64) {
	for j := range x {
		r.scratch[j] = x[j] + h*from[j]
	}
	copy(r.k[i], dyn.Derive(r.scratch, u, t))
}

func (r *RK4) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	r.ensureScratch(len(x))

	copy(r.k[0], dyn.Derive(x, u, t))
	r.stage(1, dyn, x, r.k[0], u, t+dt/2, dt/2)
	r.stage(2, dyn, x, r.k[1], u, t+dt/2, dt/2)
	r.stage(3, dyn, x, r.k[2], u, t+dt, dt)

	result := make(dynamo.State, len(x))
	dt6 := dt / 6
	for i := range x {
		result[i] = x[i] + dt6*(r.k[0][i]+2*r.k[1][i]+2*r.k[2][i]+r.k[3][i])
	}
	return result
}
