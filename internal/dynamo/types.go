package dynamo

import "math"

// State is a flat ODE state. Mechanical systems use the half-split layout
// [q..., qdot...].
type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Split returns views of the position and velocity halves.
func (s State) Split() (q, qd []float64) {
	half := len(s) / 2
	return s[:half], s[half:]
}

func Join(q, qd []float64) State {
	s := make(State, 0, len(q)+len(qd))
	s = append(s, q...)
	return append(s, qd...)
}

// Control is the input held constant over one integration step.
type Control []float64

type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}
