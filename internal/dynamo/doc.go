// Package dynamo provides the ODE primitives shared by the integrators and
// the simulated arm:
//
//   - [State]: flat state vector, [q..., qdot...] for mechanical systems
//   - [System]: dX/dt = f(X, u, t)
//   - [Integrator]: one fixed step of a numerical scheme
//
// Integrators may keep scratch buffers and are not safe for concurrent use.
package dynamo
