// Package arm defines the vocabulary shared by the control stack.
//
// The package holds no behavior of its own:
//
//   - [ExecutionContext]: capability interface implemented by the simulated
//     arm (package sim) and the physical arm (package hardware)
//   - [Goal]: controller goal, a tagged variant over joint positions,
//     velocities, torques and end-effector pose or twist
//   - [Action]: policy-rate command vector
//   - [Observation]: per-policy-step robot state
//   - the error taxonomy ([ErrInvalidConfig], [ErrInvalidGoal],
//     [ErrStateUnavailable], [ErrKinematicSingularity], [ErrTransportTimeout])
//     and the [TickError] context wrapper
package arm
