package arm

import (
	"errors"
	"fmt"
)

// Domain errors. Every error surfaced by the control stack wraps one of these.
var (
	// ErrInvalidConfig indicates bad controller or world construction parameters.
	ErrInvalidConfig = errors.New("armsim: invalid configuration")

	// ErrInvalidGoal indicates a goal or action of the wrong kind or shape.
	ErrInvalidGoal = errors.New("armsim: invalid goal")

	// ErrShapeMismatch indicates a vector or matrix with unexpected dimensions.
	ErrShapeMismatch = fmt.Errorf("%w: shape mismatch", ErrInvalidGoal)

	// ErrStateUnavailable indicates the execution context could not supply a consistent reading.
	ErrStateUnavailable = errors.New("armsim: robot state unavailable")

	// ErrKinematicSingularity indicates a degenerate Jacobian or mass matrix was regularized.
	ErrKinematicSingularity = errors.New("armsim: kinematic singularity")

	// ErrTransportTimeout indicates a hardware round-trip exceeded its budget.
	ErrTransportTimeout = errors.New("armsim: transport timeout")

	// ErrNotConnected indicates a command was issued against a closed world.
	ErrNotConnected = errors.New("armsim: execution context not connected")

	// ErrResetIncomplete indicates the robot did not settle within the reset budget.
	ErrResetIncomplete = errors.New("armsim: reset did not settle")
)

// TickError wraps an error with the control tick it occurred in.
type TickError struct {
	Controller string
	Tick       int
	Quantity   string
	Err        error
}

func (e *TickError) Error() string {
	return fmt.Sprintf("tick %d (%s, %s): %v", e.Tick, e.Controller, e.Quantity, e.Err)
}

func (e *TickError) Unwrap() error {
	return e.Err
}

// Kind names the taxonomy class of err for logs and metric labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrInvalidConfig):
		return "invalid_config"
	case errors.Is(err, ErrInvalidGoal):
		return "invalid_goal"
	case errors.Is(err, ErrTransportTimeout):
		return "transport_timeout"
	case errors.Is(err, ErrStateUnavailable):
		return "state_unavailable"
	case errors.Is(err, ErrKinematicSingularity):
		return "kinematic_singularity"
	case errors.Is(err, ErrNotConnected):
		return "not_connected"
	case errors.Is(err, ErrResetIncomplete):
		return "reset_incomplete"
	default:
		return "other"
	}
}
