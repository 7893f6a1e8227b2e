package hardware

import (
	"context"
	"time"

	"github.com/san-kum/armsim/internal/arm"
)

// Loopback is a Transport backed by another execution context, usually a
// simulated arm. It reports positions only and sleeps Latency per call,
// which makes it useful for exercising timeouts and velocity estimation.
type Loopback struct {
	Target  arm.ExecutionContext
	Latency time.Duration
}

var _ GripperTransport = (*Loopback)(nil)

func (l *Loopback) wait(ctx context.Context) error {
	if l.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(l.Latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Loopback) ReadJoints(ctx context.Context) ([]float64, []float64, error) {
	if err := l.wait(ctx); err != nil {
		return nil, nil, err
	}
	st, err := l.Target.ReadState(ctx)
	if err != nil {
		return nil, nil, err
	}
	return st.Positions, nil, nil
}

// WriteTorques dispatches tau and advances the target by one period.
func (l *Loopback) WriteTorques(ctx context.Context, tau []float64) error {
	if err := l.wait(ctx); err != nil {
		return err
	}
	if err := l.Target.Dispatch(ctx, tau); err != nil {
		return err
	}
	return l.Target.Advance(ctx)
}

func (l *Loopback) WriteGripper(ctx context.Context, cmd float64) error {
	if g, ok := l.Target.(arm.Gripper); ok {
		return g.SetGripper(ctx, cmd)
	}
	return nil
}

func (l *Loopback) Close() error { return l.Target.Close() }
