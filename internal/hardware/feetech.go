package hardware

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"github.com/san-kum/armsim/internal/arm"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	ticksPerRev = 4096
	centerTick  = 2048
)

// ServoCalibration is one entry of a lerobot-style calibration file.
type ServoCalibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`
	HomingOffset int `json:"homing_offset"`
	RangeMin     int `json:"range_min"`
	RangeMax     int `json:"range_max"`
}

func (c ServoCalibration) center() float64 {
	if c.RangeMax > c.RangeMin {
		return float64(c.RangeMin+c.RangeMax) / 2
	}
	return centerTick
}

func (c ServoCalibration) sign() float64 {
	if c.DriveMode != 0 {
		return -1
	}
	return 1
}

// Radians converts a raw position to a joint angle.
func (c ServoCalibration) Radians(raw int) float64 {
	return c.sign() * (float64(raw) - c.center()) * 2 * math.Pi / ticksPerRev
}

// Raw converts a joint angle to a raw position inside the calibrated range.
func (c ServoCalibration) Raw(rad float64) int {
	raw := int(math.Round(c.center() + c.sign()*rad*ticksPerRev/(2*math.Pi)))
	if c.RangeMax > c.RangeMin {
		raw = max(c.RangeMin, min(c.RangeMax, raw))
	}
	return raw
}

// LoadCalibration reads a calibration file keyed by motor name.
func LoadCalibration(path string) (map[string]ServoCalibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}
	var cal map[string]ServoCalibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration JSON: %w", err)
	}
	return cal, nil
}

type FeetechConfig struct {
	Port     string
	BaudRate int

	// Joints lists the motor names in chain order.
	Joints  []string
	Gripper string

	Calibration map[string]ServoCalibration

	// Stiffness is the servo position loop stiffness in Nm/rad used to turn
	// torques into position targets. One value broadcasts.
	Stiffness []float64
}

// SO101Joints is the joint order of the SO-101 arm.
var SO101Joints = []string{"shoulder_pan", "shoulder_lift", "elbow_flex", "wrist_flex", "wrist_roll"}

// FeetechTransport drives STS servos in position mode. A torque command is
// rendered as the position target q + tau/stiffness.
type FeetechTransport struct {
	bus       *feetech.Bus
	joints    *feetech.ServoGroup
	gripper   *feetech.ServoGroup
	cal       []ServoCalibration
	gripCal   ServoCalibration
	stiffness []float64
	last      []float64
	logger    *zap.Logger
}

var _ GripperTransport = (*FeetechTransport)(nil)

// OpenFeetech opens the bus and enables torque on every servo.
func OpenFeetech(ctx context.Context, cfg FeetechConfig, logger *zap.Logger) (*FeetechTransport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Joints) == 0 {
		return nil, fmt.Errorf("%w: feetech transport needs joint names", arm.ErrInvalidConfig)
	}
	t := &FeetechTransport{logger: logger}
	ids := make([]int, 0, len(cfg.Joints))
	for _, name := range cfg.Joints {
		c, ok := cfg.Calibration[name]
		if !ok {
			return nil, fmt.Errorf("%w: no calibration for motor %q", arm.ErrInvalidConfig, name)
		}
		t.cal = append(t.cal, c)
		ids = append(ids, c.ID)
	}
	switch len(cfg.Stiffness) {
	case 0:
		return nil, fmt.Errorf("%w: feetech transport needs a servo stiffness", arm.ErrInvalidConfig)
	case 1, len(cfg.Joints):
	default:
		return nil, fmt.Errorf("%w: stiffness has %d values for %d joints", arm.ErrInvalidConfig, len(cfg.Stiffness), len(cfg.Joints))
	}
	t.stiffness = make([]float64, len(cfg.Joints))
	for i := range t.stiffness {
		k := cfg.Stiffness[0]
		if len(cfg.Stiffness) > 1 {
			k = cfg.Stiffness[i]
		}
		if !(k > 0) {
			return nil, fmt.Errorf("%w: stiffness must be positive", arm.ErrInvalidConfig)
		}
		t.stiffness[i] = k
	}

	baud := cfg.BaudRate
	if baud == 0 {
		baud = 1_000_000
	}
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     cfg.Port,
		BaudRate: baud,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus: %w", err)
	}
	t.bus = bus
	t.joints = feetech.NewServoGroupByIDs(bus, ids...)
	if cfg.Gripper != "" {
		c, ok := cfg.Calibration[cfg.Gripper]
		if !ok {
			bus.Close()
			return nil, fmt.Errorf("%w: no calibration for gripper %q", arm.ErrInvalidConfig, cfg.Gripper)
		}
		t.gripCal = c
		t.gripper = feetech.NewServoGroupByIDs(bus, c.ID)
	}

	if err := t.joints.EnableAll(ctx); err != nil {
		bus.Close()
		return nil, fmt.Errorf("enable torque: %w", err)
	}
	if t.gripper != nil {
		if err := t.gripper.EnableAll(ctx); err != nil {
			_ = t.joints.DisableAll(ctx)
			bus.Close()
			return nil, fmt.Errorf("enable gripper torque: %w", err)
		}
	}
	logger.Info("feetech bus open", zap.String("port", cfg.Port), zap.Ints("ids", ids))
	return t, nil
}

func (t *FeetechTransport) ReadJoints(ctx context.Context) ([]float64, []float64, error) {
	raw, err := t.joints.Positions(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("read positions: %w", err)
	}
	q := make([]float64, len(t.cal))
	for i, c := range t.cal {
		r, ok := raw[c.ID]
		if !ok {
			return nil, nil, fmt.Errorf("servo %d missing from sync read", c.ID)
		}
		q[i] = c.Radians(r)
	}
	t.last = q
	return q, nil, nil
}

func (t *FeetechTransport) WriteTorques(ctx context.Context, tau []float64) error {
	if t.last == nil {
		return fmt.Errorf("write before first read")
	}
	targets := make(feetech.PositionMap, len(t.cal))
	for i, c := range t.cal {
		targets[c.ID] = c.Raw(t.last[i] + tau[i]/t.stiffness[i])
	}
	if err := t.joints.SetPositions(ctx, targets); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}

// WriteGripper maps cmd from [-1, 1] (open to closed) onto the calibrated
// gripper range.
func (t *FeetechTransport) WriteGripper(ctx context.Context, cmd float64) error {
	if t.gripper == nil {
		return nil
	}
	lo, hi := t.gripCal.RangeMin, t.gripCal.RangeMax
	if hi <= lo {
		lo, hi = 0, ticksPerRev-1
	}
	raw := lo + int(math.Round((cmd+1)/2*float64(hi-lo)))
	if err := t.gripper.SetPositions(ctx, feetech.PositionMap{t.gripCal.ID: raw}); err != nil {
		return fmt.Errorf("write gripper: %w", err)
	}
	return nil
}

// Close disables torque and closes the bus.
func (t *FeetechTransport) Close() error {
	ctx := context.Background()
	var errs error
	if err := t.joints.DisableAll(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("disable torque: %w", err))
	}
	if t.gripper != nil {
		if err := t.gripper.DisableAll(ctx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("disable gripper torque: %w", err))
		}
	}
	if err := t.bus.Close(); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("close bus: %w", err))
	}
	t.logger.Info("feetech bus closed")
	return errs
}
