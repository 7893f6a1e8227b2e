package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/kinematics"
	"github.com/san-kum/armsim/internal/robot"
	"gopkg.in/yaml.v3"
)

const (
	DefaultChain       = "cartesian6"
	DefaultMode        = "sim"
	DefaultIntegrator  = "rk4"
	DefaultSubsteps    = 2
	DefaultDuration    = 5.0
	DefaultTimeoutMs   = 20
	DefaultBaudRate    = 1_000_000
	DefaultStiffness   = 8.0
	DefaultGoalTicks   = 0
	DefaultActionLimit = 0.05
)

type Config struct {
	Chain string `yaml:"chain" validate:"required"`
	Mode  string `yaml:"mode" validate:"oneof=sim real"`

	ControlFreq float64 `yaml:"control_freq" validate:"gt=0"`
	PolicyFreq  float64 `yaml:"policy_freq" validate:"gt=0"`
	Duration    float64 `yaml:"duration" validate:"gt=0"`

	Controller  string                        `yaml:"controller" validate:"required"`
	Controllers map[string]controllers.Config `yaml:"controllers,omitempty"`

	Action   ActionConfig      `yaml:"action"`
	Reset    robot.ResetConfig `yaml:"reset"`
	Sim      SimConfig         `yaml:"sim"`
	Hardware HardwareConfig    `yaml:"hardware"`
	Logging  LoggingConfig     `yaml:"logging"`
	Metrics  MetricsConfig     `yaml:"metrics"`
}

type ActionConfig struct {
	// Limits clips each action kind, keyed by action name.
	Limits    map[string]controllers.Range `yaml:"limits,omitempty"`
	GoalTicks int                          `yaml:"goal_ticks" validate:"gte=0"`
}

type SimConfig struct {
	Integrator string    `yaml:"integrator" validate:"oneof=euler semi_implicit rk4"`
	Substeps   int       `yaml:"substeps" validate:"gte=1,lte=64"`
	Q0         []float64 `yaml:"q0,omitempty"`
}

type HardwareConfig struct {
	Port        string    `yaml:"port"`
	BaudRate    int       `yaml:"baud_rate" validate:"gte=0"`
	Calibration string    `yaml:"calibration"`
	Joints      []string  `yaml:"joints,omitempty"`
	Gripper     string    `yaml:"gripper,omitempty"`
	Stiffness   []float64 `yaml:"stiffness,omitempty" validate:"dive,gt=0"`
	TimeoutMs   int       `yaml:"timeout_ms" validate:"gt=0"`
}

func (h HardwareConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutMs) * time.Millisecond
}

type LoggingConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

type MetricsConfig struct {
	// Addr serves /metrics when set, e.g. ":9090".
	Addr string `yaml:"addr,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Chain:       DefaultChain,
		Mode:        DefaultMode,
		ControlFreq: controllers.DefaultControlFreq,
		PolicyFreq:  controllers.DefaultPolicyFreq,
		Duration:    DefaultDuration,
		Controller:  string(controllers.EEImpedance),
		Action: ActionConfig{
			Limits: map[string]controllers.Range{
				arm.ActionDeltaPose.String(): {Min: []float64{-DefaultActionLimit}, Max: []float64{DefaultActionLimit}},
			},
			GoalTicks: DefaultGoalTicks,
		},
		Reset: robot.DefaultResetConfig(),
		Sim: SimConfig{
			Integrator: DefaultIntegrator,
			Substeps:   DefaultSubsteps,
		},
		Hardware: HardwareConfig{
			BaudRate:  DefaultBaudRate,
			Stiffness: []float64{DefaultStiffness},
			TimeoutMs: DefaultTimeoutMs,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads path over the defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", arm.ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field ranges and the cross-field rules. Controller gain
// consistency is checked when the controller is built.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, len(verrs))
			for i, fe := range verrs {
				fields[i] = fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag())
			}
			return fmt.Errorf("%w: %s", arm.ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %w", arm.ErrInvalidConfig, err)
	}
	if _, err := controllers.ControlStepsPerPolicyStep(c.ControlFreq, c.PolicyFreq); err != nil {
		return err
	}
	chain, err := kinematics.Lookup(c.Chain)
	if err != nil {
		return err
	}
	if _, err := controllers.ParseKind(c.Controller); err != nil {
		return err
	}
	for name := range c.Controllers {
		if _, err := controllers.ParseKind(name); err != nil {
			return err
		}
	}
	for name := range c.Action.Limits {
		if _, err := arm.ParseActionKind(name); err != nil {
			return err
		}
	}
	if c.Sim.Q0 != nil && len(c.Sim.Q0) != chain.DOF() {
		return fmt.Errorf("%w: sim.q0 has %d values for %d joints", arm.ErrInvalidConfig, len(c.Sim.Q0), chain.DOF())
	}
	if c.Mode == "real" && c.Hardware.Port == "" {
		return fmt.Errorf("%w: real mode needs hardware.port", arm.ErrInvalidConfig)
	}
	return nil
}

// ControllerKind parses the selected controller.
func (c *Config) ControllerKind() (controllers.Kind, error) {
	return controllers.ParseKind(c.Controller)
}

// ControllerConfig returns the configuration of kind with the world rates
// applied. Entries are matched by kind name in any case.
func (c *Config) ControllerConfig(kind controllers.Kind) controllers.Config {
	var cc controllers.Config
	for name, v := range c.Controllers {
		if k, err := controllers.ParseKind(name); err == nil && k == kind {
			cc = v
			break
		}
	}
	cc.ControlFreq = c.ControlFreq
	cc.PolicyFreq = c.PolicyFreq
	return controllers.WithDefaults(kind, cc)
}

// RobotConfig assembles the robot interface configuration.
func (c *Config) RobotConfig() (robot.Config, error) {
	kind, err := c.ControllerKind()
	if err != nil {
		return robot.Config{}, err
	}
	limits := make(map[arm.ActionKind]controllers.Range, len(c.Action.Limits))
	for name, r := range c.Action.Limits {
		k, err := arm.ParseActionKind(name)
		if err != nil {
			return robot.Config{}, err
		}
		limits[k] = r
	}
	return robot.Config{
		Controller:       kind,
		ControllerConfig: c.ControllerConfig(kind),
		ActionLimits:     limits,
		GoalTicks:        c.Action.GoalTicks,
		Reset:            c.Reset,
	}, nil
}

// Steps is the number of policy steps in Duration.
func (c *Config) Steps() int {
	return int(c.Duration * c.PolicyFreq)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
