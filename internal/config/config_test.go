package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/san-kum/armsim/internal/arm"
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Chain != "cartesian6" {
		t.Errorf("expected chain cartesian6, got %s", cfg.Chain)
	}
	if cfg.ControlFreq < cfg.PolicyFreq {
		t.Error("control rate should not be below the policy rate")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
	if cfg.Steps() != 100 {
		t.Errorf("expected 100 policy steps, got %d", cfg.Steps())
	}
}

func TestGetPreset(t *testing.T) {
	cfg := GetPreset("arm7", "posture")
	if cfg == nil {
		t.Fatal("expected preset, got nil")
	}
	if cfg.Controller != string(controllers.EEPosture) {
		t.Errorf("expected EEPosture, got %s", cfg.Controller)
	}
	if cfg.Sim.Substeps != 4 {
		t.Errorf("expected 4 substeps, got %d", cfg.Sim.Substeps)
	}

	// Presets are copies.
	cfg.Sim.Substeps = 9
	if GetPreset("arm7", "posture").Sim.Substeps != 4 {
		t.Error("preset was mutated through a returned copy")
	}
}

func TestGetPreset_NotFound(t *testing.T) {
	if GetPreset("arm7", "nonexistent") != nil {
		t.Error("expected nil for nonexistent preset")
	}
	if GetPreset("nonexistent", "osc") != nil {
		t.Error("expected nil for nonexistent chain")
	}
}

func TestListPresets(t *testing.T) {
	presets := ListPresets("cartesian6")
	if len(presets) == 0 {
		t.Error("expected presets for cartesian6")
	}
	if ListPresets("nonexistent") != nil {
		t.Error("expected nil for nonexistent chain")
	}
	assert.Equal(t, []string{"arm7", "cartesian6", "so101"}, ListChains())
}

func TestAllPresetsValidate(t *testing.T) {
	for _, chain := range ListChains() {
		for _, name := range ListPresets(chain) {
			cfg := GetPreset(chain, name)
			assert.NoError(t, cfg.Validate(), "%s/%s", chain, name)

			rc, err := cfg.RobotConfig()
			require.NoError(t, err, "%s/%s", chain, name)
			_, err = controllers.NewRegistry().New(rc.Controller, rc.ControllerConfig, 6)
			if chain == "cartesian6" {
				assert.NoError(t, err, "%s/%s", chain, name)
			}
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown chain", func(c *Config) { c.Chain = "scara" }},
		{"missing chain", func(c *Config) { c.Chain = "" }},
		{"bad mode", func(c *Config) { c.Mode = "hybrid" }},
		{"control below policy", func(c *Config) { c.ControlFreq = 10 }},
		{"zero policy", func(c *Config) { c.PolicyFreq = 0 }},
		{"unknown controller", func(c *Config) { c.Controller = "Admittance" }},
		{"unknown controller section", func(c *Config) { c.Controllers = map[string]controllers.Config{"pid": {}} }},
		{"unknown action limit", func(c *Config) { c.Action.Limits = map[string]controllers.Range{"wiggle": {}} }},
		{"negative goal ticks", func(c *Config) { c.Action.GoalTicks = -1 }},
		{"bad integrator", func(c *Config) { c.Sim.Integrator = "leapfrog" }},
		{"zero substeps", func(c *Config) { c.Sim.Substeps = 0 }},
		{"q0 length", func(c *Config) { c.Sim.Q0 = []float64{0, 0} }},
		{"real without port", func(c *Config) { c.Mode = "real" }},
		{"negative stiffness", func(c *Config) { c.Hardware.Stiffness = []float64{-1} }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), arm.ErrInvalidConfig)
		})
	}
}

func TestControllerConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ControlFreq = 1000
	cfg.Controllers = map[string]controllers.Config{
		"joint_impedance": {Kp: []float64{80}, InterpolationSteps: 10},
	}

	cc := cfg.ControllerConfig(controllers.JointImpedance)
	assert.Equal(t, []float64{80}, cc.Kp)
	assert.Equal(t, 10, cc.InterpolationSteps)
	assert.Equal(t, 1000.0, cc.ControlFreq)

	// Missing sections fall back to the kind defaults.
	cc = cfg.ControllerConfig(controllers.JointVelocity)
	assert.Equal(t, controllers.DefaultConfig(controllers.JointVelocity).Kv, cc.Kv)
}

func TestControllerConfigKeepsKindLimits(t *testing.T) {
	cfg := DefaultConfig()

	// No entry at all.
	cc := cfg.ControllerConfig(controllers.JointImpedance)
	def := controllers.DefaultConfig(controllers.JointImpedance)
	assert.Equal(t, def.OutputMin, cc.OutputMin)
	assert.Equal(t, def.OutputMax, cc.OutputMax)
	assert.Equal(t, def.InputMin, cc.InputMin)
	assert.Equal(t, def.InputMax, cc.InputMax)

	// An entry setting only kp.
	path := filepath.Join(t.TempDir(), "ee.yaml")
	data := "controller: EEImpedance\ncontrollers:\n  EEImpedance:\n    kp: [100]\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))
	loaded, err := Load(path)
	require.NoError(t, err)

	cc = loaded.ControllerConfig(controllers.EEImpedance)
	def = controllers.DefaultConfig(controllers.EEImpedance)
	assert.Equal(t, []float64{100}, cc.Kp)
	assert.True(t, cc.Coupled)
	assert.Equal(t, def.OutputMin, cc.OutputMin)
	assert.Equal(t, def.OutputMax, cc.OutputMax)
	assert.Equal(t, def.InputMin, cc.InputMin)
	assert.Equal(t, def.InputMax, cc.InputMax)
	assert.Equal(t, def.RampRatio, cc.RampRatio)

	// Grouped gains stay decoupled.
	loaded.Controllers["EEImpedance"] = controllers.Config{Kp: []float64{100}, KpOri: []float64{30}}
	cc = loaded.ControllerConfig(controllers.EEImpedance)
	assert.False(t, cc.Coupled)
	assert.Equal(t, def.OutputMax, cc.OutputMax)
}

func TestRobotConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Action.GoalTicks = 50
	rc, err := cfg.RobotConfig()
	require.NoError(t, err)
	assert.Equal(t, controllers.EEImpedance, rc.Controller)
	assert.Equal(t, 50, rc.GoalTicks)
	assert.Contains(t, rc.ActionLimits, arm.ActionDeltaPose)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "armsim.yaml")

	cfg := GetPreset("arm7", "osc")
	cfg.Duration = 3
	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "arm7", loaded.Chain)
	assert.Equal(t, 3.0, loaded.Duration)
	assert.Equal(t, cfg.Reset, loaded.Reset)
}

func TestLoadPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	data := "chain: arm7\ncontroller: ee_posture\ncontrollers:\n  EEPosture:\n    kp_null: 20\n"
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "arm7", cfg.Chain)
	assert.Equal(t, DefaultIntegrator, cfg.Sim.Integrator)
	kind, err := cfg.ControllerKind()
	require.NoError(t, err)
	assert.Equal(t, controllers.EEPosture, kind)
	assert.Equal(t, 20.0, cfg.ControllerConfig(kind).KpNull)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("control_freq: [1, 2"), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)

	require.NoError(t, os.WriteFile(path, []byte("control_freq: 5\n"), 0o644))
	_, err = Load(path)
	assert.ErrorIs(t, err, arm.ErrInvalidConfig)
}
