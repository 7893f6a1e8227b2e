package config

import (
	"github.com/san-kum/armsim/internal/controllers"
	"github.com/san-kum/armsim/internal/hardware"
)

// Presets are overlays on DefaultConfig, keyed by chain and preset name.
var Presets = map[string]map[string]func(*Config){
	"cartesian6": {
		"osc": func(c *Config) {
			c.Controller = string(controllers.EEImpedance)
		},
		"osc-decoupled": func(c *Config) {
			c.Controller = string(controllers.EEImpedance)
			c.Controllers = map[string]controllers.Config{
				string(controllers.EEImpedance): {
					KpPos: []float64{150}, KpOri: []float64{80},
					InputMin: []float64{-0.2}, InputMax: []float64{0.2},
					OutputMin: []float64{-150}, OutputMax: []float64{150},
					RampRatio: 0.2,
				},
			}
		},
		"velocity": func(c *Config) {
			c.Controller = string(controllers.JointVelocity)
		},
	},
	"arm7": {
		"joint": func(c *Config) {
			c.Chain = "arm7"
			c.Controller = string(controllers.JointImpedance)
		},
		"osc": func(c *Config) {
			c.Chain = "arm7"
			c.Controller = string(controllers.EEImpedance)
		},
		"posture": func(c *Config) {
			c.Chain = "arm7"
			c.Controller = string(controllers.EEPosture)
			c.Sim.Substeps = 4
		},
		"torque": func(c *Config) {
			c.Chain = "arm7"
			c.Controller = string(controllers.JointTorque)
			c.Duration = 2
		},
	},
	"so101": {
		"sim": func(c *Config) {
			c.Chain = "so101"
			c.Controller = string(controllers.JointImpedance)
			c.ControlFreq = 100
			c.PolicyFreq = 10
		},
		"real": func(c *Config) {
			c.Chain = "so101"
			c.Mode = "real"
			c.Controller = string(controllers.JointImpedance)
			c.ControlFreq = 100
			c.PolicyFreq = 10
			c.Hardware.Port = "/dev/ttyACM0"
			c.Hardware.Calibration = "so101_follower.json"
			c.Hardware.Joints = append([]string(nil), hardware.SO101Joints...)
			c.Hardware.Gripper = "gripper"
		},
	},
}

// GetPreset returns a fresh copy of the preset, or nil when unknown.
func GetPreset(chain, preset string) *Config {
	chainPresets, ok := Presets[chain]
	if !ok {
		return nil
	}
	apply, ok := chainPresets[preset]
	if !ok {
		return nil
	}
	cfg := DefaultConfig()
	cfg.Chain = chain
	apply(cfg)
	return cfg
}

// ListPresets returns the sorted preset names of chain.
func ListPresets(chain string) []string {
	chainPresets, ok := Presets[chain]
	if !ok {
		return nil
	}
	return sortedKeys(chainPresets)
}

func ListChains() []string {
	return sortedKeys(Presets)
}
