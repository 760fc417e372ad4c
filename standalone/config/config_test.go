package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepcore/core"
	"stepcore/standalone"
)

const minimalJSON = `{
	"Axes": {
		"x": {"StepPin": "gpio0", "DirPin": "gpio1", "MaxPosition": 200},
		"y": {"StepPin": "gpio2", "DirPin": "gpio3", "MaxPosition": 180},
		"z": {"StepPin": "gpio4", "DirPin": "gpio5", "StepsPerMM": 400, "MaxPosition": 150},
		"e": {"StepPin": "gpio6", "DirPin": "gpio7", "MinPosition": -1000, "MaxPosition": 1000}
	}
}`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig([]byte(minimalJSON))
	require.NoError(t, err)

	assert.Equal(t, "standalone", cfg.Mode)
	assert.Equal(t, "cartesian", cfg.Kinematics)
	assert.Equal(t, "pio", cfg.StepperBackend)
	assert.Equal(t, standalone.JunctionDeviation, cfg.JunctionMode)
	assert.Equal(t, 16, cfg.BlockBufferSize)
	assert.Equal(t, uint32(core.StepTimerFreq/40000), cfg.MinIntervalTicks)
	assert.Equal(t, 80.0, cfg.Axes["x"].StepsPerMM)
	assert.Equal(t, 400.0, cfg.Axes["z"].StepsPerMM)
	assert.Equal(t, standalone.MeshConfig{MaxX: 200, MaxY: 180, CountX: 3, CountY: 3}, cfg.Mesh)
}

func TestLoadConfigMalformed(t *testing.T) {
	_, err := LoadConfig([]byte(`{"Axes": [`))
	assert.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidConfig))
}

func TestDefaultCartesianConfigIsValid(t *testing.T) {
	assert.NoError(t, Validate(DefaultCartesianConfig()))
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*standalone.MachineConfig)
		field  string
	}{
		{"kinematics", func(c *standalone.MachineConfig) { c.Kinematics = "delta" }, "kinematics"},
		{"missing axis", func(c *standalone.MachineConfig) { delete(c.Axes, "e") }, "axes.e"},
		{"steps per mm", func(c *standalone.MachineConfig) {
			x := c.Axes["x"]
			x.StepsPerMM = 0
			c.Axes["x"] = x
		}, "axes.x.steps_per_mm"},
		{"junction mode", func(c *standalone.MachineConfig) { c.JunctionMode = "fast" }, "junction_mode"},
		{"junction deviation", func(c *standalone.MachineConfig) { c.JunctionDeviation = 0 }, "junction_deviation"},
		{"backend", func(c *standalone.MachineConfig) { c.StepperBackend = "dma" }, "stepper_backend"},
		{"buffer not power of two", func(c *standalone.MachineConfig) { c.BlockBufferSize = 12 }, "block_buffer_size"},
		{"buffer too large", func(c *standalone.MachineConfig) { c.BlockBufferSize = 512 }, "block_buffer_size"},
		{"step rate above floor", func(c *standalone.MachineConfig) { c.MaxStepRate = 100000 }, "max_step_rate"},
		{"slow rate beyond interval", func(c *standalone.MachineConfig) { c.MinStepRate = 5 }, "min_step_rate"},
		{"mesh points", func(c *standalone.MachineConfig) { c.Mesh.CountX = 1 }, "mesh"},
		{"mesh corners", func(c *standalone.MachineConfig) { c.Mesh.MaxY = c.Mesh.MinY }, "mesh"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultCartesianConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
			var ce *ConfigError
			require.ErrorAs(t, err, &ce)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}
