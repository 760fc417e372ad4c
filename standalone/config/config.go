package config

import (
	"encoding/json"
	"errors"

	"stepcore/core"
	"stepcore/standalone"
)

// ErrInvalidConfig is matched by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// ConfigError names the offending setting
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return "config: " + e.Field + ": " + e.Reason
}

func (e *ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// LoadConfig parses a JSON configuration, applies defaults and validates it
func LoadConfig(jsonData []byte) (*standalone.MachineConfig, error) {
	var config standalone.MachineConfig

	err := json.Unmarshal(jsonData, &config)
	if err != nil {
		return nil, err
	}

	applyDefaults(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// applyDefaults fills in missing configuration values with sensible defaults
func applyDefaults(config *standalone.MachineConfig) {
	if config.Mode == "" {
		config.Mode = "standalone"
	}
	if config.Kinematics == "" {
		config.Kinematics = "cartesian"
	}

	if config.DefaultVelocity == 0 {
		config.DefaultVelocity = 50.0 // 50 mm/s
	}
	if config.DefaultAccel == 0 {
		config.DefaultAccel = 500.0 // 500 mm/s^2
	}
	if config.JunctionMode == "" {
		config.JunctionMode = standalone.JunctionDeviation
	}
	if config.JunctionDeviation == 0 {
		config.JunctionDeviation = 0.05 // 0.05mm
	}
	if config.MinPlannerSpeed == 0 {
		config.MinPlannerSpeed = 0.05
	}

	if config.StepperBackend == "" {
		config.StepperBackend = "pio"
	}
	if config.BlockBufferSize == 0 {
		config.BlockBufferSize = 16
	}
	if config.MinStepRate == 0 {
		config.MinStepRate = 120
	}
	if config.MaxStepRate == 0 {
		config.MaxStepRate = 40000
	}
	if config.MinIntervalTicks == 0 {
		// 25us at the step clock
		config.MinIntervalTicks = core.StepTimerFreq / 40000
	}
	if config.MaxIntervalTicks == 0 {
		config.MaxIntervalTicks = core.StepTimerFreq / 10
	}
	if config.MaxLateTicks == 0 {
		config.MaxLateTicks = core.StepTimerFreq / 1000
	}

	for name, axis := range config.Axes {
		if axis.MaxVelocity == 0 {
			axis.MaxVelocity = 300.0
		}
		if axis.MaxAccel == 0 {
			axis.MaxAccel = 1000.0
		}
		if axis.MaxJerk == 0 {
			axis.MaxJerk = 10.0
		}
		if axis.StepsPerMM == 0 {
			axis.StepsPerMM = 80.0 // Common value
		}
		config.Axes[name] = axis
	}

	// Default mesh: 3x3 over the X/Y travel
	if config.Mesh.CountX == 0 && config.Mesh.CountY == 0 {
		x, y := config.Axes["x"], config.Axes["y"]
		config.Mesh = standalone.MeshConfig{
			MinX: x.MinPosition, MaxX: x.MaxPosition,
			MinY: y.MinPosition, MaxY: y.MaxPosition,
			CountX: 3, CountY: 3,
		}
	}
}

// Validate rejects configurations the motion core cannot run safely
func Validate(config *standalone.MachineConfig) error {
	if config.Kinematics != "cartesian" {
		return &ConfigError{"kinematics", "unsupported kinematics " + config.Kinematics}
	}
	for _, name := range standalone.AxisNames {
		axis, ok := config.Axes[name]
		if !ok {
			return &ConfigError{"axes." + name, "axis not configured"}
		}
		if axis.StepsPerMM <= 0 {
			return &ConfigError{"axes." + name + ".steps_per_mm", "must be positive"}
		}
		if axis.MaxVelocity <= 0 || axis.MaxAccel <= 0 || axis.MaxJerk <= 0 {
			return &ConfigError{"axes." + name, "velocity, acceleration and jerk limits must be positive"}
		}
		if axis.MaxPosition < axis.MinPosition {
			return &ConfigError{"axes." + name, "max_position below min_position"}
		}
	}

	switch config.JunctionMode {
	case standalone.JunctionClassicJerk, standalone.JunctionDeviation:
	default:
		return &ConfigError{"junction_mode", "unknown mode " + string(config.JunctionMode)}
	}
	if config.JunctionDeviation <= 0 {
		return &ConfigError{"junction_deviation", "must be positive"}
	}
	if config.DefaultVelocity <= 0 || config.DefaultAccel <= 0 {
		return &ConfigError{"default_velocity", "default velocity and acceleration must be positive"}
	}
	if config.MinPlannerSpeed <= 0 || config.MinPlannerSpeed > config.DefaultVelocity {
		return &ConfigError{"min_planner_speed", "must be positive and below the default velocity"}
	}

	switch config.StepperBackend {
	case "pio", "sio", "gpio":
	default:
		return &ConfigError{"stepper_backend", "unknown backend " + config.StepperBackend}
	}

	size := config.BlockBufferSize
	if size < 2 || size > 256 || size&(size-1) != 0 {
		return &ConfigError{"block_buffer_size", "must be a power of two between 2 and 256"}
	}
	if config.MinStepRate == 0 || config.MaxStepRate <= config.MinStepRate {
		return &ConfigError{"max_step_rate", "must exceed min_step_rate"}
	}
	if config.MinIntervalTicks == 0 || config.MaxIntervalTicks <= config.MinIntervalTicks {
		return &ConfigError{"max_interval_ticks", "must exceed min_interval_ticks"}
	}
	if core.StepTicksFromRate(float64(config.MaxStepRate)) < config.MinIntervalTicks {
		return &ConfigError{"max_step_rate", "interval at max_step_rate is below the interrupt servicing floor"}
	}
	if core.StepTicksFromRate(float64(config.MinStepRate)) > config.MaxIntervalTicks {
		return &ConfigError{"min_step_rate", "interval at min_step_rate exceeds max_interval_ticks"}
	}

	if err := ValidateMesh(config.Mesh); err != nil {
		return err
	}
	return nil
}

// ValidateMesh checks the calibration grid geometry
func ValidateMesh(mesh standalone.MeshConfig) error {
	if mesh.CountX < 2 || mesh.CountY < 2 {
		return &ConfigError{"mesh", "need at least 2x2 probe points"}
	}
	if mesh.CountX > 255 || mesh.CountY > 255 {
		return &ConfigError{"mesh", "at most 255 probe points per axis"}
	}
	if mesh.MaxX <= mesh.MinX || mesh.MaxY <= mesh.MinY {
		return &ConfigError{"mesh", "max corner must exceed min corner"}
	}
	return nil
}

// DefaultCartesianConfig returns a default configuration for a Cartesian printer
func DefaultCartesianConfig() *standalone.MachineConfig {
	cfg := &standalone.MachineConfig{
		Mode:       "standalone",
		Kinematics: "cartesian",
		Axes: map[string]standalone.AxisConfig{
			"x": {
				StepPin:     "gpio0",
				DirPin:      "gpio1",
				EnablePin:   "gpio8",
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				MaxJerk:     10.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"y": {
				StepPin:     "gpio2",
				DirPin:      "gpio3",
				EnablePin:   "gpio8",
				StepsPerMM:  80.0,
				MaxVelocity: 300.0,
				MaxAccel:    3000.0,
				MaxJerk:     10.0,
				MinPosition: 0.0,
				MaxPosition: 220.0,
			},
			"z": {
				StepPin:     "gpio4",
				DirPin:      "gpio5",
				EnablePin:   "gpio8",
				StepsPerMM:  400.0,
				MaxVelocity: 10.0,
				MaxAccel:    100.0,
				MaxJerk:     0.4,
				MinPosition: -5.0,
				MaxPosition: 250.0,
			},
			"e": {
				StepPin:     "gpio6",
				DirPin:      "gpio7",
				EnablePin:   "gpio8",
				StepsPerMM:  96.0,
				MaxVelocity: 50.0,
				MaxAccel:    5000.0,
				MaxJerk:     5.0,
				MinPosition: -10000.0,
				MaxPosition: 10000.0,
			},
		},
		DefaultVelocity:   50.0,
		DefaultAccel:      500.0,
		JunctionMode:      standalone.JunctionDeviation,
		JunctionDeviation: 0.05,
		MinPlannerSpeed:   0.05,
		Mesh: standalone.MeshConfig{
			MinX: 10, MinY: 10, MaxX: 210, MaxY: 210,
			CountX: 5, CountY: 5,
		},
	}
	applyDefaults(cfg)
	return cfg
}
