package core

// MaxAxes is the number of motor outputs a StepperBackend drives
const MaxAxes = 4

// AxisPins describes the outputs of one motor driver
type AxisPins struct {
	Step         GPIOPin
	Dir          GPIOPin
	Enable       GPIOPin
	HasEnable    bool
	InvertStep   bool
	InvertDir    bool
	InvertEnable bool
}

// StepperBackend defines the hardware abstraction for multi-axis step output.
// Implementations can use GPIO, PIO, or other methods.
type StepperBackend interface {
	// Init claims and configures the outputs for every axis
	Init(axes []AxisPins) error

	// Step generates a single step pulse on axis.
	// Must handle pulse width timing internally.
	// Called from the step interrupt; must not block.
	Step(axis uint8)

	// SetDirection sets the direction output of axis
	// reverse: true = negative travel
	// Must ensure proper dir-to-step setup time
	SetDirection(axis uint8, reverse bool)

	// EnableAll energises every motor driver
	EnableAll()

	// DisableAll de-energises every motor driver. Used by emergency stop.
	DisableAll()

	// Stop immediately halts stepping and drops any buffered pulses
	Stop()

	// GetName returns backend implementation name
	GetName() string
}

// StepperBackendInfo provides information about available backends
type StepperBackendInfo struct {
	Name          string
	MaxStepRate   uint32 // Maximum steps/second per axis
	MinPulseNs    uint32 // Minimum step pulse width (ns)
	TypicalJitter uint32 // Typical timing jitter (ns)
	CPUOverhead   uint8  // CPU overhead percentage (0-100)
}
