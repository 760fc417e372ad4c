//go:build rp2040

package main

import (
	"context"
	"errors"
	"machine"

	"tinygo.org/x/drivers/vl53l1x"

	"stepcore/standalone"
)

var ErrProbeRange = errors.New("probe out of range")

const (
	probeSamples   = 3
	probeMaxMM     = 8190 // Sensor reports this for no target
	probeClearance = 5.0  // Nozzle height while measuring (mm)
	probeFeed      = 50.0 // Travel feedrate between points (mm/s)
)

// ToFProbe measures bed height with a VL53L1X time-of-flight sensor
// carried on the toolhead. Heights are reported relative to Reference, the
// sensor distance over a perfectly flat bed at the measuring clearance.
type ToFProbe struct {
	sensor    vl53l1x.Device
	Reference float64 // mm
	move      func(standalone.Position, float64) error
	wait      func(context.Context) error
}

// NewToFProbe configures the sensor on I2C1 (SDA GPIO14, SCL GPIO15).
// move and wait position the toolhead before each measurement.
func NewToFProbe(move func(standalone.Position, float64) error, wait func(context.Context) error) (*ToFProbe, error) {
	err := machine.I2C1.Configure(machine.I2CConfig{
		Frequency: 400000,
		SDA:       machine.GPIO14,
		SCL:       machine.GPIO15,
	})
	if err != nil {
		return nil, err
	}
	sensor := vl53l1x.New(machine.I2C1)
	if !sensor.Configure(true) {
		return nil, errors.New("vl53l1x not responding")
	}
	sensor.SetMeasurementTimingBudget(50000) // 50ms
	return &ToFProbe{
		sensor:    sensor,
		Reference: probeClearance,
		move:      move,
		wait:      wait,
	}, nil
}

// Probe moves over (x, y) and returns the averaged bed height there
func (p *ToFProbe) Probe(ctx context.Context, x, y float64) (float64, error) {
	if err := p.move(standalone.Position{X: x, Y: y, Z: probeClearance}, probeFeed); err != nil {
		return 0, err
	}
	if err := p.wait(ctx); err != nil {
		return 0, err
	}
	sum := 0.0
	for i := 0; i < probeSamples; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		mm := p.sensor.Read(true)
		if mm == 0 || mm >= probeMaxMM {
			return 0, ErrProbeRange
		}
		sum += float64(mm)
	}
	return p.Reference - sum/probeSamples, nil
}
