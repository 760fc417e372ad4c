package planner

import (
	"math"
	"sync/atomic"

	"stepcore/standalone"
)

// Block flag bits. The flags word is the only block field written by both
// the planner and the step interrupt.
const (
	flagBusy          uint32 = 1 << iota // Step interrupt owns the block
	flagRecalculate                      // Planner owns the block; trapezoid pending
	flagNominalLength                    // Nominal speed reachable from rest within the block
)

// Motion summarises one side of a junction
type Motion struct {
	Unit         [standalone.NumAxes]float64 // Signed direction cosines (mm per mm of path)
	NominalSpeed float64                     // mm/s
	Acceleration float64                     // mm/s^2
}

// Block is one step-quantized linear move. Step counts are fixed when the
// block is published; speed and phase fields change only while the planner
// holds the recalculate flag.
type Block struct {
	flags atomic.Uint32

	Motion

	Steps          [standalone.NumAxes]uint32 // Absolute steps per axis
	DirectionBits  uint8                      // Bit n set: axis n moves negative
	StepEventCount uint32                     // Steps of the dominant axis
	Target         [standalone.NumAxes]int32  // Absolute step position at block end
	Millimeters    float64
	Seq            uint32 // Publication order

	MaxEntrySpeed float64 // Junction limit (mm/s)
	EntrySpeed    float64
	ExitSpeed     float64

	// Step-domain profile
	NominalRate  float64 // steps/s
	InitialRate  float64
	FinalRate    float64
	AccelRate    float64 // steps/s^2
	AccelSteps   uint32
	PlateauSteps uint32
	DecelSteps   uint32
}

// BlockInfo is a copy of the profile fields of a block
type BlockInfo struct {
	Seq            uint32
	StepEventCount uint32
	Millimeters    float64
	EntrySpeed     float64
	NominalSpeed   float64
	ExitSpeed      float64
	Acceleration   float64
	NominalRate    float64 // steps/s
	AccelSteps     uint32
	PlateauSteps   uint32
	DecelSteps     uint32
}

// Info returns a copy of the block's profile
func (b *Block) Info() BlockInfo {
	return BlockInfo{
		Seq:            b.Seq,
		StepEventCount: b.StepEventCount,
		Millimeters:    b.Millimeters,
		EntrySpeed:     b.EntrySpeed,
		NominalSpeed:   b.NominalSpeed,
		ExitSpeed:      b.ExitSpeed,
		Acceleration:   b.Acceleration,
		NominalRate:    b.NominalRate,
		AccelSteps:     b.AccelSteps,
		PlateauSteps:   b.PlateauSteps,
		DecelSteps:     b.DecelSteps,
	}
}

// Busy reports whether the step interrupt has started the block
func (b *Block) Busy() bool {
	return b.flags.Load()&flagBusy != 0
}

// NeedsRecalculate reports whether the planner still owns the block
func (b *Block) NeedsRecalculate() bool {
	return b.flags.Load()&flagRecalculate != 0
}

func (b *Block) nominalLength() bool {
	return b.flags.Load()&flagNominalLength != 0
}

// Reversed reports whether axis moves in the negative direction
func (b *Block) Reversed(axis int) bool {
	return b.DirectionBits&(1<<axis) != 0
}

// StepsPerMM is the dominant-axis step density along the path
func (b *Block) StepsPerMM() float64 {
	return float64(b.StepEventCount) / b.Millimeters
}

// calculateTrapezoid fills the step-phase lengths for a block that enters
// at entry and leaves at exit (both mm/s). Rates below minRate are raised
// to it. accel+plateau+decel always equals StepEventCount.
func (b *Block) calculateTrapezoid(entry, exit, minRate float64) {
	spm := b.StepsPerMM()
	initial := math.Max(entry*spm, minRate)
	final := math.Max(exit*spm, minRate)
	nominal := math.Max(b.NominalRate, minRate)
	accel := b.AccelRate
	total := float64(b.StepEventCount)

	accelSteps := math.Ceil(estimateSteps(initial, nominal, accel))
	decelSteps := math.Floor(estimateSteps(final, nominal, accel))
	if accelSteps < 0 {
		accelSteps = 0
	}
	if decelSteps < 0 {
		decelSteps = 0
	}

	plateau := total - accelSteps - decelSteps
	if plateau < 0 {
		// Nominal rate is never reached: accelerate until the
		// acceleration and deceleration curves intersect.
		accelSteps = math.Ceil(intersectionSteps(initial, final, accel, total))
		if accelSteps < 0 {
			accelSteps = 0
		}
		if accelSteps > total {
			accelSteps = total
		}
		decelSteps = total - accelSteps
		plateau = 0
	}

	b.EntrySpeed = entry
	b.ExitSpeed = exit
	b.InitialRate = initial
	b.FinalRate = final
	b.AccelSteps = uint32(accelSteps)
	b.DecelSteps = uint32(decelSteps)
	b.PlateauSteps = b.StepEventCount - b.AccelSteps - b.DecelSteps
}

// estimateSteps is the distance (steps) to go from rate v0 to v1 at accel
func estimateSteps(v0, v1, accel float64) float64 {
	if accel <= 0 {
		return 0
	}
	return (v1*v1 - v0*v0) / (2 * accel)
}

// intersectionSteps is the step at which accelerating from v0 and
// decelerating to v1 over total steps meet
func intersectionSteps(v0, v1, accel, total float64) float64 {
	if accel <= 0 {
		return 0
	}
	return (2*accel*total - v0*v0 + v1*v1) / (4 * accel)
}

// maxAllowableSpeed is the highest speed from which target can still be
// reached over distance at the given deceleration
func maxAllowableSpeed(accel, target, distance float64) float64 {
	return math.Sqrt(target*target + 2*accel*distance)
}
