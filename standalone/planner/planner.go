package planner

import (
	"errors"
	"math"

	"stepcore/core"
	"stepcore/standalone"
	"stepcore/standalone/kinematics"
)

var (
	ErrAborted       = errors.New("move aborted")
	ErrEmergencyStop = errors.New("emergency stop active")
	ErrMoveTooLong   = errors.New("move exceeds step counter range")
)

// maxStepEvents bounds a single block so Bresenham accumulators never
// overflow
const maxStepEvents = 1 << 30

// Planner converts target positions into speed-profiled blocks. It runs in
// the background context only.
type Planner struct {
	config     *standalone.MachineConfig
	kinematics kinematics.Kinematics
	queue      *Queue
	junction   JunctionStrategy
	idle       func()

	maxVelocity [standalone.NumAxes]float64
	maxAccel    [standalone.NumAxes]float64
	minSpeed    float64
	minRate     float64
	maxRate     float64

	// Last accepted target
	position   [standalone.NumAxes]int32
	positionMM standalone.Position
	seq        uint32
}

// NewPlanner creates a motion planner feeding queue
func NewPlanner(config *standalone.MachineConfig, kin kinematics.Kinematics, queue *Queue) *Planner {
	p := &Planner{
		config:     config,
		kinematics: kin,
		queue:      queue,
		junction:   NewJunctionStrategy(config),
		idle:       core.ProcessTimers,
		minSpeed:   config.MinPlannerSpeed,
		minRate:    float64(config.MinStepRate),
		maxRate:    float64(config.MaxStepRate),
	}
	for i, name := range standalone.AxisNames {
		axis := config.Axes[name]
		p.maxVelocity[i] = axis.MaxVelocity
		p.maxAccel[i] = axis.MaxAccel
	}
	return p
}

// SetJunctionStrategy replaces the cornering policy
func (p *Planner) SetJunctionStrategy(js JunctionStrategy) {
	p.junction = js
}

// SetIdleHook sets the function run on every spin while the queue is full.
// It defaults to core.ProcessTimers so background work keeps running.
func (p *Planner) SetIdleHook(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	p.idle = fn
}

// Queue returns the block ring fed by the planner
func (p *Planner) Queue() *Queue {
	return p.queue
}

// Position returns the last accepted target
func (p *Planner) Position() standalone.Position {
	return p.positionMM
}

// StepPosition returns the last accepted target in steps
func (p *Planner) StepPosition() [standalone.NumAxes]int32 {
	return p.position
}

// SetPosition redefines the current position without moving. Only
// meaningful while the queue is empty.
func (p *Planner) SetPosition(pos standalone.Position) {
	p.position = p.kinematics.CalcSteps(pos)
	p.positionMM = pos
}

// Sync resets the planner position to where the motors actually are, for
// use after an abort
func (p *Planner) Sync(steps [standalone.NumAxes]int32) {
	p.position = steps
	p.positionMM = p.kinematics.CalcPosition(steps)
}

// PlanMove queues a straight move to target at feedrate (mm/s). A feedrate
// of zero uses the configured default. When the ring is full the call spins
// on the idle hook until the step interrupt frees a slot.
func (p *Planner) PlanMove(target standalone.Position, feedrate float64) error {
	if p.queue.Halted() {
		return ErrEmergencyStop
	}
	if err := p.kinematics.CheckLimits(target); err != nil {
		return err
	}
	if feedrate <= 0 {
		feedrate = p.config.DefaultVelocity
	}

	steps := p.kinematics.CalcSteps(target)
	spmAxis := p.kinematics.StepsPerMM()

	var (
		absSteps   [standalone.NumAxes]uint32
		dirBits    uint8
		deltaMM    [standalone.NumAxes]float64
		eventCount uint32
	)
	for i := range steps {
		d := int64(steps[i]) - int64(p.position[i])
		if d < 0 {
			dirBits |= 1 << i
			d = -d
		}
		if d > maxStepEvents {
			return ErrMoveTooLong
		}
		absSteps[i] = uint32(d)
		if absSteps[i] > eventCount {
			eventCount = absSteps[i]
		}
		deltaMM[i] = float64(int64(steps[i])-int64(p.position[i])) / spmAxis[i]
	}

	// Sub-step moves produce no block
	if eventCount == 0 {
		p.positionMM = target
		return nil
	}

	millimeters := math.Sqrt(deltaMM[standalone.AxisX]*deltaMM[standalone.AxisX] +
		deltaMM[standalone.AxisY]*deltaMM[standalone.AxisY] +
		deltaMM[standalone.AxisZ]*deltaMM[standalone.AxisZ])
	if millimeters < 1e-9 {
		millimeters = math.Abs(deltaMM[standalone.AxisE])
	}

	var motion Motion
	for i := range deltaMM {
		motion.Unit[i] = deltaMM[i] / millimeters
	}

	// Nominal speed: feedrate limited by every axis and the step rate ceiling
	speed := feedrate
	accel := p.config.DefaultAccel
	for i, u := range motion.Unit {
		u = math.Abs(u)
		if u == 0 {
			continue
		}
		if speed*u > p.maxVelocity[i] {
			speed = p.maxVelocity[i] / u
		}
		if accel*u > p.maxAccel[i] {
			accel = p.maxAccel[i] / u
		}
	}
	spm := float64(eventCount) / millimeters
	if speed*spm > p.maxRate {
		speed = p.maxRate / spm
	}
	speed = math.Max(speed, p.minSpeed)
	motion.NominalSpeed = speed
	motion.Acceleration = accel

	if err := p.waitForSlot(); err != nil {
		return err
	}

	b := p.queue.reserve()
	b.flags.Store(flagRecalculate)
	b.Motion = motion
	b.Steps = absSteps
	b.DirectionBits = dirBits
	b.StepEventCount = eventCount
	b.Target = steps
	b.Millimeters = millimeters
	// speed*spm can land a hair above the ceiling after the division above
	b.NominalRate = math.Min(math.Max(speed*spm, p.minRate), p.maxRate)
	b.AccelRate = accel * spm
	p.seq++
	b.Seq = p.seq

	vAllowable := maxAllowableSpeed(accel, p.minSpeed, millimeters)
	if speed <= vAllowable {
		b.flags.Store(flagRecalculate | flagNominalLength)
	}

	last, claimed := p.queue.claimLast()
	switch {
	case last == nil:
		// Starting from rest
		b.MaxEntrySpeed = p.clampJunction(p.junction.MaxJunctionSpeed(nil, &b.Motion), speed, speed)
		b.EntrySpeed = math.Min(b.MaxEntrySpeed, vAllowable)
	case claimed:
		b.MaxEntrySpeed = p.clampJunction(p.junction.MaxJunctionSpeed(&last.Motion, &b.Motion), speed, last.NominalSpeed)
		b.EntrySpeed = math.Min(b.MaxEntrySpeed, vAllowable)
	default:
		// The predecessor is executing; its exit speed is final
		b.MaxEntrySpeed = p.clampJunction(p.junction.MaxJunctionSpeed(&last.Motion, &b.Motion), speed, last.NominalSpeed)
		b.EntrySpeed = math.Min(last.ExitSpeed, b.MaxEntrySpeed)
	}
	b.ExitSpeed = p.minSpeed

	p.queue.publish()
	core.RecordTiming(core.EvtBlockQueued, p.queue.Slot(p.queue.head.Load()-1), core.GetTime(), eventCount, uint32(p.queue.Len()))

	p.recalculate()

	p.position = steps
	p.positionMM = target
	return nil
}

// clampJunction floors a strategy result at the minimum planner speed and
// caps it at both nominal speeds
func (p *Planner) clampJunction(v, nominal, prevNominal float64) float64 {
	v = math.Max(v, p.minSpeed)
	v = math.Min(v, nominal)
	return math.Min(v, prevNominal)
}

// waitForSlot spins on the idle hook while the ring is full
func (p *Planner) waitForSlot() error {
	gen := p.queue.Generation()
	for p.queue.IsFull() {
		p.idle()
		if p.queue.Halted() {
			return ErrEmergencyStop
		}
		if p.queue.Generation() != gen {
			return ErrAborted
		}
	}
	return nil
}

// recalculate runs the look-ahead: reverse pass, forward pass, then a
// trapezoid for every block still flagged. Entry edits go through
// setEntrySpeed, which holds interrupts off for a single block only.
func (p *Planner) recalculate() {
	p.reversePass()
	p.forwardPass()
	p.trapezoidPass()
}

// reversePass walks from the newest block back to the oldest editable one,
// lowering entry speeds so every block can still decelerate to the next
// block's entry
func (p *Planner) reversePass() {
	q := p.queue
	tail := q.tail.Load()
	head := q.head.Load()
	if head-tail < 2 {
		return
	}

	nextEntry := p.minSpeed
	for i := head - 1; i != tail; i-- {
		b := q.at(i)
		if b.Busy() {
			break
		}
		newEntry := b.MaxEntrySpeed
		if !b.nominalLength() {
			newEntry = math.Min(newEntry, maxAllowableSpeed(b.Acceleration, nextEntry, b.Millimeters))
		}
		if newEntry != b.EntrySpeed && !q.setEntrySpeed(i, newEntry) {
			// Predecessor started; everything older is frozen
			break
		}
		nextEntry = b.EntrySpeed
	}
}

// forwardPass lowers entry speeds that the previous block cannot accelerate
// to
func (p *Planner) forwardPass() {
	q := p.queue
	tail := q.tail.Load()
	head := q.head.Load()

	for i := tail; i+1 != head && i != head; i++ {
		prev := q.at(i)
		cur := q.at(i + 1)
		if prev.nominalLength() || prev.EntrySpeed >= cur.EntrySpeed {
			continue
		}
		v := maxAllowableSpeed(prev.Acceleration, prev.EntrySpeed, prev.Millimeters)
		if v < cur.EntrySpeed {
			q.setEntrySpeed(i+1, v)
		}
	}
}

// trapezoidPass computes the profile of every block the planner owns and
// hands it to the step interrupt
func (p *Planner) trapezoidPass() {
	q := p.queue
	tail := q.tail.Load()
	head := q.head.Load()

	for i := tail; i != head; i++ {
		b := q.at(i)
		if !b.NeedsRecalculate() {
			continue
		}
		exit := p.minSpeed
		if i+1 != head {
			exit = q.at(i + 1).EntrySpeed
		}
		b.calculateTrapezoid(b.EntrySpeed, exit, p.minRate)
		b.flags.And(^flagRecalculate)
	}
}

// IsIdle reports whether the ring is empty
func (p *Planner) IsIdle() bool {
	return p.queue.IsEmpty()
}
