package stepgen

import (
	"errors"
	"math"
	"sync/atomic"

	"stepcore/core"
	"stepcore/standalone"
	"stepcore/standalone/planner"
)

var ErrFaulted = errors.New("executor halted by fault")

// Phase of the executing block
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseLoading
	PhaseAccelerating
	PhasePlateau
	PhaseDecelerating
	PhaseDone
	PhaseHalted
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseLoading:
		return "loading"
	case PhaseAccelerating:
		return "accelerating"
	case PhasePlateau:
		return "plateau"
	case PhaseDecelerating:
		return "decelerating"
	case PhaseDone:
		return "done"
	case PhaseHalted:
		return "halted"
	default:
		return "unknown"
	}
}

// IdleInterval is the tick period while no block is ready (1 kHz)
const IdleInterval = core.StepTimerFreq / 1000

// Config holds the executor limits, all in step-timer ticks except
// MinStepRate
type Config struct {
	MinIntervalTicks uint32
	MaxIntervalTicks uint32
	MaxLateTicks     uint32
	MinStepRate      float64
}

// ConfigFromMachine extracts the executor limits from a machine config
func ConfigFromMachine(mc *standalone.MachineConfig) Config {
	return Config{
		MinIntervalTicks: mc.MinIntervalTicks,
		MaxIntervalTicks: mc.MaxIntervalTicks,
		MaxLateTicks:     mc.MaxLateTicks,
		MinStepRate:      float64(mc.MinStepRate),
	}
}

// Snapshot is a consistent copy of the executor state
type Snapshot struct {
	Steps      [standalone.NumAxes]int32
	Phase      Phase
	Fault      Fault
	Interval   uint32
	BlocksDone uint32
	BlockSeq   uint32 // Seq of the executing block, zero when idle
}

// Executor turns queued blocks into step pulses. Tick is the step-timer
// interrupt handler: one non-blocking state transition per call. Every
// other method runs in the background context.
type Executor struct {
	queue   *planner.Queue
	timer   core.TimerDriver
	latency core.LatencyReporter
	backend core.StepperBackend
	stall   *StallDetector
	cfg     Config

	// Interrupt state
	block      *planner.Block
	slot       uint8
	phase      Phase
	errAcc     [standalone.NumAxes]uint32
	stepsDone  uint32
	cruiseRate float64
	interval   uint32
	position   [standalone.NumAxes]int32

	blocksDone atomic.Uint32
	fault      atomic.Uint32
	observer   func(planner.BlockInfo)
}

// NewExecutor creates an executor consuming queue
func NewExecutor(queue *planner.Queue, timer core.TimerDriver, backend core.StepperBackend, cfg Config) *Executor {
	e := &Executor{
		queue:    queue,
		timer:    timer,
		backend:  backend,
		stall:    NewStallDetector(cfg.MinIntervalTicks, cfg.MaxLateTicks),
		cfg:      cfg,
		interval: IdleInterval,
	}
	if lr, ok := timer.(core.LatencyReporter); ok {
		e.latency = lr
	}
	return e
}

// SetBlockObserver installs fn, called from interrupt context each time a
// block starts. fn must not block.
func (e *Executor) SetBlockObserver(fn func(planner.BlockInfo)) {
	state := core.DisableInterrupts()
	e.observer = fn
	core.RestoreInterrupts(state)
}

// Stall returns the executor's deadline detector
func (e *Executor) Stall() *StallDetector {
	return e.stall
}

// Start registers Tick as the step-timer callback and starts the timer at
// the idle rate
func (e *Executor) Start() error {
	if Fault(e.fault.Load()) != FaultNone {
		return ErrFaulted
	}
	if err := core.RegisterTimerCallback(core.TimerStep, e.Tick); err != nil {
		return err
	}
	if err := e.timer.Start(core.TimerStep, core.StepTimerFreq/IdleInterval); err != nil {
		return err
	}
	e.backend.EnableAll()
	e.timer.EnableInterrupt(core.TimerStep)
	return nil
}

// Stop halts the step timer without touching the queue
func (e *Executor) Stop() {
	e.timer.DisableInterrupt(core.TimerStep)
	e.timer.Stop(core.TimerStep)
	_ = core.RegisterTimerCallback(core.TimerStep, nil)
}

// Tick services one step-timer interrupt
func (e *Executor) Tick() {
	if e.phase == PhaseHalted {
		return
	}
	if e.queue.Discarding() {
		e.block = nil
		e.phase = PhaseIdle
		e.program(IdleInterval)
		return
	}

	if e.block == nil {
		if !e.load() {
			e.program(IdleInterval)
			return
		}
		e.schedule()
		return
	}

	if e.latency != nil {
		if late := e.latency.Lateness(core.TimerStep); !e.stall.CheckLateness(late) {
			core.RecordTiming(core.EvtStall, e.slot, core.GetTime(), late, uint32(FaultLateInterrupt))
			e.emergencyStop(FaultLateInterrupt)
			return
		}
	}

	e.stepEvent()

	if e.stepsDone >= e.block.StepEventCount {
		e.finish()
		if !e.load() {
			e.program(IdleInterval)
			return
		}
	}
	e.schedule()
}

// load acquires the tail block and prepares the Bresenham state
func (e *Executor) load() bool {
	b, deferred := e.queue.Acquire()
	if b == nil {
		if deferred {
			core.RecordTiming(core.EvtBlockDeferred, e.queue.TailSlot(), core.GetTime(), 0, 0)
		}
		// Once per transition, not on every idle poll
		if e.phase != PhaseIdle {
			core.RecordTiming(core.EvtIdleTick, e.slot, core.GetTime(), e.blocksDone.Load(), 0)
		}
		e.phase = PhaseIdle
		return false
	}

	e.phase = PhaseLoading
	e.block = b
	e.slot = e.queue.TailSlot()
	e.stepsDone = 0
	half := b.StepEventCount / 2
	for axis := range e.errAcc {
		e.errAcc[axis] = half
		if b.Steps[axis] != 0 {
			e.backend.SetDirection(uint8(axis), b.Reversed(axis))
		}
	}
	e.cruiseRate = math.Min(b.NominalRate,
		math.Sqrt(b.InitialRate*b.InitialRate+2*b.AccelRate*float64(b.AccelSteps)))

	if e.observer != nil {
		e.observer(b.Info())
	}
	core.RecordTiming(core.EvtBlockLoaded, e.slot, core.GetTime(), b.StepEventCount, b.AccelSteps)
	return true
}

// stepEvent advances every axis by one Bresenham step
func (e *Executor) stepEvent() {
	b := e.block
	count := b.StepEventCount
	var pulses uint32
	for axis := range e.errAcc {
		steps := b.Steps[axis]
		if steps == 0 {
			continue
		}
		e.errAcc[axis] += steps
		if e.errAcc[axis] >= count {
			e.errAcc[axis] -= count
			e.backend.Step(uint8(axis))
			if b.Reversed(axis) {
				e.position[axis]--
			} else {
				e.position[axis]++
			}
			pulses++
		}
	}
	e.stepsDone++
	core.CountSteps(pulses)
}

// finish releases the completed block
func (e *Executor) finish() {
	e.phase = PhaseDone
	core.RecordTiming(core.EvtBlockDone, e.slot, core.GetTime(), e.stepsDone, 0)
	e.block = nil
	e.queue.Release()
	e.blocksDone.Add(1)
}

// schedule programs the interval before the next step event of the block
func (e *Executor) schedule() {
	ticks := e.nextInterval()
	if !e.stall.CheckInterval(ticks) {
		core.RecordTiming(core.EvtStall, e.slot, core.GetTime(), ticks, uint32(FaultIntervalFloor))
		e.emergencyStop(FaultIntervalFloor)
		return
	}
	e.program(ticks)
}

// stepRate returns the rate for step n of the loaded block and updates
// the phase
func (e *Executor) stepRate(n uint32) float64 {
	b := e.block
	var rate float64
	switch {
	case n < b.AccelSteps:
		e.phase = PhaseAccelerating
		rate = math.Sqrt(b.InitialRate*b.InitialRate + 2*b.AccelRate*float64(n))
		rate = math.Min(rate, b.NominalRate)
	case n < b.AccelSteps+b.PlateauSteps:
		e.phase = PhasePlateau
		rate = e.cruiseRate
	default:
		e.phase = PhaseDecelerating
		d := float64(n - b.AccelSteps - b.PlateauSteps)
		v2 := e.cruiseRate*e.cruiseRate - 2*b.AccelRate*d
		rate = math.Sqrt(math.Max(v2, b.FinalRate*b.FinalRate))
	}
	return math.Max(rate, e.cfg.MinStepRate)
}

func (e *Executor) nextInterval() uint32 {
	ticks := core.StepTicksFromRate(e.stepRate(e.stepsDone))
	if e.cfg.MaxIntervalTicks != 0 && ticks > e.cfg.MaxIntervalTicks {
		ticks = e.cfg.MaxIntervalTicks
	}
	return ticks
}

func (e *Executor) program(ticks uint32) {
	e.interval = ticks
	e.timer.SetNextInterval(core.TimerStep, ticks)
}

// emergencyStop disables every motor output and stops the step timer.
// Safe from interrupt context; the queue is reset later by ClearFault.
func (e *Executor) emergencyStop(f Fault) {
	e.backend.Stop()
	e.backend.DisableAll()
	e.timer.DisableInterrupt(core.TimerStep)
	e.timer.Stop(core.TimerStep)
	e.queue.Halt()
	e.block = nil
	e.phase = PhaseHalted
	e.fault.CompareAndSwap(uint32(FaultNone), uint32(f))
	core.RecordTiming(core.EvtEmergencyStop, e.slot, core.GetTime(), uint32(f), e.interval)
}

// EmergencyStop latches an external fault
func (e *Executor) EmergencyStop() {
	state := core.DisableInterrupts()
	e.emergencyStop(FaultExternal)
	core.RestoreInterrupts(state)
}

// Abort discards the executing block and every queued one. Motor position
// stays wherever the last pulse left it.
func (e *Executor) Abort() {
	state := core.DisableInterrupts()
	e.timer.DisableInterrupt(core.TimerStep)
	e.queue.SetDiscard(true)
	e.backend.Stop()
	e.block = nil
	if e.phase != PhaseHalted {
		e.phase = PhaseIdle
	}
	e.queue.Reset()
	if !e.queue.Halted() {
		e.queue.SetDiscard(false)
		e.program(IdleInterval)
		e.timer.EnableInterrupt(core.TimerStep)
	}
	core.RestoreInterrupts(state)
	core.RecordTiming(core.EvtAbort, e.slot, core.GetTime(), 0, 0)
}

// ClearFault resets the queue after an emergency stop and restarts the timer
func (e *Executor) ClearFault() error {
	state := core.DisableInterrupts()
	e.queue.Reset()
	e.queue.Resume()
	e.block = nil
	e.phase = PhaseIdle
	e.fault.Store(uint32(FaultNone))
	core.RestoreInterrupts(state)
	return e.Start()
}

// Fault returns the latched fault
func (e *Executor) Fault() Fault {
	return Fault(e.fault.Load())
}

// SetPosition redefines the motor position. Only valid while idle.
func (e *Executor) SetPosition(steps [standalone.NumAxes]int32) {
	state := core.DisableInterrupts()
	e.position = steps
	core.RestoreInterrupts(state)
}

// Position returns the executed motor position in steps
func (e *Executor) Position() [standalone.NumAxes]int32 {
	state := core.DisableInterrupts()
	pos := e.position
	core.RestoreInterrupts(state)
	return pos
}

// IsIdle reports whether no block is executing
func (e *Executor) IsIdle() bool {
	state := core.DisableInterrupts()
	idle := e.block == nil
	core.RestoreInterrupts(state)
	return idle
}

// Snapshot returns the executor state
func (e *Executor) Snapshot() Snapshot {
	state := core.DisableInterrupts()
	s := Snapshot{
		Steps:      e.position,
		Phase:      e.phase,
		Interval:   e.interval,
		BlocksDone: e.blocksDone.Load(),
		Fault:      Fault(e.fault.Load()),
	}
	if e.block != nil {
		s.BlockSeq = e.block.Seq
	}
	core.RestoreInterrupts(state)
	return s
}
