package manager

import (
	"context"
	"errors"

	"stepcore/core"
	"stepcore/standalone"
	"stepcore/standalone/config"
	"stepcore/standalone/kinematics"
	"stepcore/standalone/leveling"
	"stepcore/standalone/planner"
	"stepcore/standalone/stepgen"
)

var (
	ErrNotInitialized     = errors.New("manager not initialized")
	ErrAlreadyInitialized = errors.New("already initialized")
	ErrBusy               = errors.New("motion in progress")
	ErrLevelingActive     = errors.New("bed leveling active")
)

// Manager wires the motion pipeline together: leveling transform, planner,
// block queue and step executor. All methods run in the background
// context; only the executor's Tick runs from the step interrupt.
type Manager struct {
	config     *standalone.MachineConfig
	kinematics kinematics.Kinematics
	queue      *planner.Queue
	planner    *planner.Planner
	executor   *stepgen.Executor
	mesh       *leveling.Mesh
	transform  *leveling.Transform
	idle       func()

	// Uncorrected position of the last accepted move
	logical  standalone.Position
	leveling bool

	initialized bool
	running     bool
}

// NewManager creates a new motion manager from a JSON configuration
func NewManager(configData []byte) (*Manager, error) {
	cfg, err := config.LoadConfig(configData)
	if err != nil {
		return nil, err
	}

	return NewManagerWithConfig(cfg)
}

// NewManagerWithConfig creates a manager with an existing config
func NewManagerWithConfig(cfg *standalone.MachineConfig) (*Manager, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return &Manager{
		config: cfg,
		idle:   core.ProcessTimers,
	}, nil
}

// Initialize sets up all components on top of the given step timer and
// stepper backend
func (m *Manager) Initialize(timer core.TimerDriver, backend core.StepperBackend) error {
	if m.initialized {
		return ErrAlreadyInitialized
	}

	var kin kinematics.Kinematics
	var err error

	switch m.config.Kinematics {
	case "cartesian":
		kin, err = kinematics.NewCartesian(m.config)
	default:
		return errors.New("unsupported kinematics: " + m.config.Kinematics)
	}
	if err != nil {
		return err
	}
	m.kinematics = kin

	pins, err := stepgen.AxisPinsFromConfig(m.config)
	if err != nil {
		return err
	}
	if err := backend.Init(pins); err != nil {
		return err
	}

	m.queue, err = planner.NewQueue(m.config.BlockBufferSize)
	if err != nil {
		return err
	}
	m.planner = planner.NewPlanner(m.config, kin, m.queue)
	m.planner.SetIdleHook(m.idle)
	m.executor = stepgen.NewExecutor(m.queue, timer, backend, stepgen.ConfigFromMachine(m.config))

	m.mesh, err = leveling.NewMesh(m.config.Mesh)
	if err != nil {
		return err
	}
	m.transform = leveling.NewTransform(m.mesh)

	m.initialized = true
	core.DebugPrintln("[MOTION] initialized, backend=" + backend.GetName() +
		" queue=" + core.Itoa(m.queue.Capacity()))
	return nil
}

// Start begins step generation
func (m *Manager) Start() error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if err := m.executor.Start(); err != nil {
		return err
	}
	m.running = true
	return nil
}

// Stop discards all queued motion and halts the step timer
func (m *Manager) Stop() {
	if !m.initialized {
		return
	}
	m.executor.Abort()
	m.executor.Stop()
	m.resync()
	m.running = false
}

// IsRunning returns whether the manager is running
func (m *Manager) IsRunning() bool {
	return m.running
}

// SetIdleHook sets the function run while waiting on the step interrupt:
// when the queue is full and in WaitIdle
func (m *Manager) SetIdleHook(fn func()) {
	if fn == nil {
		fn = func() {}
	}
	m.idle = fn
	if m.planner != nil {
		m.planner.SetIdleHook(fn)
	}
}

// PlanMove queues a straight move to target. With leveling active the move
// is split at mesh lines and every piece is raised by the bed height.
func (m *Manager) PlanMove(target standalone.Position, feedrate float64) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if err := m.kinematics.CheckLimits(target); err != nil {
		return err
	}

	if !m.leveling {
		if err := m.planner.PlanMove(target, feedrate); err != nil {
			return err
		}
		m.logical = target
		return nil
	}

	targets, err := m.transform.Targets(m.logical, target)
	if err != nil {
		return err
	}
	// The bed offset may push a piece past a limit the uncorrected target
	// respects; nothing is queued unless every piece fits
	for _, p := range targets {
		if err := m.kinematics.CheckLimits(p); err != nil {
			return err
		}
	}
	for _, p := range targets {
		if err := m.planner.PlanMove(p, feedrate); err != nil {
			// Abort or emergency stop while waiting for a slot
			m.logical = m.transform.Uncorrect(m.planner.Position())
			return err
		}
	}
	m.logical = target
	return nil
}

// Position returns the uncorrected position of the last accepted move
func (m *Manager) Position() standalone.Position {
	return m.logical
}

// SetPosition redefines the current position without moving
func (m *Manager) SetPosition(pos standalone.Position) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if !m.IsIdle() {
		return ErrBusy
	}
	if m.leveling {
		m.planner.SetPosition(m.transform.Correct(pos))
	} else {
		m.planner.SetPosition(pos)
	}
	m.executor.SetPosition(m.planner.StepPosition())
	m.logical = pos
	return nil
}

// WaitIdle runs the idle hook until every queued block has executed
func (m *Manager) WaitIdle(ctx context.Context) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	for !m.IsIdle() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if m.queue.Halted() {
			return planner.ErrEmergencyStop
		}
		m.idle()
	}
	return nil
}

// IsIdle reports whether nothing is queued or executing
func (m *Manager) IsIdle() bool {
	if !m.initialized {
		return true
	}
	return m.queue.IsEmpty() && m.executor.IsIdle()
}

// SetLeveling turns mesh correction on or off for subsequent moves. It
// cannot be enabled before the mesh is calibrated.
func (m *Manager) SetLeveling(on bool) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if on == m.leveling {
		return nil
	}
	if on && !m.mesh.Valid() {
		return leveling.ErrMeshInvalid
	}
	m.leveling = on
	// The motors stay put; only the logical height seen by callers changes
	if on {
		m.logical = m.transform.Uncorrect(m.planner.Position())
	} else {
		m.logical = m.planner.Position()
	}
	core.DebugPrintln("[MOTION] leveling " + onOff(on))
	return nil
}

// LevelingActive reports whether new moves are mesh corrected
func (m *Manager) LevelingActive() bool {
	return m.leveling
}

// Mesh returns the bed mesh
func (m *Manager) Mesh() *leveling.Mesh {
	return m.mesh
}

// Calibrate probes the full mesh. Leveling is switched off first and comes
// back on only when the machine config asks for it.
func (m *Manager) Calibrate(ctx context.Context, p leveling.Prober) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if err := m.SetLeveling(false); err != nil {
		return err
	}
	if err := leveling.Calibrate(ctx, p, m.mesh); err != nil {
		return err
	}
	st := m.mesh.Stats()
	core.DebugPrintln("[MOTION] mesh calibrated, range=" + core.FormatMilli(st.Range))
	return m.autoLevel()
}

// autoLevel enables leveling for a freshly valid mesh if configured to
func (m *Manager) autoLevel() error {
	if !m.config.Leveling || !m.mesh.Valid() {
		return nil
	}
	return m.SetLeveling(true)
}

// SaveMesh serialises the mesh for persistent storage
func (m *Manager) SaveMesh() ([]byte, error) {
	if !m.initialized {
		return nil, ErrNotInitialized
	}
	return leveling.EncodeMesh(m.mesh)
}

// LoadMesh restores a mesh saved by SaveMesh. Refused while leveling is
// active, since the current position would silently shift. With
// MachineConfig.Leveling set, leveling is enabled afterwards.
func (m *Manager) LoadMesh(blob []byte) error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if m.leveling {
		return ErrLevelingActive
	}
	if err := leveling.DecodeMesh(blob, m.mesh); err != nil {
		return err
	}
	return m.autoLevel()
}

// Abort discards all queued and executing motion and resynchronises the
// planner with wherever the motors stopped
func (m *Manager) Abort() {
	if !m.initialized {
		return
	}
	m.executor.Abort()
	m.resync()
}

// EmergencyStop de-energises the motors and rejects new moves until
// ClearFault
func (m *Manager) EmergencyStop() {
	if !m.initialized {
		return
	}
	m.executor.EmergencyStop()
	m.running = false
}

// ClearFault recovers from an emergency stop or stall. The position is
// taken from the step counts at the time of the stop.
func (m *Manager) ClearFault() error {
	if !m.initialized {
		return ErrNotInitialized
	}
	if err := m.executor.ClearFault(); err != nil {
		return err
	}
	m.resync()
	m.running = true
	return nil
}

// Fault returns the latched executor fault
func (m *Manager) Fault() stepgen.Fault {
	if !m.initialized {
		return stepgen.FaultNone
	}
	return m.executor.Fault()
}

func (m *Manager) resync() {
	m.planner.Sync(m.executor.Position())
	m.logical = m.planner.Position()
	if m.leveling {
		m.logical = m.transform.Uncorrect(m.logical)
	}
}

// SetBlockObserver forwards fn to the executor; see Executor.SetBlockObserver
func (m *Manager) SetBlockObserver(fn func(planner.BlockInfo)) {
	if m.executor != nil {
		m.executor.SetBlockObserver(fn)
	}
}

// Blocks returns the blocks currently queued
func (m *Manager) Blocks() []planner.BlockInfo {
	if !m.initialized {
		return nil
	}
	return m.queue.Snapshot()
}

// GetState returns the current machine state
func (m *Manager) GetState() *standalone.MachineState {
	if !m.initialized {
		return nil
	}
	snap := m.executor.Snapshot()
	pos := m.kinematics.CalcPosition(snap.Steps)
	if m.leveling {
		pos = m.transform.Uncorrect(pos)
	}
	fill := m.queue.Len()
	return &standalone.MachineState{
		Position:        pos,
		PlannedPosition: m.logical,
		BufferFill:      fill,
		BufferCapacity:  m.queue.Capacity(),
		Moving:          fill > 0 || snap.BlockSeq != 0,
		Phase:           snap.Phase.String(),
		LevelingActive:  m.leveling,
		Fault:           snap.Fault.String(),
		BlocksExecuted:  snap.BlocksDone,
	}
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
