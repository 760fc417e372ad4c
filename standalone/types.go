package standalone

// Axis indices, in the order used by every per-axis array
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisE
	NumAxes
)

// AxisNames maps axis indices to configuration keys
var AxisNames = [NumAxes]string{"x", "y", "z", "e"}

// Position represents a position in machine coordinates
type Position struct {
	X float64
	Y float64
	Z float64
	E float64 // Extruder
}

// Array returns the position indexed by axis
func (p Position) Array() [NumAxes]float64 {
	return [NumAxes]float64{p.X, p.Y, p.Z, p.E}
}

// PositionFromArray is the inverse of Array
func PositionFromArray(a [NumAxes]float64) Position {
	return Position{X: a[AxisX], Y: a[AxisY], Z: a[AxisZ], E: a[AxisE]}
}

// Lerp interpolates every axis between p (t=0) and q (t=1)
func (p Position) Lerp(q Position, t float64) Position {
	return Position{
		X: p.X + (q.X-p.X)*t,
		Y: p.Y + (q.Y-p.Y)*t,
		Z: p.Z + (q.Z-p.Z)*t,
		E: p.E + (q.E-p.E)*t,
	}
}

// JunctionMode selects the cornering speed policy
type JunctionMode string

const (
	JunctionClassicJerk JunctionMode = "jerk"
	JunctionDeviation   JunctionMode = "deviation"
)

// AxisConfig represents configuration for a single axis
type AxisConfig struct {
	StepPin      string  // GPIO pin for step pulses
	DirPin       string  // GPIO pin for direction
	EnablePin    string  // GPIO pin for enable (optional)
	StepsPerMM   float64 // Steps per millimeter
	MaxVelocity  float64 // Maximum velocity (mm/s)
	MaxAccel     float64 // Maximum acceleration (mm/s^2)
	MaxJerk      float64 // Instantaneous velocity change allowed at a corner (mm/s)
	MinPosition  float64 // Minimum position (mm)
	MaxPosition  float64 // Maximum position (mm)
	InvertStep   bool    // Invert step signal
	InvertDir    bool    // Invert direction signal
	InvertEnable bool    // Invert enable signal
}

// MeshConfig describes the calibration grid for bed leveling
type MeshConfig struct {
	MinX   float64
	MinY   float64
	MaxX   float64
	MaxY   float64
	CountX int // Probe points along X (>= 2)
	CountY int // Probe points along Y (>= 2)
}

// MachineConfig represents the complete machine configuration
type MachineConfig struct {
	Mode       string                // "standalone"
	Kinematics string                // "cartesian"
	Axes       map[string]AxisConfig // "x", "y", "z", "e"

	// Global motion parameters
	DefaultVelocity   float64      // Default feedrate (mm/s)
	DefaultAccel      float64      // Default acceleration (mm/s^2)
	JunctionMode      JunctionMode // Cornering policy
	JunctionDeviation float64      // Junction deviation for cornering (mm)
	MinPlannerSpeed   float64      // Lowest junction/exit speed (mm/s)

	// Step generation
	StepperBackend   string // "pio", "sio" or "gpio"; board support may ignore it
	BlockBufferSize  int    // Planner ring capacity (power of two)
	MinStepRate      uint32 // Slowest step rate the executor emits (steps/s)
	MaxStepRate      uint32 // Fastest step rate the executor may request (steps/s)
	MinIntervalTicks uint32 // Interrupt servicing floor (step-timer ticks)
	MaxIntervalTicks uint32 // Longest representable interval (step-timer ticks)
	MaxLateTicks     uint32 // Tolerated interrupt lateness before a stall trips

	// Bed leveling
	Mesh     MeshConfig
	Leveling bool // Enable correction after a successful calibrate or mesh load
}

// MachineState is the read-only motion snapshot served to status reports
type MachineState struct {
	Position        Position // Executed position derived from step counts
	PlannedPosition Position // Last position accepted by the planner
	BufferFill      int      // Blocks waiting or executing
	BufferCapacity  int      // Usable ring slots
	Moving          bool     // A block is executing or queued
	Phase           string   // Executor phase
	LevelingActive  bool     // Mesh correction applied to new moves
	Fault           string   // Latched emergency-stop reason, empty when healthy
	BlocksExecuted  uint32   // Blocks completed since start
}
