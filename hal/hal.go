// Package hal specifies the contract the motion core expects from a board
// support package: pin I/O, step/reset ISR scheduling, the UART byte path
// and EEPROM byte access (spec §4.7). The core never talks to silicon
// directly — it only ever holds a Board and calls through it, so the same
// planner/interpolator/supervisor code drives halsim in tests and a real
// board under haltinygo.
package hal

// AxisCount is the compile-time axis width. Runtime axis-count
// reconfiguration is an explicit non-goal.
const AxisCount = 4

// Axis is a fixed-size ordered tuple of per-axis values.
type Axis [AxisCount]float32

// StepBits is a bit-per-actuator mask, width >= AxisCount.
type StepBits uint8

// Control and limit bit positions, independent of AxisCount since not
// every control input is per-axis.
const (
	ControlEStop = 1 << iota
	ControlSafetyDoor
	ControlFeedHold
	ControlCycleStart
)

// StepISR and ResetISR are the two timer callbacks that make up one step
// pulse cycle (spec §4.4 "Pulse generation"). The interpolator installs
// these via Board.StartStepISR and the board invokes them from its own
// hardware timers (or, under halsim, from a goroutine-driven timer).
type StepISR func()
type ResetISR func()

// Board is the hardware abstraction the motion core consumes. A board
// implementation (halsim, haltinygo) owns no motion logic of its own.
type Board interface {
	// Step/direction outputs, written together so setup-time ordering
	// (direction before step) is the caller's responsibility, not a race
	// between two separate writes.
	SetSteps(mask StepBits)
	SetDirs(mask StepBits)

	// Aggregate digital outputs (spindle direction, coolant, etc).
	SetOutputs(mask uint32)
	ClearOutputs(mask uint32)
	SetPWM(channel uint8, duty uint8)
	GetPWM(channel uint8) uint8

	// Debounced, invert-applied input masks.
	GetControls() uint32
	GetLimits() uint32
	GetProbe() bool

	// Programs the paired step/reset timer. period is in clock ticks as
	// returned by FreqToClocks; ChangeStepISR reprograms an already
	// running timer without a stop/start glitch.
	StartStepISR(period uint32, step StepISR, reset ResetISR)
	ChangeStepISR(period uint32)
	StopStepISR()

	// FreqToClocks converts a target step frequency to a timer period,
	// clamping to [FStepMin, FStepMax] and reporting whether it clamped.
	FreqToClocks(freqHz float32) (period uint32, clamped bool)

	EnableInterrupts()
	DisableInterrupts()

	UART() UART
	EEPROM() EEPROM
}

// UART is the byte-level serial transport. Reader/Writer callbacks are
// registered once at startup; the board invokes RXCallback from its own
// receive interrupt and pulls bytes via TXCallback from its send-ready
// interrupt.
type UART interface {
	Putc(c byte)
	StartSend()
	Getc() (byte, bool)
	Peek() (byte, bool)
	SetRXCallback(func(c byte))
	SetTXCallback(func() (byte, bool))
}

// EEPROM is blocking, byte-granular persistent storage.
type EEPROM interface {
	Get(addr uint16) byte
	Put(addr uint16, b byte)
}

// Step frequency bounds shared by every board implementation's
// FreqToClocks (spec §4.4).
const (
	FStepMin float32 = 4
	FStepMax float32 = 64000
)

// MinPulseWidthMicros is the nominal step-line assert duration before
// step_reset_isr deasserts it (spec §4.4 "Pulse generation"), typically
// 1-10us. Neither halsim nor haltinygo waits on it: both run the reset
// callback straight after the step callback.
const MinPulseWidthMicros = 4
