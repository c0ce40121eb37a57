// Package halsim is a deterministic, in-memory hal.Board used by every
// test in this repository and by cmd/gocncsim. It is the host-portable
// analogue of original_source's mcus/virtual/mcu_virtual.c: a VIRTUAL_MAP
// register bank standing in for real pins, plus goroutine-driven timers
// standing in for the step/reset ISR pair.
package halsim

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocnc/core/hal"
)

// Board is the virtual machine. Zero value is not usable; use New.
type Board struct {
	mu sync.Mutex

	steps hal.StepBits
	dirs  hal.StepBits

	outputs uint32
	pwm     [8]uint8

	controls atomic.Uint32
	limits   atomic.Uint32
	probe    atomic.Bool

	irqEnabled atomic.Bool

	timer      *time.Timer
	timerMu    sync.Mutex
	period     uint32
	stepFn     hal.StepISR
	resetFn    hal.ResetISR
	stepActive bool

	uart   *UART
	eeprom *EEPROM
}

func New() *Board {
	b := &Board{
		uart:   newUART(),
		eeprom: newEEPROM(1024),
	}
	b.irqEnabled.Store(true)
	return b
}

func (b *Board) SetSteps(mask hal.StepBits) {
	b.mu.Lock()
	b.steps = mask
	b.mu.Unlock()
}

func (b *Board) SetDirs(mask hal.StepBits) {
	b.mu.Lock()
	b.dirs = mask
	b.mu.Unlock()
}

// Steps returns the last-written step bitmask, for tests to assert on.
func (b *Board) Steps() hal.StepBits {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.steps
}

// Dirs returns the last-written direction bitmask, for tests to assert on.
func (b *Board) Dirs() hal.StepBits {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dirs
}

func (b *Board) SetOutputs(mask uint32) {
	b.mu.Lock()
	b.outputs |= mask
	b.mu.Unlock()
}

func (b *Board) ClearOutputs(mask uint32) {
	b.mu.Lock()
	b.outputs &^= mask
	b.mu.Unlock()
}

func (b *Board) Outputs() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.outputs
}

func (b *Board) SetPWM(channel uint8, duty uint8) {
	b.mu.Lock()
	b.pwm[channel] = duty
	b.mu.Unlock()
}

func (b *Board) GetPWM(channel uint8) uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pwm[channel]
}

func (b *Board) GetControls() uint32 { return b.controls.Load() }
func (b *Board) GetLimits() uint32   { return b.limits.Load() }
func (b *Board) GetProbe() bool      { return b.probe.Load() }

// SetControls/SetLimits/SetProbe let tests assert safety-input behavior
// (door, e-stop, limit switches) without a real pin.
func (b *Board) SetControls(mask uint32) { b.controls.Store(mask) }
func (b *Board) SetLimits(mask uint32)   { b.limits.Store(mask) }
func (b *Board) SetProbe(v bool)         { b.probe.Store(v) }

func (b *Board) EnableInterrupts()  { b.irqEnabled.Store(true) }
func (b *Board) DisableInterrupts() { b.irqEnabled.Store(false) }

func (b *Board) UART() hal.UART     { return b.uart }
func (b *Board) EEPROM() hal.EEPROM { return b.eeprom }

// UARTSim returns the concrete simulated UART so tests can Inject bytes
// and read Sent bytes without a type assertion.
func (b *Board) UARTSim() *UART { return b.uart }

// FreqToClocks maps a step frequency to a simulated tick period in
// microseconds, clamping to [FStepMin, FStepMax].
func (b *Board) FreqToClocks(freqHz float32) (uint32, bool) {
	clamped := false
	if freqHz < hal.FStepMin {
		freqHz = hal.FStepMin
		clamped = true
	}
	if freqHz > hal.FStepMax {
		freqHz = hal.FStepMax
		clamped = true
	}
	return uint32(1000000.0 / freqHz), clamped
}

// StartStepISR begins firing step/reset at period microseconds, looping
// until StopStepISR. Each tick runs step() then reset() at once, with no
// hal.MinPulseWidthMicros wait between them — modeling the paired timer ISRs on a
// single goroutine since tests don't need true hardware concurrency, only
// the same call ordering a real board provides.
func (b *Board) StartStepISR(period uint32, step hal.StepISR, reset hal.ResetISR) {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()
	b.period = period
	b.stepFn = step
	b.resetFn = reset
	b.stepActive = true
	b.scheduleLocked()
}

func (b *Board) scheduleLocked() {
	if !b.stepActive {
		return
	}
	d := time.Duration(b.period) * time.Microsecond
	if d <= 0 {
		d = time.Microsecond
	}
	b.timer = time.AfterFunc(d, b.tick)
}

func (b *Board) tick() {
	b.timerMu.Lock()
	if !b.stepActive {
		b.timerMu.Unlock()
		return
	}
	step, reset := b.stepFn, b.resetFn
	b.timerMu.Unlock()

	if step != nil {
		step()
	}
	if reset != nil {
		reset()
	}

	b.timerMu.Lock()
	b.scheduleLocked()
	b.timerMu.Unlock()
}

func (b *Board) ChangeStepISR(period uint32) {
	b.timerMu.Lock()
	b.period = period
	b.timerMu.Unlock()
}

func (b *Board) StopStepISR() {
	b.timerMu.Lock()
	b.stepActive = false
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timerMu.Unlock()
}
