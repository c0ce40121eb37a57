//go:build tinygo

// Package haltinygo is the real-hardware hal.Board, wiring the motion
// core to TinyGo's machine package: machine.Pin for step/dir/output/limit/
// control lines, machine.PWM for spindle/coolant duty cycles, and a
// goroutine-driven timer standing in for the paired step/reset ISR the
// same way halsim does, since TinyGo boards don't expose a uniform
// hardware timer-interrupt API across targets.
package haltinygo

import (
	"machine"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gocnc/core/hal"
)

// pollInterval is how often control/limit/probe pins are sampled and
// debounced.
const pollInterval = 500 * time.Microsecond

// debounceSamples is the number of consecutive identical polls a raw
// pin reading must hold before it's latched into the debounced mask
// GetControls/GetLimits/GetProbe reports.
const debounceSamples = 3

// Pins is the board-specific wiring handed to New; every slice is
// indexed by the hal bit position it backs (Output/PWM by output bit,
// Control by the hal.ControlEStop.../iota order, Limit/Step/Dir by
// axis index).
type Pins struct {
	Step  [hal.AxisCount]machine.Pin
	Dir   [hal.AxisCount]machine.Pin
	Limit [hal.AxisCount]machine.Pin

	// Output and PWM are parallel: Output[i] backs output bit i;
	// PWM[i] is the PWM peripheral driving that same bit's duty cycle,
	// or nil if the bit is digital-only.
	Output []machine.Pin
	PWM    []machine.PWM

	Control [4]machine.Pin // EStop, SafetyDoor, FeedHold, CycleStart, in hal.Control* order
	Probe   machine.Pin

	// Invert* flip a pin's electrical sense (e.g. active-low limit
	// switches) before it's folded into the debounced mask.
	InvertLimit   [hal.AxisCount]bool
	InvertControl [4]bool
	InvertProbe   bool
}

// Board drives the pins described by Pins. Zero value is not usable;
// use New.
type Board struct {
	pins Pins

	mu    sync.Mutex
	steps hal.StepBits
	dirs  hal.StepBits

	controls atomic.Uint32
	limits   atomic.Uint32
	probe    atomic.Bool
	stop     chan struct{}

	irqEnabled atomic.Bool

	timerMu    sync.Mutex
	period     uint32
	stepFn     hal.StepISR
	resetFn    hal.ResetISR
	stepActive bool

	uart   *UART
	eeprom *EEPROM
}

// New configures every pin in pins for its role and starts the
// control/limit/probe debounce poller. store backs the returned
// board's EEPROM; pass nil to use an in-memory region (see eeprom.go).
func New(uart *machine.UART, pins Pins, store Store) *Board {
	for _, p := range pins.Step {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	for _, p := range pins.Dir {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	for _, p := range pins.Output {
		p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	}
	for _, p := range pins.Limit {
		p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	}
	for _, p := range pins.Control {
		p.Configure(machine.PinConfig{Mode: machine.PinInputPullup})
	}
	pins.Probe.Configure(machine.PinConfig{Mode: machine.PinInputPullup})

	b := &Board{
		pins:   pins,
		stop:   make(chan struct{}),
		uart:   newUART(uart),
		eeprom: newEEPROM(store),
	}
	b.irqEnabled.Store(true)
	go b.pollInputs()
	return b
}

// Close stops the background input-debounce poller; boards are not
// expected to be torn down in normal operation, but tests constructing
// many Boards need this to avoid leaking goroutines.
func (b *Board) Close() {
	close(b.stop)
}

func (b *Board) SetSteps(mask hal.StepBits) {
	b.mu.Lock()
	b.steps = mask
	b.mu.Unlock()
	for i, p := range b.pins.Step {
		setPin(p, mask&(1<<uint(i)) != 0)
	}
}

func (b *Board) SetDirs(mask hal.StepBits) {
	b.mu.Lock()
	b.dirs = mask
	b.mu.Unlock()
	for i, p := range b.pins.Dir {
		setPin(p, mask&(1<<uint(i)) != 0)
	}
}

func (b *Board) SetOutputs(mask uint32) {
	for i, p := range b.pins.Output {
		if mask&(1<<uint(i)) != 0 {
			p.High()
		}
	}
}

func (b *Board) ClearOutputs(mask uint32) {
	for i, p := range b.pins.Output {
		if mask&(1<<uint(i)) != 0 {
			p.Low()
		}
	}
}

func (b *Board) SetPWM(channel uint8, duty uint8) {
	if int(channel) >= len(b.pins.PWM) || b.pins.PWM[channel] == (machine.PWM{}) {
		return
	}
	pwm := b.pins.PWM[channel]
	top, err := pwm.Configure(machine.PWMConfig{})
	if err != nil {
		return
	}
	pwm.Set(0, (top*uint32(duty))/255)
}

func (b *Board) GetPWM(channel uint8) uint8 {
	// Write-only peripheral on every TinyGo target this targets, so this
	// always reads 0: io.Controller.PWMOn, and the supervisor's spindle
	// toggle built on it, see the spindle as off on this board.
	return 0
}

func (b *Board) GetControls() uint32 { return b.controls.Load() }
func (b *Board) GetLimits() uint32   { return b.limits.Load() }
func (b *Board) GetProbe() bool      { return b.probe.Load() }

func (b *Board) EnableInterrupts()  { b.irqEnabled.Store(true) }
func (b *Board) DisableInterrupts() { b.irqEnabled.Store(false) }

func (b *Board) UART() hal.UART     { return b.uart }
func (b *Board) EEPROM() hal.EEPROM { return b.eeprom }

// FreqToClocks maps a step frequency to a tick period in microseconds,
// clamping to [FStepMin, FStepMax] — identical math to halsim's, since
// the goroutine timer both use the same microsecond resolution.
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

func (b *Board) StartStepISR(period uint32, step hal.StepISR, reset hal.ResetISR) {
	b.timerMu.Lock()
	defer b.timerMu.Unlock()
	b.period = period
	b.stepFn = step
	b.resetFn = reset
	if !b.stepActive {
		b.stepActive = true
		go b.runStepTimer()
	}
}

func (b *Board) runStepTimer() {
	for {
		b.timerMu.Lock()
		active := b.stepActive
		period := b.period
		step, reset := b.stepFn, b.resetFn
		b.timerMu.Unlock()
		if !active {
			return
		}

		if !b.irqEnabled.Load() {
			time.Sleep(time.Microsecond)
			continue
		}
		if step != nil {
			step()
		}
		if reset != nil {
			reset()
		}
		d := time.Duration(period) * time.Microsecond
		if d <= 0 {
			d = time.Microsecond
		}
		time.Sleep(d)
	}
}

func (b *Board) ChangeStepISR(period uint32) {
	b.timerMu.Lock()
	b.period = period
	b.timerMu.Unlock()
}

func (b *Board) StopStepISR() {
	b.timerMu.Lock()
	b.stepActive = false
	b.timerMu.Unlock()
}

func (b *Board) pollInputs() {
	var controlCounts [4]uint8
	var controlLast [4]bool
	var limitCounts [hal.AxisCount]uint8
	var limitLast [hal.AxisCount]bool
	var probeCount uint8
	var probeLast bool

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
		}

		var controls, limits uint32
		for i, p := range b.pins.Control {
			raw := p.Get()
			if b.pins.InvertControl[i] {
				raw = !raw
			}
			raw = !raw // pull-up input: switch closed pulls low
			controlCounts[i], controlLast[i] = debounce(raw, controlLast[i], controlCounts[i])
			if controlCounts[i] >= debounceSamples && controlLast[i] {
				controls |= 1 << uint(i)
			}
		}
		for i, p := range b.pins.Limit {
			raw := p.Get()
			if b.pins.InvertLimit[i] {
				raw = !raw
			}
			raw = !raw
			limitCounts[i], limitLast[i] = debounce(raw, limitLast[i], limitCounts[i])
			if limitCounts[i] >= debounceSamples && limitLast[i] {
				limits |= 1 << uint(i)
			}
		}
		rawProbe := b.pins.Probe.Get()
		if b.pins.InvertProbe {
			rawProbe = !rawProbe
		}
		rawProbe = !rawProbe
		probeCount, probeLast = debounce(rawProbe, probeLast, probeCount)

		b.controls.Store(controls)
		b.limits.Store(limits)
		b.probe.Store(probeCount >= debounceSamples && probeLast)
	}
}

func debounce(raw, last bool, count uint8) (uint8, bool) {
	if raw != last {
		return 1, raw
	}
	if count < debounceSamples {
		count++
	}
	return count, last
}

func setPin(p machine.Pin, high bool) {
	if high {
		p.High()
	} else {
		p.Low()
	}
}
