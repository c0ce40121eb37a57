// Package io classifies raw board pin reads into the logical input sets
// the rest of the core consumes — limits, safety/control inputs, probe —
// applying per-bit inversion from settings, and exposes the output
// setters for spindle PWM, coolant, and direction lines (spec §4.2).
package io

import (
	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/settings"
)

// Control input bits, independent of AxisCount (not every safety input
// is per-axis).
const (
	ControlEStop = hal.ControlEStop
	ControlDoor  = hal.ControlSafetyDoor
	ControlHold  = hal.ControlFeedHold
	ControlCycleStart = hal.ControlCycleStart

	ControlsMask = ControlEStop | ControlDoor | ControlHold | ControlCycleStart
)

// Limit bits: two per axis (min/max), packed low-to-high by axis index.
func limitMinBit(axis int) uint32 { return 1 << uint(2*axis) }
func limitMaxBit(axis int) uint32 { return 1 << uint(2*axis+1) }

// LimitsMask covers every axis's min/max pair for hal.AxisCount axes.
var LimitsMask = func() uint32 {
	var m uint32
	for i := 0; i < hal.AxisCount; i++ {
		m |= limitMinBit(i) | limitMaxBit(i)
	}
	return m
}()

// Output bits for the aggregate digital-output word (SetOutputs/ClearOutputs).
const (
	OutputSpindleDir = 1 << iota
	OutputCoolantFlood
	OutputCoolantMist
)

// SpindlePWMChannel is the board PWM channel wired to the spindle.
const SpindlePWMChannel = 0

// Controller classifies hal.Board reads through a live settings record
// and exposes the output setters the supervisor and motion layers use.
// It mirrors the aggregate output word itself, since hal.Board does not
// require output read-back (most real hardware has none cheaply).
type Controller struct {
	board       hal.Board
	getSettings func() settings.Settings
	outputs     uint32
}

func New(board hal.Board, getSettings func() settings.Settings) *Controller {
	return &Controller{board: board, getSettings: getSettings}
}

// GetControls returns the debounced, invert-applied control input mask.
func (c *Controller) GetControls() uint32 {
	s := c.getSettings()
	return c.board.GetControls() ^ s.ControlsInvertMask
}

// GetLimits returns the debounced, invert-applied limit input mask.
func (c *Controller) GetLimits() uint32 {
	s := c.getSettings()
	return c.board.GetLimits() ^ s.LimitsInvertMask
}

// GetProbe returns the invert-applied probe contact state.
func (c *Controller) GetProbe() bool {
	s := c.getSettings()
	v := c.board.GetProbe()
	if s.ProbeInvert {
		return !v
	}
	return v
}

func (c *Controller) SetOutputs(mask uint32) {
	c.outputs |= mask
	c.board.SetOutputs(mask)
}

func (c *Controller) ClearOutputs(mask uint32) {
	c.outputs &^= mask
	c.board.ClearOutputs(mask)
}

func (c *Controller) SetPWM(channel uint8, duty uint8) { c.board.SetPWM(channel, duty) }
func (c *Controller) GetPWM(channel uint8) uint8       { return c.board.GetPWM(channel) }

// SetSpindle drives the spindle direction output and PWM duty from a
// signed speed and a pre-computed 0-255 duty (planner.SpindlePWM).
func (c *Controller) SetSpindle(signedSpeed float32, duty uint8) {
	if signedSpeed >= 0 {
		c.ClearOutputs(OutputSpindleDir)
	} else {
		c.SetOutputs(OutputSpindleDir)
	}
	c.SetPWM(SpindlePWMChannel, duty)
}

// StopSpindle kills PWM and direction output (used on cnc_stop/E-stop).
func (c *Controller) StopSpindle() {
	c.SetPWM(SpindlePWMChannel, 0)
	c.ClearOutputs(OutputSpindleDir)
}

// StopCoolant clears both coolant outputs (used on cnc_stop).
func (c *Controller) StopCoolant() {
	c.ClearOutputs(OutputCoolantFlood | OutputCoolantMist)
}

// ToggleCoolant flips one coolant output bit (flood or mist), used by the
// RT_CMD_COOL_*_TOGGLE handlers.
func (c *Controller) ToggleCoolant(bit uint32) {
	if c.outputs&bit != 0 {
		c.ClearOutputs(bit)
	} else {
		c.SetOutputs(bit)
	}
}

// PWMOn reports whether the given PWM channel currently has nonzero
// duty, used by the RT_CMD_SPINDLE_TOGGLE handler.
func (c *Controller) PWMOn(channel uint8) bool {
	return c.board.GetPWM(channel) != 0
}
