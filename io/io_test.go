package io_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/gocnc/core/halsim"
	ioctl "github.com/gocnc/core/io"
	"github.com/gocnc/core/settings"
)

func TestGetControlsAppliesInvertMask(t *testing.T) {
	c := qt.New(t)
	board := halsim.New()
	s := settings.Default()
	s.ControlsInvertMask = ioctl.ControlEStop

	ctl := ioctl.New(board, func() settings.Settings { return s })

	board.SetControls(0)
	c.Assert(ctl.GetControls()&ioctl.ControlEStop, qt.Equals, uint32(ioctl.ControlEStop))

	board.SetControls(ioctl.ControlEStop)
	c.Assert(ctl.GetControls()&ioctl.ControlEStop, qt.Equals, uint32(0))
}

func TestGetProbeInvert(t *testing.T) {
	c := qt.New(t)
	board := halsim.New()
	s := settings.Default()
	s.ProbeInvert = true
	ctl := ioctl.New(board, func() settings.Settings { return s })

	board.SetProbe(false)
	c.Assert(ctl.GetProbe(), qt.Equals, true)

	board.SetProbe(true)
	c.Assert(ctl.GetProbe(), qt.Equals, false)
}

func TestToggleCoolantFlipsBit(t *testing.T) {
	c := qt.New(t)
	board := halsim.New()
	s := settings.Default()
	ctl := ioctl.New(board, func() settings.Settings { return s })

	ctl.ToggleCoolant(ioctl.OutputCoolantFlood)
	c.Assert(board.Outputs()&ioctl.OutputCoolantFlood, qt.Equals, uint32(ioctl.OutputCoolantFlood))

	ctl.ToggleCoolant(ioctl.OutputCoolantFlood)
	c.Assert(board.Outputs()&ioctl.OutputCoolantFlood, qt.Equals, uint32(0))
}

func TestSetSpindleSelectsDirectionBySign(t *testing.T) {
	c := qt.New(t)
	board := halsim.New()
	s := settings.Default()
	ctl := ioctl.New(board, func() settings.Settings { return s })

	ctl.SetSpindle(-500, 200)
	c.Assert(board.Outputs()&ioctl.OutputSpindleDir, qt.Equals, uint32(ioctl.OutputSpindleDir))
	c.Assert(board.GetPWM(ioctl.SpindlePWMChannel), qt.Equals, uint8(200))

	ctl.SetSpindle(500, 100)
	c.Assert(board.Outputs()&ioctl.OutputSpindleDir, qt.Equals, uint32(0))
}
