package settings_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/halsim"
	"github.com/gocnc/core/settings"
)

func TestEEPROMRoundTrip(t *testing.T) {
	c := qt.New(t)
	board := halsim.New()
	store := settings.NewEEPROMStore(board.EEPROM())

	want := settings.Default()
	want.StepsPerMM[0] = 320
	want.HomingDirInvertMask = 0b0101
	want.ControlsInvertMask = 0xF0
	want.LimitsInvertMask = 0x0F
	want.ReportInches = true
	want.ProbeInvert = true

	c.Assert(store.Save(want), qt.IsNil)

	got, err := store.Load()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, want)
}

func TestEEPROMLoadDefaultsOnChecksumMismatch(t *testing.T) {
	c := qt.New(t)
	var eeprom hal.EEPROM = halsim.New().EEPROM()
	store := settings.NewEEPROMStore(eeprom)

	// Untouched EEPROM has an all-zero record; its XOR checksum is
	// trivially 0, so Load rejects a blank record and must fall back to
	// defaults.
	got, err := store.Load()
	c.Assert(err, qt.IsNil)
	c.Assert(got, qt.DeepEquals, settings.Default())
}

func TestClamp(t *testing.T) {
	c := qt.New(t)
	c.Assert(settings.Clamp(5, 10, 20), qt.Equals, 10)
	c.Assert(settings.Clamp(25, 10, 20), qt.Equals, 20)
	c.Assert(settings.Clamp(15, 10, 20), qt.Equals, 15)
}
