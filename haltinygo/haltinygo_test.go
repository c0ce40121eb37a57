//go:build tinygo

package haltinygo

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

// Everything else in this package reaches real machine.Pin/machine.UART
// registers and has no meaningful fake under TinyGo's build, so only the
// pure helper logic is unit-tested here; haltinygo's pin-wiring is
// exercised on hardware, the same division the teacher draws between its
// tmc5160/tmc2209 register math (unit-tested) and its SPI/UART framing
// (not).

func TestDebounceLatchesOnlyAfterEnoughConsistentSamples(t *testing.T) {
	c := qt.New(t)

	count, last := uint8(0), false
	count, last = debounce(true, last, count)
	c.Assert(last, qt.IsTrue)
	c.Assert(count, qt.Equals, uint8(1))

	count, last = debounce(true, last, count)
	count, last = debounce(true, last, count)
	c.Assert(count, qt.Equals, uint8(debounceSamples))
}

func TestDebounceResetsCountOnChange(t *testing.T) {
	c := qt.New(t)

	count, last := uint8(debounceSamples), true
	count, last = debounce(false, last, count)

	c.Assert(last, qt.IsFalse)
	c.Assert(count, qt.Equals, uint8(1))
}

func TestFreqToClocksClampsToConfiguredRange(t *testing.T) {
	c := qt.New(t)
	b := &Board{}

	_, clampedLow := b.FreqToClocks(0)
	c.Assert(clampedLow, qt.IsTrue)

	_, clampedHigh := b.FreqToClocks(1_000_000)
	c.Assert(clampedHigh, qt.IsTrue)

	period, clamped := b.FreqToClocks(1000)
	c.Assert(clamped, qt.IsFalse)
	c.Assert(period, qt.Equals, uint32(1000))
}
