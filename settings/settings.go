// Package settings holds the machine configuration record the planner,
// interpolator and supervisor consult for every motion (spec §6
// "Settings persistence"). Persistent storage is an out-of-scope external
// collaborator (spec §1); this package specifies the Store contract and
// ships one concrete EEPROM-backed implementation.
package settings

import (
	"golang.org/x/exp/constraints"

	"github.com/gocnc/core/hal"
)

// Settings is the full machine configuration record.
type Settings struct {
	StepsPerMM  [hal.AxisCount]float32
	MaxFeedRate [hal.AxisCount]float32 // mm/min
	Acceleration [hal.AxisCount]float32 // mm/s^2
	MaxTravel   [hal.AxisCount]float32 // mm, soft-limit envelope

	HomingEnabled       bool
	HomingDirInvertMask uint8
	HomingOffset        float32
	HomingFastFeedRate  float32 // mm/min

	HardLimitsEnabled bool
	SoftLimitsEnabled bool

	SpindleMaxRPM float32
	SpindleMinRPM float32

	ReportInches bool

	// Per-bit invert masks applied by the io package when classifying raw
	// pin reads into logical control/limit sets (spec §4.2).
	ControlsInvertMask uint32
	LimitsInvertMask   uint32
	ProbeInvert        bool
}

// Default returns a conservative, fully populated default record —
// every field explicit, no zero-value axis that would silently divide
// by zero in the planner.
func Default() Settings {
	var s Settings
	for i := 0; i < hal.AxisCount; i++ {
		s.StepsPerMM[i] = 80
		s.MaxFeedRate[i] = 3000
		s.Acceleration[i] = 500
		s.MaxTravel[i] = 200
	}
	s.HomingEnabled = true
	s.HomingOffset = 2
	s.HomingFastFeedRate = 1000
	s.HardLimitsEnabled = true
	s.SoftLimitsEnabled = true
	s.SpindleMaxRPM = 10000
	s.SpindleMinRPM = 0
	return s
}

// Clamp constrains v into [lo, hi]. Nothing in this package calls it;
// Settings has no setters of its own.
func Clamp[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Store is the out-of-scope persistent-storage collaborator's interface.
type Store interface {
	Load() (Settings, error)
	Save(Settings) error
}
