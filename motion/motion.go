// Package motion is the motion-control shim (spec §4.6): it turns a
// parsed, tool-space move request into one planner block, applying the
// kinematics transform and the soft-limit check ahead of the planner's
// own ring and junction-speed logic.
package motion

import (
	"github.com/orsinium-labs/tinymath"

	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/planner"
	"github.com/gocnc/core/settings"
	"github.com/gocnc/core/status"
)

// secPerMin converts a mm/min feed word (the G-code convention the
// parser hands this shim) to the mm/s the planner's math expects.
const secPerMin = 1.0 / 60.0

// Kinematics maps a tool-space target to an actuator-space one
// (Cartesian to actuator coordinates); out of scope per spec §1, the
// parser/kinematics layer is an external collaborator injected here.
type Kinematics interface {
	ToActuator(toolTarget [hal.AxisCount]float32) [hal.AxisCount]float32
}

// Shim is the C7 motion-control entry point: one instance sits between
// the parser and the planner.
type Shim struct {
	pl          *planner.Planner
	getSettings func() settings.Settings
	kinematics  Kinematics
}

func New(pl *planner.Planner, getSettings func() settings.Settings, kinematics Kinematics) *Shim {
	return &Shim{pl: pl, getSettings: getSettings, kinematics: kinematics}
}

// Position returns the planner's last queued target, the baseline a
// caller building an incremental or partially-specified move (e.g. an
// "X10" line leaving Y/Z unchanged) should start from.
func (m *Shim) Position() [hal.AxisCount]float32 {
	return m.pl.GetPosition()
}

// Dwell enqueues a NOMOTION block that the interpolator treats as a
// pure delay of seconds, e.g. G4 Pn.
func (m *Shim) Dwell(seconds float32) error {
	return m.pl.AddLine(m.pl.GetPosition(), m.getSettings(), planner.BlockData{
		Dwell:      seconds,
		MotionMode: planner.MotionNoMotion,
	})
}

// Move receives (target, feed, spindle) from the parser (spec §4.6) and
// always enqueues a linear move: it transforms target through kinematics, soft-limit
// checks the actuator-space result, then calls planner.AddLine.
// feedMMPerMin is the G-code feed word (mm/min); spindleSignedRPM's
// sign selects direction and magnitude is RPM.
func (m *Shim) Move(toolTarget [hal.AxisCount]float32, feedMMPerMin, spindleSignedRPM float32) error {
	set := m.getSettings()

	target := toolTarget
	if m.kinematics != nil {
		target = m.kinematics.ToActuator(toolTarget)
	}

	if set.SoftLimitsEnabled {
		if err := m.checkSoftLimits(target, set); err != nil {
			return err
		}
	}

	current := m.pl.GetPosition()
	var dir [hal.AxisCount]float32
	var distSqr float32
	for i := 0; i < hal.AxisCount; i++ {
		dir[i] = target[i] - current[i]
		distSqr += dir[i] * dir[i]
	}

	return m.pl.AddLine(target, set, planner.BlockData{
		DirVect:    dir,
		Distance:   tinymath.Sqrt(distSqr),
		Feed:       feedMMPerMin * secPerMin,
		Spindle:    spindleSignedRPM,
		MotionMode: planner.MotionLinear,
	})
}

// checkSoftLimits ports the spec's "fails with STATUS_SOFT_LIMIT_ERROR
// if configured and outside work envelope". original_source's
// motion-control source wasn't part of the retrieved pack, so the
// envelope is resolved here as the symmetric box [-MaxTravel, MaxTravel]
// per axis around the homed origin — the simplest convention consistent
// with settings.MaxTravel being a single positive bound per axis rather
// than a pair of min/max limits.
func (m *Shim) checkSoftLimits(target [hal.AxisCount]float32, set settings.Settings) error {
	for i := 0; i < hal.AxisCount; i++ {
		if target[i] > set.MaxTravel[i] || target[i] < -set.MaxTravel[i] {
			return status.New(status.SoftLimitError)
		}
	}
	return nil
}
