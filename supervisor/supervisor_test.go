package supervisor_test

import (
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/halsim"
	"github.com/gocnc/core/interpolator"
	ioctl "github.com/gocnc/core/io"
	"github.com/gocnc/core/planner"
	"github.com/gocnc/core/settings"
	"github.com/gocnc/core/status"
	"github.com/gocnc/core/supervisor"
)

type fakeReporter struct {
	messages []string
	alarms   []status.Alarm
	statuses []supervisor.StatusSnapshot
}

func (f *fakeReporter) SendMessage(text string)              { f.messages = append(f.messages, text) }
func (f *fakeReporter) SendAlarm(code status.Alarm)           { f.alarms = append(f.alarms, code) }
func (f *fakeReporter) SendStatus(s supervisor.StatusSnapshot) { f.statuses = append(f.statuses, s) }

type fakeHoming struct {
	err error
}

func (f *fakeHoming) Home(s settings.Settings) error { return f.err }

func testSettings() settings.Settings {
	s := settings.Default()
	for i := 0; i < hal.AxisCount; i++ {
		s.StepsPerMM[i] = 100
		s.MaxFeedRate[i] = 6000
		s.Acceleration[i] = 2000
	}
	return s
}

type fixture struct {
	board    *halsim.Board
	pl       *planner.Planner
	itp      *interpolator.Interpolator
	io       *ioctl.Controller
	reporter *fakeReporter
	homing   *fakeHoming
	sup      *supervisor.Supervisor
	settings settings.Settings
}

func newFixture(homingEnabled bool) *fixture {
	s := testSettings()
	s.HomingEnabled = homingEnabled
	board := halsim.New()
	pl := planner.New(nil)
	itp := interpolator.New(board, pl, func() settings.Settings { return s })
	pl.SetInterpolatorUpdater(itp)
	io := ioctl.New(board, func() settings.Settings { return s })
	rep := &fakeReporter{}
	hom := &fakeHoming{}
	sup := supervisor.New(board, io, pl, itp, func() settings.Settings { return s }, hom, rep)
	return &fixture{board: board, pl: pl, itp: itp, io: io, reporter: rep, homing: hom, sup: sup, settings: s}
}

func TestResetWithHomingEnabledLeavesAlarmLockedNoHome(t *testing.T) {
	c := qt.New(t)
	f := newFixture(true)

	c.Assert(f.sup.Has(supervisor.FlagAlarm), qt.IsTrue)
	c.Assert(f.sup.Has(supervisor.FlagLocked), qt.IsTrue)
	c.Assert(f.sup.Has(supervisor.FlagNoHome), qt.IsTrue)
}

func TestResetWithHomingDisabledBootsReady(t *testing.T) {
	c := qt.New(t)
	f := newFixture(false)

	c.Assert(f.sup.Has(supervisor.FlagAlarm), qt.IsFalse)
	c.Assert(f.sup.Has(supervisor.FlagLocked), qt.IsFalse)
	c.Assert(f.sup.Has(supervisor.FlagNoHome), qt.IsFalse)
}

func TestUnlockClearsAlarmWhenNoRootCauseHeld(t *testing.T) {
	c := qt.New(t)
	f := newFixture(true)

	err := f.sup.Unlock()
	c.Assert(err, qt.IsNil)
	c.Assert(f.sup.Has(supervisor.FlagAlarm), qt.IsFalse)
	c.Assert(f.sup.Has(supervisor.FlagLocked), qt.IsFalse)
}

func TestUnlockCannotMaskLiveEStop(t *testing.T) {
	c := qt.New(t)
	f := newFixture(true)
	f.board.SetControls(ioctl.ControlEStop)

	err := f.sup.Unlock()
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(f.sup.Has(supervisor.FlagAlarm), qt.IsTrue)
}

func TestRTResetLatchesAbortAndEmitsAlarmOnNextInterlockCheck(t *testing.T) {
	c := qt.New(t)
	f := newFixture(false)

	f.sup.LatchRTCommand(supervisor.RTReset)
	err := f.sup.DoEvents()
	c.Assert(err, qt.IsNil)
	c.Assert(f.sup.Has(supervisor.FlagAbort), qt.IsTrue)
	c.Assert(f.reporter.alarms, qt.HasLen, 1)
	c.Assert(f.reporter.alarms[0], qt.Equals, status.AlarmReset)

	// A second DoEvents cycle must not re-emit the same alarm.
	c.Assert(f.sup.DoEvents(), qt.IsNil)
	c.Assert(f.reporter.alarms, qt.HasLen, 1)
}

func TestLimitTripWithoutHomingRaisesHardLimitAlarm(t *testing.T) {
	c := qt.New(t)
	f := newFixture(false)
	f.board.SetLimits(1)

	// First cycle latches ABORT via the LIMITS branch; the alarm message
	// itself is only emitted on the next interlock check that observes
	// ABORT (spec's propagation policy: "emitted once, on the next
	// interlock check that sees ABORT").
	c.Assert(f.sup.DoEvents(), qt.IsNil)
	c.Assert(f.sup.Has(supervisor.FlagAbort), qt.IsTrue)
	c.Assert(f.reporter.alarms, qt.HasLen, 0)

	c.Assert(f.sup.DoEvents(), qt.IsNil)
	c.Assert(f.reporter.alarms, qt.HasLen, 1)
	c.Assert(f.reporter.alarms[0], qt.Equals, status.AlarmHardLimit)
}

func TestFeedHoldDuringRunAllowsDecelerationToContinue(t *testing.T) {
	c := qt.New(t)
	f := newFixture(false)

	c.Assert(f.pl.AddLine([hal.AxisCount]float32{50}, f.settings, planner.BlockData{
		DirVect:    [hal.AxisCount]float32{1},
		Distance:   50,
		Feed:       40,
		MotionMode: planner.MotionLinear,
	}), qt.IsNil)

	c.Assert(f.sup.DoEvents(), qt.IsNil)
	c.Assert(f.sup.Has(supervisor.FlagRun), qt.IsTrue)

	f.sup.LatchRTCommand(supervisor.RTFeedHold)
	c.Assert(f.sup.DoEvents(), qt.IsNil)
	c.Assert(f.sup.Has(supervisor.FlagHold), qt.IsTrue)
	// Still RUN: interlock must not stop a block already decelerating.
	c.Assert(f.sup.Has(supervisor.FlagRun), qt.IsTrue)
}

func TestSafetyDoorWhileIdleStopsSpindleWithoutFlushingQueue(t *testing.T) {
	c := qt.New(t)
	f := newFixture(false)
	f.board.SetPWM(ioctl.SpindlePWMChannel, 200)

	c.Assert(f.pl.AddLine([hal.AxisCount]float32{1}, f.settings, planner.BlockData{
		DirVect:    [hal.AxisCount]float32{1},
		Distance:   1,
		Feed:       10,
		MotionMode: planner.MotionLinear,
	}), qt.IsNil)

	f.sup.LatchRTCommand(supervisor.RTSafetyDoor)
	c.Assert(f.sup.DoEvents(), qt.IsNil)

	c.Assert(f.sup.Has(supervisor.FlagDoor), qt.IsTrue)
	c.Assert(f.sup.Has(supervisor.FlagHold), qt.IsTrue)
	// Not homing or jogging: the queued block survives the door trip,
	// ready to resume once the door closes and cycle-start is pressed.
	c.Assert(f.pl.IsEmpty(), qt.IsFalse)
	c.Assert(f.board.GetPWM(ioctl.SpindlePWMChannel), qt.Equals, uint8(0))
}

func TestSafetyDoorDuringJogFlushesQueue(t *testing.T) {
	c := qt.New(t)
	f := newFixture(false)

	c.Assert(f.pl.AddLine([hal.AxisCount]float32{1}, f.settings, planner.BlockData{
		DirVect:    [hal.AxisCount]float32{1},
		Distance:   1,
		Feed:       10,
		MotionMode: planner.MotionLinear,
	}), qt.IsNil)
	f.sup.BeginJog()

	f.sup.LatchRTCommand(supervisor.RTSafetyDoor)
	c.Assert(f.sup.DoEvents(), qt.IsNil)

	c.Assert(f.sup.Has(supervisor.FlagJog), qt.IsFalse)
	c.Assert(f.sup.Has(supervisor.FlagHold), qt.IsFalse)
	c.Assert(f.pl.IsEmpty(), qt.IsTrue)
}

func TestCoolantToggleRejectedWhileAlarmed(t *testing.T) {
	c := qt.New(t)
	f := newFixture(true) // boots with FlagAlarm set

	f.sup.LatchRTCommand(supervisor.RTCoolantFloodToggle)
	c.Assert(f.sup.DoEvents(), qt.IsNil)
	c.Assert(f.board.Outputs()&ioctl.OutputCoolantFlood, qt.Equals, uint32(0))
}

func TestHomeSuccessClearsNoHomeAndLocked(t *testing.T) {
	c := qt.New(t)
	f := newFixture(true)

	err := f.sup.Home()
	c.Assert(err, qt.IsNil)
	c.Assert(f.sup.Has(supervisor.FlagNoHome), qt.IsFalse)
	c.Assert(f.sup.Has(supervisor.FlagLocked), qt.IsFalse)
	c.Assert(f.sup.Has(supervisor.FlagHoming), qt.IsFalse)
}

func TestHomeFailureRaisesAlarmAndLeavesNoHome(t *testing.T) {
	c := qt.New(t)
	f := newFixture(true)
	f.homing.err = status.New(status.SoftLimitError)

	err := f.sup.Home()
	c.Assert(err, qt.Not(qt.IsNil))
	c.Assert(f.sup.Has(supervisor.FlagHoming), qt.IsFalse)
	c.Assert(f.sup.Has(supervisor.FlagAlarm), qt.IsTrue)
	c.Assert(f.sup.Has(supervisor.FlagNoHome), qt.IsTrue)
}

func TestSpindleOverrideIncrementClampsAndUpdatesSpindle(t *testing.T) {
	c := qt.New(t)
	f := newFixture(false)

	for i := 0; i < 25; i++ {
		f.sup.LatchRTCommand(supervisor.RTSpindleOvrCoarsePlus)
		c.Assert(f.sup.DoEvents(), qt.IsNil)
	}
	c.Assert(f.pl.Overrides().SpindlePct, qt.Equals, uint8(200))
}
