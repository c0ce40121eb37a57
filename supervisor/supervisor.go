// Package supervisor is the CNC core's state machine: it owns the
// execution-flag bitfield, dispatches latched real-time command bytes,
// runs the interlock check ahead of every interpolator pump, and
// orchestrates homing and alarm/unlock transitions (spec §4.5), ported
// from original_source's cnc.c.
package supervisor

import (
	"sync"
	"sync/atomic"

	"github.com/orsinium-labs/tinymath"

	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/interpolator"
	ioctl "github.com/gocnc/core/io"
	"github.com/gocnc/core/planner"
	"github.com/gocnc/core/settings"
	"github.com/gocnc/core/status"
)

// Flag is one bit of the supervisor's execution state. Bits are
// orthogonal; any subset may be set at once.
type Flag uint32

const (
	FlagRun Flag = 1 << iota
	FlagHold
	FlagJog
	FlagHoming
	FlagDoor
	FlagLimits
	FlagNoHome
	FlagLocked
	FlagAlarm
	FlagAbort
)

// Real-time command bytes. original_source's header defining RT_CMD_*
// byte values wasn't part of the retrieved pack; these are the standard
// Grbl 1.1 real-time command bytes, which every Grbl-speaking host
// already sends.
const (
	RTReport                byte = 0x3F // '?'
	RTReset                 byte = 0x18 // Ctrl-X
	RTSafetyDoor            byte = 0x84
	RTFeedHold              byte = 0x21 // '!'
	RTJogCancel             byte = 0x85
	RTCycleStart            byte = 0x7E // '~'
	RTFeedOvr100            byte = 0x90
	RTFeedOvrCoarsePlus     byte = 0x91
	RTFeedOvrCoarseMinus    byte = 0x92
	RTFeedOvrFinePlus       byte = 0x93
	RTFeedOvrFineMinus      byte = 0x94
	RTRapidOvr100           byte = 0x95
	RTRapidOvr50            byte = 0x96
	RTRapidOvr25            byte = 0x97
	RTSpindleOvr100         byte = 0x99
	RTSpindleOvrCoarsePlus  byte = 0x9A
	RTSpindleOvrCoarseMinus byte = 0x9B
	RTSpindleOvrFinePlus    byte = 0x9C
	RTSpindleOvrFineMinus   byte = 0x9D
	RTSpindleToggle         byte = 0x9E
	RTCoolantFloodToggle    byte = 0xA0
	RTCoolantMistToggle     byte = 0xA1
)

const (
	feedOvrCoarse    = 10
	feedOvrFine      = 1
	spindleOvrCoarse = 10
	spindleOvrFine   = 1

	// delayOnResume is how long CYCLE_START pauses before releasing HOLD,
	// giving a spindle that was stopped for the hold time to spin back up.
	// original_source references DELAY_ON_RESUME without a numeric value;
	// one second is the typical Grbl spindle-restart delay.
	delayOnResume = 100 // centiseconds

	secPerMin = 1.0 / 60.0

	startupBanner = "gocnc 0.1 ['$' for help]\r\n"
)

// Feedback message text, preserved verbatim from original_source's
// grbl_interface.h so a Grbl-speaking host recognizes them unmodified.
const (
	MsgResetToContinue = "[MSG:Reset to continue]\r\n"
	MsgUnlockToContinue = "[MSG:'$H'|'$X' to unlock]\r\n"
	MsgCautionUnlocked = "[MSG:Caution: Unlocked]\r\n"
	MsgCheckDoor        = "[MSG:Check Door]\r\n"
	MsgCheckLimits      = "[MSG:Check Limits]\r\n"
	MsgCheckEStop       = "[MSG:Check Emergency Stop]\r\n"
	MsgRestoringSpindle = "[MSG:Restoring spindle]\r\n"
)

// StatusSnapshot is the state the report package renders into a `<...>`
// status line; the supervisor assembles it from its collaborators so
// report never has to reach back into planner/interpolator itself.
type StatusSnapshot struct {
	State      string
	Position   [hal.AxisCount]float32
	FeedRate   float32
	SpindleRPM float32
	FeedOvr    uint8
	RapidOvr   uint8
	SpindleOvr uint8
}

// Reporter is the line-protocol sink the supervisor writes to (spec §6
// "Line responses"). The report package implements it.
type Reporter interface {
	SendStatus(StatusSnapshot)
	SendMessage(text string)
	SendAlarm(code status.Alarm)
}

// HomingDriver is the out-of-scope kinematics collaborator that actually
// drives axes to their limit switches; the supervisor only orchestrates
// around it (spec §4.5 "invoke kinematics driver").
type HomingDriver interface {
	Home(s settings.Settings) error
}

// Supervisor is the single-instance state machine driving one machine
// (spec REDESIGN FLAGS "global mutable state -> process-wide singleton
// with explicit init, not raw writable globals").
type Supervisor struct {
	flags atomic.Uint32
	// flagMu serializes the read-modify-write flag updates the spec
	// requires be treated as a compound operation (§5); the RX path only
	// ever writes rtCmd, so flags themselves are only ever touched from
	// the single main-loop goroutine in this port, but the mutex keeps
	// the invariant explicit and cheap to enforce.
	flagMu sync.Mutex

	// rtCmd is written by the serial RX path (LatchRTCommand) and
	// read-and-cleared by DoEvents, exactly the single-word
	// producer/consumer handoff spec §5 describes.
	rtCmd atomic.Uint32

	activeAlarm  atomic.Int32
	alarmEmitted atomic.Bool

	board       hal.Board
	io          *ioctl.Controller
	pl          *planner.Planner
	itp         *interpolator.Interpolator
	getSettings func() settings.Settings
	homing      HomingDriver
	reporter    Reporter
}

func New(board hal.Board, io *ioctl.Controller, pl *planner.Planner, itp *interpolator.Interpolator, getSettings func() settings.Settings, homing HomingDriver, reporter Reporter) *Supervisor {
	s := &Supervisor{board: board, io: io, pl: pl, itp: itp, getSettings: getSettings, homing: homing, reporter: reporter}
	s.Reset()
	return s
}

// Has reports whether every bit in f is currently set.
func (s *Supervisor) Has(f Flag) bool { return Flag(s.flags.Load())&f == f }

func (s *Supervisor) set(f Flag) {
	s.flagMu.Lock()
	s.flags.Store(s.flags.Load() | uint32(f))
	s.flagMu.Unlock()
}

func (s *Supervisor) clear(f Flag) {
	s.flagMu.Lock()
	s.flags.Store(s.flags.Load() &^ uint32(f))
	s.flagMu.Unlock()
}

// LatchRTCommand satisfies serial.RTLatch: it is called from the RX
// path for every intercepted byte. A pending non-report command is
// never clobbered by a later one; REPORT alone may be overridden,
// matching the ISR-may-only-set discipline of spec §5.
func (s *Supervisor) LatchRTCommand(c byte) {
	for {
		cur := s.rtCmd.Load()
		if cur != 0 && cur != uint32(RTReport) {
			return
		}
		if s.rtCmd.CompareAndSwap(cur, uint32(c)) {
			return
		}
	}
}

// DoEvents is the main event pump (spec §4.5): dispatch any latched
// real-time command, run the interlock check, then let the interpolator
// advance. Called in a tight loop by the host command loop.
func (s *Supervisor) DoEvents() error {
	if cmd := s.rtCmd.Swap(0); cmd != 0 {
		s.execRTCommand(byte(cmd))
	}

	s.pollInputs()

	if !s.checkInterlock() {
		s.syncRunFlag()
		return nil
	}

	err := s.itp.Run()
	s.syncRunFlag()
	if err != nil {
		return err
	}
	return s.itp.CheckRate()
}

// syncRunFlag derives FlagRun (and, on its trailing edge, FlagJog) from
// the interpolator's own busy state rather than tracking it imperatively
// at every call site (spec's "RUN ... cleared when block exhausted").
func (s *Supervisor) syncRunFlag() {
	if s.itp.Busy() {
		s.set(FlagRun)
		return
	}
	if s.Has(FlagRun) {
		s.clear(FlagRun | FlagJog)
	}
}

// pollInputs raises DOOR and LIMITS from their physical inputs (spec's
// "Input asserted" entry trigger for both flags); it never clears
// them — that only happens through ClearExecState's root-cause-aware
// unlock path, so a momentarily-clean read doesn't mask a trip that
// hasn't been acknowledged yet.
func (s *Supervisor) pollInputs() {
	ctrl := s.io.GetControls()
	if ctrl&ioctl.ControlDoor != 0 {
		s.set(FlagDoor | FlagHold)
	}
	set := s.getSettings()
	if set.HardLimitsEnabled && s.io.GetLimits() != 0 {
		s.set(FlagLimits)
	}
}

// checkInterlock ports cnc_check_interlocking (spec §4.5.1).
func (s *Supervisor) checkInterlock() bool {
	if s.Has(FlagAbort) {
		if !s.alarmEmitted.Swap(true) && s.reporter != nil {
			s.reporter.SendAlarm(status.Alarm(s.activeAlarm.Load()))
		}
		return false
	}

	if s.Has(FlagDoor) || s.Has(FlagHold) {
		if !s.Has(FlagRun) {
			s.itp.Stop()
			if s.Has(FlagDoor) {
				s.io.StopSpindle()
				s.io.StopCoolant()
			}
			if s.Has(FlagHoming) && s.Has(FlagDoor) {
				s.Alarm(status.AlarmHomingFailDoor)
			}
			if s.Has(FlagHoming) || s.Has(FlagJog) {
				s.pl.Reset()
				s.itp.Clear()
				s.clear(FlagHoming | FlagJog | FlagHold)
			}
		}
		return false
	}

	if s.Has(FlagLimits) && !s.Has(FlagHoming) {
		s.Alarm(status.AlarmHardLimit)
		return false
	}

	return true
}

// Stop ports cnc_stop: an immediate hard stop independent of any alarm,
// leaving position possibly unknown if it interrupted a running block.
func (s *Supervisor) Stop() {
	wasRun := s.Has(FlagRun)
	s.itp.Stop()
	s.io.StopSpindle()
	s.io.StopCoolant()
	s.clear(FlagRun | FlagHold)
	if wasRun && s.getSettings().HomingEnabled {
		s.set(FlagNoHome)
	}
}

// Alarm ports cnc_alarm: stops the machine and latches code as the
// active alarm. The message itself is emitted once, by the next
// interlock check that observes ABORT (spec's propagation policy).
func (s *Supervisor) Alarm(code status.Alarm) {
	s.Stop()
	s.activeAlarm.Store(int32(code))
	s.alarmEmitted.Store(false)
	s.set(FlagAlarm | FlagAbort)
}

// ClearExecState ports cnc_clear_exec_state: clears every bit in mask
// except one whose root cause is still present. An unlock can never mask
// a live ESTOP/door/hold input, an active hard-limit trip, or — for
// ALARM specifically — a still-required, not-yet-satisfied homing cycle
// (spec's "or homing disabled" root cause: read as "homing required and
// not yet done", since a machine with homing turned off never carries
// this alarm in the first place).
func (s *Supervisor) ClearExecState(mask Flag) {
	set := s.getSettings()
	ctrl := s.io.GetControls()

	keep := Flag(0)
	if mask&FlagDoor != 0 && ctrl&ioctl.ControlDoor != 0 {
		keep |= FlagDoor
	}
	if mask&FlagHold != 0 && ctrl&(ioctl.ControlHold|ioctl.ControlDoor|ioctl.ControlEStop) != 0 {
		keep |= FlagHold
	}
	if mask&FlagLimits != 0 && set.HardLimitsEnabled && s.io.GetLimits() != 0 {
		keep |= FlagLimits
	}
	if mask&FlagAlarm != 0 {
		liveInput := ctrl&(ioctl.ControlEStop|ioctl.ControlDoor|ioctl.ControlHold) != 0
		limitHeld := set.HardLimitsEnabled && s.io.GetLimits() != 0
		// Unhomed only counts as a surviving root cause if this same call
		// isn't also clearing NOHOME (e.g. a successful $H always clears
		// both together).
		unhomed := set.HomingEnabled && s.Has(FlagNoHome) && mask&FlagNoHome == 0
		if liveInput || limitHeld || unhomed {
			keep |= FlagAlarm
		}
	}

	s.clear(mask &^ keep)
}

// checkFaultSystems ports cnc_check_fault_systems: announces any
// physically-asserted safety input so a reconnecting host sees why the
// machine refuses to clear its alarm.
func (s *Supervisor) checkFaultSystems() {
	if s.reporter == nil {
		return
	}
	ctrl := s.io.GetControls()
	if ctrl&ioctl.ControlEStop != 0 {
		s.reporter.SendMessage(MsgCheckEStop)
	}
	if ctrl&ioctl.ControlDoor != 0 {
		s.reporter.SendMessage(MsgCheckDoor)
	}
	set := s.getSettings()
	if set.HardLimitsEnabled && s.io.GetLimits() != 0 {
		s.reporter.SendMessage(MsgCheckLimits)
	}
}

// Reset ports cnc_reset: the full power-up/`Ctrl-X` recovery sequence.
func (s *Supervisor) Reset() {
	s.rtCmd.Store(0)
	s.activeAlarm.Store(int32(status.AlarmReset))
	s.alarmEmitted.Store(false)
	s.itp.Init()
	s.pl.Reset()

	var initial Flag
	if s.getSettings().HomingEnabled {
		initial = FlagAlarm | FlagHold | FlagNoHome | FlagLocked
	}
	s.flags.Store(uint32(initial))

	if s.reporter != nil {
		s.reporter.SendMessage(startupBanner)
	}

	s.ClearExecState(FlagAlarm | FlagHold)

	if s.Has(FlagAlarm) {
		s.checkFaultSystems()
		if s.reporter != nil {
			s.reporter.SendMessage(MsgResetToContinue)
		}
	}
}

// Unlock ports cnc_unlock (`$X`): clears ALARM, LOCKED, NOHOME and
// LIMITS subject to ClearExecState's root-cause masking.
func (s *Supervisor) Unlock() error {
	s.ClearExecState(FlagAlarm | FlagLocked | FlagNoHome | FlagLimits)
	if s.Has(FlagAlarm) {
		return status.New(status.SystemGCLock)
	}
	if s.reporter != nil {
		s.reporter.SendMessage(MsgCautionUnlocked)
	}
	return nil
}

// BeginJog marks the block about to be enqueued as a jog (spec's
// "JOG ... entered when jog enqueued"). motion.Shim has no jog path and
// never calls it; whoever enqueues a jog calls it before planner.AddLine.
func (s *Supervisor) BeginJog() { s.set(FlagJog) }

// Home ports cnc_home: drive the injected homing cycle, then back off
// to the configured offset at the fast homing feed before re-syncing
// the tracked position from the interpolator's real-time counters.
func (s *Supervisor) Home() error {
	s.set(FlagHoming)
	set := s.getSettings()

	if err := s.homing.Home(set); err != nil {
		s.clear(FlagHoming)
		s.Alarm(status.AlarmHomingFailApproach)
		return err
	}
	s.clear(FlagHoming)

	if err := s.Unlock(); err != nil {
		return err
	}

	pos := s.pl.GetPosition()
	var target, dir [hal.AxisCount]float32
	var distSqr float32
	for i := 0; i < hal.AxisCount; i++ {
		offset := set.HomingOffset
		if set.HomingDirInvertMask&(1<<uint(i)) != 0 {
			offset = -offset
		}
		target[i] = pos[i] + offset
		dir[i] = offset
		distSqr += offset * offset
	}

	if distSqr == 0 {
		s.itp.ResetRTPosition()
		s.pl.ResyncPosition(s.itp.GetRTPosition())
		return nil
	}

	err := s.pl.AddLine(target, set, planner.BlockData{
		DirVect:    dir,
		Distance:   tinymath.Sqrt(distSqr),
		Feed:       set.HomingFastFeedRate * secPerMin,
		MotionMode: planner.MotionLinear,
	})
	if err != nil {
		return err
	}

	for {
		if err := s.DoEvents(); err != nil {
			return err
		}
		if !s.Has(FlagRun) && s.pl.IsEmpty() {
			break
		}
	}

	s.itp.ResetRTPosition()
	s.pl.ResyncPosition(s.itp.GetRTPosition())
	return nil
}

// execRTCommand is the real-time command dispatch table (spec §4.5,
// "Real-time command dispatch table").
func (s *Supervisor) execRTCommand(c byte) {
	switch c {
	case RTReport:
		s.sendStatus()
	case RTReset:
		s.Alarm(status.AlarmReset)
	case RTSafetyDoor:
		s.set(FlagDoor | FlagHold)
		if s.reporter != nil {
			s.reporter.SendMessage(MsgCheckDoor)
		}
	case RTFeedHold, RTJogCancel:
		if !s.Has(FlagHoming) {
			s.set(FlagHold)
		}
	case RTCycleStart:
		if !s.Has(FlagAlarm) {
			if s.reporter != nil {
				s.reporter.SendMessage(MsgRestoringSpindle)
			}
			s.itp.Delay(delayOnResume)
			s.clear(FlagHold)
		}
	case RTFeedOvr100:
		s.pl.FeedOvrReset()
	case RTFeedOvrCoarsePlus:
		s.pl.FeedOvrInc(feedOvrCoarse)
	case RTFeedOvrCoarseMinus:
		s.pl.FeedOvrInc(-feedOvrCoarse)
	case RTFeedOvrFinePlus:
		s.pl.FeedOvrInc(feedOvrFine)
	case RTFeedOvrFineMinus:
		s.pl.FeedOvrInc(-feedOvrFine)
	case RTRapidOvr100:
		s.pl.RapidOvrReset()
	case RTRapidOvr50:
		s.pl.RapidOvrSet(50)
	case RTRapidOvr25:
		s.pl.RapidOvrSet(25)
	case RTSpindleOvr100:
		s.pl.SpindleOvrReset()
		s.pl.UpdateSpindle(s.getSettings())
	case RTSpindleOvrCoarsePlus:
		s.pl.SpindleOvrInc(spindleOvrCoarse)
		s.pl.UpdateSpindle(s.getSettings())
	case RTSpindleOvrCoarseMinus:
		s.pl.SpindleOvrInc(-spindleOvrCoarse)
		s.pl.UpdateSpindle(s.getSettings())
	case RTSpindleOvrFinePlus:
		s.pl.SpindleOvrInc(spindleOvrFine)
		s.pl.UpdateSpindle(s.getSettings())
	case RTSpindleOvrFineMinus:
		s.pl.SpindleOvrInc(-spindleOvrFine)
		s.pl.UpdateSpindle(s.getSettings())
	case RTSpindleToggle:
		if s.Has(FlagHold) {
			s.toggleSpindlePWM()
		}
	case RTCoolantFloodToggle:
		if !s.Has(FlagAlarm) {
			s.io.ToggleCoolant(ioctl.OutputCoolantFlood)
		}
	case RTCoolantMistToggle:
		if !s.Has(FlagAlarm) {
			s.io.ToggleCoolant(ioctl.OutputCoolantMist)
		}
	}
}

func (s *Supervisor) toggleSpindlePWM() {
	if s.io.PWMOn(ioctl.SpindlePWMChannel) {
		s.io.SetPWM(ioctl.SpindlePWMChannel, 0)
		return
	}
	s.io.SetPWM(ioctl.SpindlePWMChannel, s.pl.SpindlePWM(s.getSettings()))
}

// Status assembles the same snapshot sendStatus reports over the serial
// line, for any other status consumer (e.g. the telemetry mirror or a
// front-panel display) that wants it without parsing report.Port's wire
// format back out.
func (s *Supervisor) Status() StatusSnapshot {
	ovr := s.pl.Overrides()
	return StatusSnapshot{
		State:      s.stateLabel(),
		Position:   s.itp.GetRTPosition(),
		FeedRate:   s.itp.GetRTFeed(),
		SpindleRPM: s.itp.GetRTSpindle(),
		FeedOvr:    ovr.FeedPct,
		RapidOvr:   ovr.RapidPct,
		SpindleOvr: ovr.SpindlePct,
	}
}

func (s *Supervisor) sendStatus() {
	if s.reporter == nil {
		return
	}
	s.reporter.SendStatus(s.Status())
}

// stateLabel picks the single most significant state word for a status
// report, highest-priority first, matching Grbl's own reporting order.
func (s *Supervisor) stateLabel() string {
	switch {
	case s.Has(FlagAlarm):
		return "Alarm"
	case s.Has(FlagDoor):
		return "Door"
	case s.Has(FlagHold):
		return "Hold"
	case s.Has(FlagHoming):
		return "Home"
	case s.Has(FlagJog):
		return "Jog"
	case s.Has(FlagRun):
		return "Run"
	default:
		return "Idle"
	}
}
