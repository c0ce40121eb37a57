// Package interpolator converts the planner's head block into a timed
// step pulse train (spec §4.4), grounded on original_source's
// interpolator.h public surface and the trapezoidal profile math lifted
// from planner.c's junction-speed functions. It owns the step/reset ISR
// pair and the real-time position counters.
package interpolator

import (
	"sync"
	"time"

	"github.com/orsinium-labs/tinymath"

	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/planner"
	"github.com/gocnc/core/settings"
	"github.com/gocnc/core/status"
)

// Phase identifies which leg of the trapezoid the current step is in.
type Phase uint8

const (
	PhaseAccel Phase = iota
	PhaseCruise
	PhaseDecel
)

// profile holds the distances (in mm) of each leg of the current
// block's velocity profile, derived once when the block is loaded
// (spec §4.4 "Profile construction").
type profile struct {
	entrySqr, exitSqr, topSqr float32
	accel, distance           float32
	dAccel, dDecel            float32
}

func buildProfile(entrySqr, exitSqr, topSqr, accel, distance float32) profile {
	dAccel := (topSqr - entrySqr) / (2 * accel)
	if dAccel < 0 {
		dAccel = 0
	}
	dDecel := (topSqr - exitSqr) / (2 * accel)
	if dDecel < 0 {
		dDecel = 0
	}

	if dAccel+dDecel > distance {
		peakSqr := (entrySqr + exitSqr + 2*accel*distance) / 2
		dAccel = (peakSqr - entrySqr) / (2 * accel)
		dDecel = (peakSqr - exitSqr) / (2 * accel)
		if dAccel < 0 {
			dAccel = 0
		}
		if dDecel < 0 {
			dDecel = 0
		}
		topSqr = peakSqr
	}

	return profile{entrySqr: entrySqr, exitSqr: exitSqr, topSqr: topSqr, accel: accel, distance: distance, dAccel: dAccel, dDecel: dDecel}
}

// velocitySqrAt returns v^2 at the given distance travelled into the
// block, one phase of the trapezoid at a time.
func (p profile) velocitySqrAt(done float32) float32 {
	switch {
	case done < p.dAccel:
		return p.entrySqr + 2*p.accel*done
	case done < p.distance-p.dDecel:
		return p.topSqr
	default:
		remaining := p.distance - done
		if remaining < 0 {
			remaining = 0
		}
		return p.exitSqr + 2*p.accel*remaining
	}
}

// segment is the step-domain decomposition of one block: the master
// axis (largest step count) paces the timer; secondary axes fire on a
// Bresenham accumulator overflow, exactly per spec §4.4.
type segment struct {
	axisSteps [hal.AxisCount]uint32
	axisAcc   [hal.AxisCount]uint32
	master    int
	done      uint32
	dirBits   hal.StepBits
	spindle   float32
	prof      profile
}

// Interpolator owns the currently executing segment and the real-time
// position counters. One instance per board.
type Interpolator struct {
	mu sync.Mutex

	board       hal.Board
	pl          *planner.Planner
	getSettings func() settings.Settings

	positionSteps [hal.AxisCount]int64
	seg           *segment
	running       bool

	dwellUntil time.Time

	lastFreqHz float32
	maxRateHit bool
}

// New wires an Interpolator to a board and the planner it drains blocks
// from. getSettings is consulted on every block load so a live $-setting
// change takes effect on the next queued motion.
func New(board hal.Board, pl *planner.Planner, getSettings func() settings.Settings) *Interpolator {
	return &Interpolator{board: board, pl: pl, getSettings: getSettings}
}

// Update satisfies planner.InterpolatorUpdater: re-derive the profile of
// the currently executing block after an override change or a
// recalculate pass that touched the head.
func (it *Interpolator) Update() {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.seg == nil {
		return
	}
	it.rebuildProfileLocked()
}

func (it *Interpolator) rebuildProfileLocked() {
	blk := it.pl.GetBlock()
	entrySqr := blk.EntryFeedSqr
	exitSqr := it.pl.GetBlockExitSpeedSqr()
	topSqr := it.pl.GetBlockTopSpeed()
	it.seg.prof = buildProfile(entrySqr, exitSqr, topSqr, blk.Acceleration, blk.Distance)
}

// Init zeroes the real-time position and stops any running timer.
func (it *Interpolator) Init() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.positionSteps = [hal.AxisCount]int64{}
	it.seg = nil
	it.running = false
	it.board.StopStepISR()
}

// Clear discards the in-flight segment (if any) without touching the
// real-time position — used on abort, where position tracking must
// survive so the supervisor can decide whether re-homing is required.
func (it *Interpolator) Clear() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.seg = nil
	it.running = false
	it.board.StopStepISR()
}

// Stop halts stepping, preserving position (spec's "halt stepping, e.g.
// on hold").
func (it *Interpolator) Stop() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.running = false
	it.board.StopStepISR()
}

// Delay schedules a dwell: Run will not load the next block until the
// given duration has elapsed, without stopping any ISR already active.
func (it *Interpolator) Delay(centiseconds uint16) {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.dwellUntil = time.Now().Add(time.Duration(centiseconds) * 10 * time.Millisecond)
}

// GetRTPosition reports the current machine position in user units.
func (it *Interpolator) GetRTPosition() [hal.AxisCount]float32 {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.positionMMLocked()
}

func (it *Interpolator) positionMMLocked() [hal.AxisCount]float32 {
	s := it.getSettings()
	var out [hal.AxisCount]float32
	for i := 0; i < hal.AxisCount; i++ {
		if s.StepsPerMM[i] == 0 {
			continue
		}
		out[i] = float32(it.positionSteps[i]) / s.StepsPerMM[i]
	}
	return out
}

// ResetRTPosition zeroes the step counters (used after homing sets the
// machine origin).
func (it *Interpolator) ResetRTPosition() {
	it.mu.Lock()
	defer it.mu.Unlock()
	it.positionSteps = [hal.AxisCount]int64{}
}

// GetRTFeed reports the instantaneous feed rate, mm/min, derived from
// the last programmed step frequency on the master axis.
func (it *Interpolator) GetRTFeed() float32 {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.seg == nil {
		return 0
	}
	s := it.getSettings()
	spm := s.StepsPerMM[it.seg.master]
	if spm == 0 {
		return 0
	}
	return it.lastFreqHz / spm * 60
}

// GetRTSpindle reports the spindle speed associated with the currently
// executing block.
func (it *Interpolator) GetRTSpindle() float32 {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.seg == nil {
		return 0
	}
	return it.seg.spindle
}

// Run is invoked once per supervisor event-pump cycle (spec §4.5
// doevents step 3): if no segment is loaded, it pulls the next planner
// block and starts stepping; otherwise it is a no-op, the step ISR
// drives motion to completion on its own.
func (it *Interpolator) Run() error {
	it.mu.Lock()
	defer it.mu.Unlock()

	if it.seg != nil || it.running {
		return nil
	}
	if !it.dwellUntil.IsZero() && time.Now().Before(it.dwellUntil) {
		return nil
	}
	it.dwellUntil = time.Time{}

	for {
		if it.pl.IsEmpty() {
			return nil
		}
		blk := it.pl.GetBlock()

		if blk.Distance == 0 {
			// NOMOTION block: pure dwell (planner.AddLine rejects a zero
			// distance for any real motion, so this is unambiguous).
			if blk.Dwell > 0 {
				it.dwellUntil = time.Now().Add(time.Duration(blk.Dwell * float32(time.Second)))
			}
			it.pl.DiscardBlock()
			if !it.dwellUntil.IsZero() {
				return nil
			}
			continue
		}

		s := it.getSettings()
		cur := it.positionMMLocked()

		var axisSteps [hal.AxisCount]uint32
		master := 0
		for i := 0; i < hal.AxisCount; i++ {
			deltaMM := blk.TargetPos[i] - cur[i]
			steps := tinymath.Round(tinymath.Abs(deltaMM) * s.StepsPerMM[i])
			axisSteps[i] = uint32(steps)
			if axisSteps[i] > axisSteps[master] {
				master = i
			}
		}

		if axisSteps[master] == 0 {
			// Sub-step move: snap position, no pulses (spec §4.4 edge case).
			for i := 0; i < hal.AxisCount; i++ {
				it.positionSteps[i] = int64(tinymath.Round(blk.TargetPos[i] * s.StepsPerMM[i]))
			}
			it.pl.DiscardBlock()
			continue
		}

		seg := &segment{axisSteps: axisSteps, master: master, dirBits: blk.DirBits, spindle: blk.Spindle}
		seg.prof = buildProfile(blk.EntryFeedSqr, it.pl.GetBlockExitSpeedSqr(), it.pl.GetBlockTopSpeed(), blk.Acceleration, blk.Distance)
		it.seg = seg
		it.running = true

		freq := it.freqForVelocitySqrLocked(seg.prof.entrySqr)
		period, clamped := it.board.FreqToClocks(freq)
		_ = clamped
		it.lastFreqHz = freq
		it.board.SetDirs(seg.dirBits)
		it.board.StartStepISR(period, it.stepISR, it.resetISR)
		return nil
	}
}

func (it *Interpolator) freqForVelocitySqrLocked(vSqr float32) float32 {
	if vSqr < 0 {
		vSqr = 0
	}
	v := tinymath.Sqrt(vSqr) // mm/s
	s := it.getSettings()
	freq := v * s.StepsPerMM[it.seg.master]
	if freq < hal.FStepMin {
		freq = hal.FStepMin
	}
	if freq > hal.FStepMax {
		it.maxRateHit = true
		freq = hal.FStepMax
	}
	return freq
}

// stepISR asserts step lines for every axis whose Bresenham accumulator
// overflows this tick, paced by the master axis, then reprograms the
// timer period for the next tick from the trapezoidal profile.
func (it *Interpolator) stepISR() {
	it.mu.Lock()
	defer it.mu.Unlock()

	seg := it.seg
	if seg == nil {
		return
	}

	var mask hal.StepBits
	for i := 0; i < hal.AxisCount; i++ {
		if seg.axisSteps[i] == 0 {
			continue
		}
		seg.axisAcc[i] += seg.axisSteps[i]
		if seg.axisAcc[i] >= seg.axisSteps[seg.master] {
			seg.axisAcc[i] -= seg.axisSteps[seg.master]
			mask |= hal.StepBits(1) << uint(i)
			if seg.dirBits&(hal.StepBits(1)<<uint(i)) != 0 {
				it.positionSteps[i]--
			} else {
				it.positionSteps[i]++
			}
		}
	}
	it.board.SetSteps(mask)
	seg.done++

	if seg.done >= seg.axisSteps[seg.master] {
		it.board.StopStepISR()
		it.pl.DiscardBlock()
		it.seg = nil
		it.running = false
		return
	}

	doneMM := float32(seg.done) / float32(seg.axisSteps[seg.master]) * seg.prof.distance
	vSqr := seg.prof.velocitySqrAt(doneMM)
	freq := it.freqForVelocitySqrLocked(vSqr)
	period, _ := it.board.FreqToClocks(freq)
	it.lastFreqHz = freq
	it.board.ChangeStepISR(period)
}

// resetISR deasserts step lines (spec §4.4 "Pulse generation"). Both
// boards call it straight after stepISR, without waiting
// hal.MinPulseWidthMicros.
func (it *Interpolator) resetISR() {
	it.board.SetSteps(0)
}

// Busy reports whether a segment is currently being stepped, letting the
// supervisor derive its RUN flag without duplicating Interpolator's
// internal state (spec §4.5 "RUN ... entered when interpolator begins
// emitting, cleared when block exhausted").
func (it *Interpolator) Busy() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	return it.running
}

// MaxRateExceeded reports whether a requested frequency was clamped to
// F_STEP_MAX since the previous call, and clears that flag (spec §4.4's
// "clamps and emits STATUS_MAX_STEP_RATE_EXCEEDED upward").
func (it *Interpolator) MaxRateExceeded() bool {
	it.mu.Lock()
	defer it.mu.Unlock()
	hit := it.maxRateHit
	it.maxRateHit = false
	return hit
}

// CheckRate is a convenience the supervisor can call after Run to turn
// a clamp event into the status code the spec says must be raised.
func (it *Interpolator) CheckRate() error {
	if it.MaxRateExceeded() {
		return status.New(status.MaxStepRateExceeded)
	}
	return nil
}
