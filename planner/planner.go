// Package planner implements the bounded look-ahead velocity planner
// (spec §4.3), ported from original_source's planner.c: a fixed-capacity
// ring of motion blocks, junction-speed computation via the half-angle
// tangent identity, and the backward/forward re-optimization pass that
// lets adjacent segments join at a feasible, non-zero speed instead of
// always decelerating to a full stop.
package planner

import (
	"math"

	"github.com/orsinium-labs/tinymath"
	"golang.org/x/exp/constraints"

	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/settings"
	"github.com/gocnc/core/status"
)

// BufferSize is the ring capacity, within the spec's stated 15-32 range.
const BufferSize = 16

// Conversion from mm/min (settings, feed words) to mm/s (planner math).
const minSecMult = 1.0 / 60.0

// Override range clamps (spec §3 "Planner overrides").
const (
	FeedOvrMin    = 10
	FeedOvrMax    = 200
	SpindleOvrMin = 10
	SpindleOvrMax = 200
)

// MotionMode distinguishes a real traversal from a dwell-only block.
type MotionMode uint8

const (
	MotionLinear MotionMode = iota
	MotionNoMotion
)

// BlockData is the caller-supplied description of one requested motion,
// assembled by the motion-control shim (C7) before calling AddLine.
type BlockData struct {
	DirVect    [hal.AxisCount]float32 // unnormalized target-current delta
	Distance   float32                // |DirVect|, precomputed by the caller
	Feed       float32                // requested feed, mm/s (caller converts from the mm/min feed word)
	Spindle    float32                // signed: sign selects direction, magnitude is RPM
	Dwell      float32                // seconds, NOMOTION blocks only
	MotionMode MotionMode
}

// Block is one ring element (spec §3 "Planner block").
type Block struct {
	TargetPos [hal.AxisCount]float32
	DirBits   hal.StepBits

	Distance     float32
	Acceleration float32
	AccelInv     float32

	FeedSqr         float32
	RapidFeedSqr    float32
	EntryFeedSqr    float32
	EntryMaxFeedSqr float32
	AngleFactor     float32
	Optimal         bool

	Spindle float32
	Dwell   float32
}

// Overrides holds the live feed/rapid/spindle percentage overrides
// (spec §3 "Planner overrides").
type Overrides struct {
	FeedPct    uint8
	RapidPct   uint8
	SpindlePct uint8
	Enabled    bool
}

// InterpolatorUpdater is the planner's one outbound call, invoked
// whenever re-optimization reaches the block currently being consumed
// by the interpolator (original_source's itp_update()). The interface
// keeps planner free of a direct dependency on the interpolator package.
type InterpolatorUpdater interface {
	Update()
}

// Planner owns the ring and the override state.
type Planner struct {
	data     [BufferSize]Block
	writeIdx int
	readIdx  int
	freeSlots int

	coord   [hal.AxisCount]float32
	spindle float32

	overrides  Overrides
	ovrCounter uint8

	prevDirVect [hal.AxisCount]float32

	itp InterpolatorUpdater
}

// New returns a Planner with an empty ring and overrides at 100%. itp may
// be nil in tests that don't care about interpolator refresh calls.
func New(itp InterpolatorUpdater) *Planner {
	p := &Planner{itp: itp}
	p.Reset()
	return p
}

// SetInterpolatorUpdater wires the interpolator after construction, for
// the common case where the interpolator itself needs a live *Planner
// to be built (cmd wiring breaks the cycle this way rather than New
// taking an interface the interpolator hasn't been constructed to
// satisfy yet).
func (p *Planner) SetInterpolatorUpdater(itp InterpolatorUpdater) { p.itp = itp }

// Reset empties the ring and restores default overrides, without
// touching the tracked machine position (use ResyncPosition for that).
func (p *Planner) Reset() {
	p.writeIdx = 0
	p.readIdx = 0
	p.freeSlots = BufferSize
	p.spindle = 0
	p.overrides = Overrides{FeedPct: 100, RapidPct: 100, SpindlePct: 100, Enabled: true}
	p.ovrCounter = 0
}

func next(i int) int {
	i++
	if i == BufferSize {
		i = 0
	}
	return i
}

func prev(i int) int {
	if i == 0 {
		i = BufferSize
	}
	return i - 1
}

// IsEmpty reports whether the ring holds zero blocks.
func (p *Planner) IsEmpty() bool { return p.freeSlots == BufferSize }

// IsFull reports whether the ring has no room for another block.
func (p *Planner) IsFull() bool { return p.freeSlots == 0 }

func (p *Planner) advanceWrite() {
	p.writeIdx = next(p.writeIdx)
	p.freeSlots--
}

// DiscardBlock advances read_idx one slot, called by the interpolator
// once a block has been fully decomposed into step-level work.
func (p *Planner) DiscardBlock() {
	p.readIdx = next(p.readIdx)
	p.freeSlots++
}

// GetBlock returns a pointer to the head (oldest, currently executing)
// block. The interpolator must snapshot the fields it needs at the start
// of consuming a block — the planner may still mutate EntryFeedSqr of
// blocks behind it in the ring via recalculate.
func (p *Planner) GetBlock() *Block {
	return &p.data[p.readIdx]
}

// GetBlockExitSpeedSqr returns the squared speed the head block must be
// at when it finishes: the next block's entry speed, scaled by the live
// feed/rapid overrides, or 0 if the head is the only block in the ring.
func (p *Planner) GetBlockExitSpeedSqr() float32 {
	if p.freeSlots >= BufferSize-1 {
		return 0
	}

	n := next(p.readIdx)
	exitSqr := p.data[n].EntryFeedSqr
	if !p.overrides.Enabled {
		return exitSqr
	}

	if p.overrides.FeedPct != 100 {
		f := float32(p.overrides.FeedPct)
		exitSqr *= f * f * 0.0001
	}

	if p.overrides.RapidPct != 100 {
		r := float32(p.overrides.RapidPct)
		rapidSqr := p.data[n].RapidFeedSqr * r * r * 0.0001
		exitSqr = min32(exitSqr, rapidSqr)
	}

	return exitSqr
}

// GetBlockTopSpeed returns the squared junction speed the head block may
// reach, honoring overrides and the rapid ceiling (spec §4.3 "Exit-speed
// contract").
func (p *Planner) GetBlockTopSpeed() float32 {
	head := &p.data[p.readIdx]

	exitSqr := p.GetBlockExitSpeedSqr()
	speedDelta := exitSqr - head.EntryFeedSqr
	speedChange := 2*head.Acceleration*head.Distance + speedDelta
	speedChange *= 0.5
	junctionSqr := head.EntryFeedSqr + speedChange

	targetSqr := head.FeedSqr
	if p.overrides.Enabled {
		if p.overrides.FeedPct != 100 {
			f := float32(p.overrides.FeedPct)
			targetSqr *= f * f * 0.0001
		}
		rapidSqr := head.RapidFeedSqr
		if p.overrides.RapidPct != 100 {
			r := float32(p.overrides.RapidPct)
			rapidSqr *= r * r * 0.0001
		}
		targetSqr = min32(targetSqr, rapidSqr)
	}

	return min32(junctionSqr, targetSqr)
}

// UpdateSpindle returns the spindle speed the head block (or the
// not-yet-committed running spindle value, if the ring is empty) wants,
// clamped to the settings range and scaled by the spindle override.
func (p *Planner) UpdateSpindle(s settings.Settings) float32 {
	spindle := p.spindle
	if p.freeSlots != BufferSize {
		spindle = p.data[p.readIdx].Spindle
	}
	if spindle == 0 {
		return 0
	}

	mag := tinymath.Abs(spindle)
	if p.overrides.Enabled && p.overrides.SpindlePct != 100 {
		mag *= 0.01 * float32(p.overrides.SpindlePct)
	}
	mag = min32(mag, s.SpindleMaxRPM)
	mag = max32(mag, s.SpindleMinRPM)
	if spindle < 0 {
		return -mag
	}
	return mag
}

// SpindlePWM converts the magnitude UpdateSpindle would report into a
// 0-255 duty cycle, flooring any nonzero speed to 1 so a running spindle
// never silently reads back as "off" (original_source's
// `pwm = MAX(pwm, 1)`).
func (p *Planner) SpindlePWM(s settings.Settings) uint8 {
	speed := p.UpdateSpindle(s)
	if speed == 0 {
		return 0
	}
	mag := tinymath.Abs(speed)
	if s.SpindleMaxRPM == 0 {
		return 1
	}
	pwm := uint8(tinymath.Round(255 * (mag / s.SpindleMaxRPM)))
	if pwm < 1 {
		pwm = 1
	}
	return pwm
}

// Recalculate runs the two-pass re-optimization (spec §4.3 "recalculate").
func (p *Planner) Recalculate() {
	last := p.writeIdx
	first := p.readIdx
	block := p.writeIdx

	// Backward pass: the newest block must be able to stop from its
	// entry speed, since nothing follows it yet.
	entrySqr := 2 * p.data[block].Distance * p.data[block].Acceleration
	p.data[block].EntryFeedSqr = min32(p.data[block].EntryMaxFeedSqr, entrySqr)

	nextIdx := block
	block = prev(block)

	for !p.data[block].Optimal && block != first {
		if p.data[block].EntryFeedSqr != p.data[block].EntryMaxFeedSqr {
			entrySqr = p.data[nextIdx].EntryFeedSqr + 2*p.data[block].Distance*p.data[block].Acceleration
			p.data[block].EntryFeedSqr = min32(p.data[block].EntryMaxFeedSqr, entrySqr)
		}
		nextIdx = block
		block = prev(block)
	}

	// Forward pass: lower each next block's entry speed to what is actually
	// reachable from the current block's entry, marking that next block
	// optimal whenever it was lowered.
	for block != last {
		if p.data[block].EntryFeedSqr < p.data[nextIdx].EntryFeedSqr {
			exitSqr := p.data[block].EntryFeedSqr + 2*p.data[block].Acceleration*p.data[block].Distance
			if exitSqr < p.data[nextIdx].EntryFeedSqr {
				p.data[nextIdx].EntryFeedSqr = exitSqr
				p.data[nextIdx].Optimal = true
			}
		}

		if block == first && p.itp != nil {
			p.itp.Update()
		}

		block = nextIdx
		nextIdx = next(block)
	}
}

// AddLine appends one motion to the ring (spec §4.3 "add_line"). target
// is the absolute end position; the direction vector and distance come
// from the caller's data.DirVect and data.Distance, and target is stored
// as the planner's own tracked position (p.coord).
func (p *Planner) AddLine(target [hal.AxisCount]float32, s settings.Settings, data BlockData) error {
	if data.MotionMode == MotionNoMotion {
		blk := &p.data[p.writeIdx]
		*blk = Block{Distance: data.Distance, Spindle: data.Spindle, Dwell: data.Dwell}
		p.spindle = data.Spindle
		p.advanceWrite()
		return nil
	}

	if data.Distance == 0 {
		return status.New(status.InvalidTarget)
	}

	blk := &p.data[p.writeIdx]
	*blk = Block{Distance: data.Distance, Spindle: data.Spindle, Dwell: data.Dwell}
	p.spindle = data.Spindle
	blk.TargetPos = target

	invMagn := 1.0 / data.Distance
	var cosTheta float32
	var prevIdx int
	hadPrev := !p.IsEmpty()
	if hadPrev {
		prevIdx = prev(p.writeIdx)
	}

	rapidFeed := float32(math.MaxFloat32)
	blk.Acceleration = float32(math.MaxFloat32)

	dirVect := data.DirVect
	for i := hal.AxisCount - 1; i >= 0; i-- {
		if dirVect[i] == 0 {
			continue
		}
		dirVect[i] *= invMagn
		dirAxisAbs := float32(1.0) / dirVect[i]
		if dirVect[i] < 0 {
			blk.DirBits |= hal.StepBits(1) << uint(i)
			dirAxisAbs = -dirAxisAbs
		}

		if hadPrev {
			cosTheta += dirVect[i] * p.prevDirVect[i]
		}

		axisSpeed := s.MaxFeedRate[i] * dirAxisAbs
		rapidFeed = min32(rapidFeed, axisSpeed)
		axisAccel := s.Acceleration[i] * dirAxisAbs
		blk.Acceleration = min32(blk.Acceleration, axisAccel)
	}

	blk.AccelInv = 1.0 / blk.Acceleration

	rapidFeed *= minSecMult
	feed := data.Feed
	if feed > rapidFeed {
		feed = rapidFeed
	}

	blk.EntryFeedSqr = 0
	blk.FeedSqr = feed * feed
	blk.EntryMaxFeedSqr = blk.FeedSqr
	blk.RapidFeedSqr = rapidFeed * rapidFeed

	if hadPrev {
		if cosTheta > 0 {
			blk.AngleFactor = 1.0 / (1.0 + cosTheta)
			blk.AngleFactor *= tinymath.Sqrt(1 - cosTheta*cosTheta)
		} else {
			blk.AngleFactor = 1
		}

		if blk.AngleFactor < 1.0 {
			juncFeedSqr := 1 - blk.AngleFactor
			juncFeedSqr *= juncFeedSqr
			juncFeedSqr *= p.data[prevIdx].FeedSqr
			blk.EntryMaxFeedSqr = min32(blk.FeedSqr, juncFeedSqr)
		} else {
			// A reversal (angle_factor >= 1) forces a full stop.
			blk.EntryMaxFeedSqr = 0
		}

		p.Recalculate()
	}

	p.advanceWrite()
	p.coord = target
	p.prevDirVect = dirVect
	return nil
}

// GetPosition returns the planner's tracked machine position, which
// lags the actual head position while blocks remain queued.
func (p *Planner) GetPosition() [hal.AxisCount]float32 { return p.coord }

// ResyncPosition snaps the tracked position to whatever the interpolator
// reports as the real-time position (spec's "after homing, abort, or any
// non-monotonic motion event").
func (p *Planner) ResyncPosition(rtPosition [hal.AxisCount]float32) {
	p.coord = rtPosition
}

// ToggleOverrides flips whether overrides are honored at all.
func (p *Planner) ToggleOverrides() {
	p.overrides.Enabled = !p.overrides.Enabled
	p.refreshInterpolator()
	p.ovrCounter = 0
}

func (p *Planner) Overrides() Overrides { return p.overrides }

// FeedOvrInc adjusts the feed override by delta (clamped to
// [FeedOvrMin, FeedOvrMax]) and requests an interpolator refresh.
func (p *Planner) FeedOvrInc(delta int8) {
	p.overrides.FeedPct = clampOvr(int(p.overrides.FeedPct)+int(delta), FeedOvrMin, FeedOvrMax)
	if p.overrides.Enabled {
		p.refreshInterpolator()
		p.ovrCounter = 0
	}
}

func (p *Planner) FeedOvrReset() {
	p.overrides.FeedPct = 100
	p.ovrCounter = 0
}

// RapidOvrSet sets the rapid override directly to one of the discrete
// values a real control panel offers (spec: rapid_pct ∈ {25,50,100}).
func (p *Planner) RapidOvrSet(pct uint8) {
	p.overrides.RapidPct = pct
	if p.overrides.Enabled {
		p.ovrCounter = 0
		p.refreshInterpolator()
	}
}

func (p *Planner) RapidOvrReset() {
	p.overrides.RapidPct = 100
	p.ovrCounter = 0
}

func (p *Planner) SpindleOvrInc(delta int8) {
	p.overrides.SpindlePct = clampOvr(int(p.overrides.SpindlePct)+int(delta), SpindleOvrMin, SpindleOvrMax)
	p.ovrCounter = 0
}

func (p *Planner) SpindleOvrReset() {
	p.overrides.SpindlePct = 100
	p.ovrCounter = 0
}

func (p *Planner) refreshInterpolator() {
	if p.itp != nil {
		p.itp.Update()
	}
}

func clampOvr(v, lo, hi int) uint8 {
	return uint8(constrain(v, lo, hi))
}

func constrain[T constraints.Ordered](v, lo, hi T) T {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
