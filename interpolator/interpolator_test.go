package interpolator_test

import (
	"testing"
	"time"

	qt "github.com/frankban/quicktest"

	"github.com/gocnc/core/halsim"
	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/interpolator"
	"github.com/gocnc/core/planner"
	"github.com/gocnc/core/settings"
)

func testSettings() settings.Settings {
	s := settings.Default()
	for i := 0; i < hal.AxisCount; i++ {
		s.StepsPerMM[i] = 100
		s.MaxFeedRate[i] = 6000
		s.Acceleration[i] = 2000
	}
	return s
}

func newFixture() (*halsim.Board, *planner.Planner, *interpolator.Interpolator, settings.Settings) {
	s := testSettings()
	board := halsim.New()
	var itp *interpolator.Interpolator
	pl := planner.New(nil)
	itp = interpolator.New(board, pl, func() settings.Settings { return s })
	return board, pl, itp, s
}

func TestRunDrivesBlockToCompletion(t *testing.T) {
	c := qt.New(t)
	board, pl, itp, s := newFixture()

	err := pl.AddLine([hal.AxisCount]float32{10}, s, planner.BlockData{
		DirVect:    [hal.AxisCount]float32{1},
		Distance:   10,
		Feed:       3000,
		MotionMode: planner.MotionLinear,
	})
	c.Assert(err, qt.IsNil)

	c.Assert(itp.Run(), qt.IsNil)

	deadline := time.Now().Add(2 * time.Second)
	for !pl.IsEmpty() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}

	c.Assert(pl.IsEmpty(), qt.Equals, true)
	pos := itp.GetRTPosition()
	c.Assert(pos[0] > 9.9 && pos[0] < 10.1, qt.Equals, true)
	_ = board
}

func TestSubStepMoveSnapsPositionWithoutPulses(t *testing.T) {
	c := qt.New(t)
	board, pl, itp, s := newFixture()
	s.StepsPerMM[0] = 1 // only the planner sees this copy; the interpolator keeps 100 steps/mm, so 0.001mm is 0.1 step

	err := pl.AddLine([hal.AxisCount]float32{0.001}, s, planner.BlockData{
		DirVect:    [hal.AxisCount]float32{1},
		Distance:   0.001,
		Feed:       100,
		MotionMode: planner.MotionLinear,
	})
	c.Assert(err, qt.IsNil)

	c.Assert(itp.Run(), qt.IsNil)
	c.Assert(pl.IsEmpty(), qt.Equals, true)
	c.Assert(board.Steps(), qt.Equals, hal.StepBits(0))
}

func TestDwellOnlyBlockDelaysWithoutStepping(t *testing.T) {
	c := qt.New(t)
	board, pl, itp, s := newFixture()

	err := pl.AddLine([hal.AxisCount]float32{}, s, planner.BlockData{
		Dwell:      0.05,
		MotionMode: planner.MotionNoMotion,
	})
	c.Assert(err, qt.IsNil)

	c.Assert(itp.Run(), qt.IsNil)
	c.Assert(pl.IsEmpty(), qt.Equals, true)
	c.Assert(board.Steps(), qt.Equals, hal.StepBits(0))
}

func TestStopPreservesPosition(t *testing.T) {
	c := qt.New(t)
	_, pl, itp, s := newFixture()

	err := pl.AddLine([hal.AxisCount]float32{10}, s, planner.BlockData{
		DirVect:    [hal.AxisCount]float32{1},
		Distance:   10,
		Feed:       3000,
		MotionMode: planner.MotionLinear,
	})
	c.Assert(err, qt.IsNil)
	c.Assert(itp.Run(), qt.IsNil)

	time.Sleep(5 * time.Millisecond)
	itp.Stop()
	before := itp.GetRTPosition()

	time.Sleep(20 * time.Millisecond)
	after := itp.GetRTPosition()
	c.Assert(after, qt.DeepEquals, before)
}
