//go:build tinygo

package stepperdrv

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

type fakeComm struct {
	regs    map[uint8]uint32
	writes  []uint8
	readErr error
}

func newFakeComm() *fakeComm {
	return &fakeComm{regs: map[uint8]uint32{}}
}

func (f *fakeComm) ReadRegister(register, address uint8) (uint32, error) {
	if f.readErr != nil {
		return 0, f.readErr
	}
	return f.regs[register], nil
}

func (f *fakeComm) WriteRegister(register, address uint8, value uint32) error {
	f.regs[register] = value
	f.writes = append(f.writes, register)
	return nil
}

func TestConfigureWritesGconfChopconfAndIholdIrunInOrder(t *testing.T) {
	c := qt.New(t)
	comm := newFakeComm()
	d := New(comm, 0)

	err := d.Configure(Config{Microsteps: 16, RunCurrentPct: 100, HoldCurrentPct: 50, StealthChop: true})

	c.Assert(err, qt.IsNil)
	c.Assert(comm.writes, qt.DeepEquals, []uint8{regGCONF, regCHOPCONF, regIHOLD_IRUN})
	c.Assert(comm.regs[regGCONF], qt.Equals, uint32(0))

	iholdIrun := comm.regs[regIHOLD_IRUN]
	c.Assert(iholdIrun&0x1F, qt.Equals, uint32(15))        // 50% hold
	c.Assert((iholdIrun>>5)&0x1F, qt.Equals, uint32(31))   // 100% run
}

func TestConfigureSpreadCycleSetsEnSpreadcycleBit(t *testing.T) {
	c := qt.New(t)
	comm := newFakeComm()
	d := New(comm, 0)

	err := d.Configure(Config{Microsteps: 256, StealthChop: false})

	c.Assert(err, qt.IsNil)
	c.Assert(comm.regs[regGCONF]&(1<<2), qt.Not(qt.Equals), uint32(0))
}

func TestSetRunCurrentPreservesHoldCurrent(t *testing.T) {
	c := qt.New(t)
	comm := newFakeComm()
	d := New(comm, 0)
	c.Assert(d.Configure(Config{Microsteps: 16, RunCurrentPct: 0, HoldCurrentPct: 20}), qt.IsNil)

	c.Assert(d.SetRunCurrent(100), qt.IsNil)

	v := comm.regs[regIHOLD_IRUN]
	c.Assert(v&0x1F, qt.Equals, uint32(currentPctToSetting(20)))
	c.Assert((v>>5)&0x1F, qt.Equals, uint32(currentPctToSetting(100)))
}

func TestSetHoldCurrentPreservesRunCurrent(t *testing.T) {
	c := qt.New(t)
	comm := newFakeComm()
	d := New(comm, 0)
	c.Assert(d.Configure(Config{Microsteps: 16, RunCurrentPct: 80, HoldCurrentPct: 0}), qt.IsNil)

	c.Assert(d.SetHoldCurrent(50), qt.IsNil)

	v := comm.regs[regIHOLD_IRUN]
	c.Assert(v&0x1F, qt.Equals, uint32(currentPctToSetting(50)))
	c.Assert((v>>5)&0x1F, qt.Equals, uint32(currentPctToSetting(80)))
}

func TestReadStatusDecodesOverTempBit(t *testing.T) {
	c := qt.New(t)
	comm := newFakeComm()
	comm.regs[regDRV_STATUS] = 1 << 28

	d := New(comm, 0)
	st, err := d.ReadStatus()

	c.Assert(err, qt.IsNil)
	c.Assert(st.OverTemp, qt.IsTrue)
	c.Assert(st.OverTempWarn, qt.IsFalse)
	c.Assert(st.ShortToGround, qt.IsFalse)
}

func TestReadStatusPropagatesCommError(t *testing.T) {
	c := qt.New(t)
	comm := newFakeComm()
	comm.readErr = errTimeout

	d := New(comm, 0)
	_, err := d.ReadStatus()

	c.Assert(err, qt.Equals, errTimeout)
}

func TestMicrostepExponentMapsFullRangeOfCommonMicrostepSettings(t *testing.T) {
	c := qt.New(t)
	c.Assert(microstepExponent(1), qt.Equals, uint8(8))
	c.Assert(microstepExponent(2), qt.Equals, uint8(7))
	c.Assert(microstepExponent(16), qt.Equals, uint8(4))
	c.Assert(microstepExponent(256), qt.Equals, uint8(0))
}

func TestCurrentPctToSettingClampsAboveHundred(t *testing.T) {
	c := qt.New(t)
	c.Assert(currentPctToSetting(0), qt.Equals, uint8(0))
	c.Assert(currentPctToSetting(100), qt.Equals, uint8(31))
	c.Assert(currentPctToSetting(255), qt.Equals, uint8(31))
}

func TestClearFaultsReadsGstat(t *testing.T) {
	c := qt.New(t)
	comm := newFakeComm()
	d := New(comm, 0)

	c.Assert(d.ClearFaults(), qt.IsNil)
}
