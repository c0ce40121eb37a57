//go:build tinygo

// Package stepperdrv drives a TMC2209-class smart stepper over UART
// register access, adapted from the teacher's tmc2209 package: step/dir
// pins still come from hal.Board per spec §4.7, but an axis wired to a
// smart driver additionally gets current scaling, microstepping, and
// standstill/thermal/short fault read-back that a plain step/dir HAL
// can't express.
package stepperdrv

// Register addresses, ported from tmc2209/address.go. Only the subset
// this package's Configure/SetRunCurrent/SetHoldCurrent/Status surface
// actually touches is carried over; the full TMC2209 register map is
// much larger.
const (
	regGCONF      = 0x00
	regGSTAT      = 0x01
	regIHOLD_IRUN = 0x10
	regCHOPCONF   = 0x6C
	regDRV_STATUS = 0x6F
)

// RegisterComm is the wire-level access a Driver needs; UARTComm below
// is the production implementation, a fake satisfies it in tests.
type RegisterComm interface {
	ReadRegister(register, address uint8) (uint32, error)
	WriteRegister(register, address uint8, value uint32) error
}

// Config is the one-time startup configuration for an axis's driver.
type Config struct {
	Microsteps       uint16 // must be a power of two, 1..256
	RunCurrentPct    uint8  // 0-100, scaled to IRUN (0-31)
	HoldCurrentPct   uint8  // 0-100, scaled to IHOLD (0-31)
	StealthChop      bool   // EnSpreadcycle=0 selects StealthChop (quiet, lower torque)
}

// Status reports the fault/state bits this package reads back from
// DRV_STATUS — enough for the supervisor to fold a thermal or
// short-to-ground fault into an ALARM without decoding the full TMC2209
// register. Stall detection is not read.
type Status struct {
	Standstill    bool
	StealthActive bool
	OverTemp      bool
	OverTempWarn  bool
	ShortToGround bool
}

// Driver is one TMC2209-class stepper driver addressed on a shared
// UART bus (spec's multi-axis model means one Driver per axis that has
// one wired up; axes on plain step/dir HAL lines don't need one).
type Driver struct {
	comm    RegisterComm
	address uint8
}

func New(comm RegisterComm, address uint8) *Driver {
	return &Driver{comm: comm, address: address}
}

// Configure writes GCONF (chop mode), CHOPCONF (microstep resolution),
// and IHOLD_IRUN (current scaling) in that order, matching the
// power-up sequence tmc2209's register map expects (global mode before
// per-phase chopper settings before current).
func (d *Driver) Configure(cfg Config) error {
	gconf := uint32(0)
	if !cfg.StealthChop {
		gconf |= 1 << 2 // EnSpreadcycle
	}
	if err := d.write(regGCONF, gconf); err != nil {
		return err
	}

	mres := microstepExponent(cfg.Microsteps)
	chopconf := (uint32(mres) & 0x0F) << 24
	if err := d.write(regCHOPCONF, chopconf); err != nil {
		return err
	}

	ihold := currentPctToSetting(cfg.HoldCurrentPct)
	irun := currentPctToSetting(cfg.RunCurrentPct)
	iholdIrun := (uint32(ihold) & 0x1F) | ((uint32(irun) & 0x1F) << 5)
	return d.write(regIHOLD_IRUN, iholdIrun)
}

// SetRunCurrent rewrites IRUN without disturbing IHOLD, by reading the
// current register value back first (IHOLD_IRUN packs both fields).
func (d *Driver) SetRunCurrent(percent uint8) error {
	cur, err := d.read(regIHOLD_IRUN)
	if err != nil {
		return err
	}
	irun := uint32(currentPctToSetting(percent))
	cur = (cur &^ (0x1F << 5)) | (irun << 5)
	return d.write(regIHOLD_IRUN, cur)
}

// SetHoldCurrent rewrites IHOLD without disturbing IRUN.
func (d *Driver) SetHoldCurrent(percent uint8) error {
	cur, err := d.read(regIHOLD_IRUN)
	if err != nil {
		return err
	}
	ihold := uint32(currentPctToSetting(percent))
	cur = (cur &^ 0x1F) | ihold
	return d.write(regIHOLD_IRUN, cur)
}

// ReadStatus decodes the fault/state bits of DRV_STATUS this package
// tracks (ported field offsets from tmc2209/address.go's DrvStatus).
func (d *Driver) ReadStatus() (Status, error) {
	v, err := d.read(regDRV_STATUS)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Standstill:    v&0x01 != 0,
		StealthActive: v&0x02 != 0,
		OverTempWarn:  v&(1<<29) != 0,
		OverTemp:      v&(1<<28) != 0,
		ShortToGround: v&(1<<26) != 0 || v&(1<<27) != 0,
	}, nil
}

// ClearFaults reads GSTAT, which clears its latched reset/error flags
// on read (tmc2209's GSTAT is read-to-clear).
func (d *Driver) ClearFaults() error {
	_, err := d.read(regGSTAT)
	return err
}

func (d *Driver) read(reg uint8) (uint32, error) {
	return d.comm.ReadRegister(reg, d.address)
}

func (d *Driver) write(reg uint8, value uint32) error {
	return d.comm.WriteRegister(reg, d.address, value)
}

// microstepExponent converts a microstep count to the MRES field's
// power-of-two exponent (0 = 256 microsteps ... 8 = full step), ported
// from tmc2209/motor_config.go's shift-count loop.
func microstepExponent(microsteps uint16) uint8 {
	if microsteps <= 1 {
		return 8
	}
	exponent := uint8(0)
	shifted := microsteps >> 1
	for shifted > 0 {
		shifted >>= 1
		exponent++
	}
	return 8 - exponent
}

// currentPctToSetting maps 0-100% to the 5-bit 0-31 IHOLD/IRUN range,
// ported from tmc2209/current.go's PercentToCurrentSetting (rescaled
// from that file's 8-bit 0-255 range to this register's 5-bit range).
func currentPctToSetting(percent uint8) uint8 {
	if percent > 100 {
		percent = 100
	}
	return uint8((uint32(percent) * 31) / 100)
}
