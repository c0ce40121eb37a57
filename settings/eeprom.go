package settings

import (
	"encoding/binary"
	"math"

	"github.com/gocnc/core/hal"
)

// recordLen is the flat byte layout: 4 float32 arrays of AxisCount plus
// the scalar fields; the trailing checksum byte follows it.
const (
	baseAddr  = 0
	floatSize = 4
)

// EEPROMStore is the default Store, byte-encoding Settings as a
// contiguous record over a hal.EEPROM with a trailing XOR checksum
// (spec §6 "checksum-protected; on mismatch, load defaults").
type EEPROMStore struct {
	dev hal.EEPROM
}

func NewEEPROMStore(dev hal.EEPROM) *EEPROMStore {
	return &EEPROMStore{dev: dev}
}

func (s *EEPROMStore) Load() (Settings, error) {
	buf := s.readAll()
	checksum := byte(0)
	blank := true
	for _, b := range buf[:len(buf)-1] {
		checksum ^= b
		if b != 0 {
			blank = false
		}
	}
	// A never-written all-zero record passes the XOR check trivially, so
	// it is rejected like a mismatch.
	if blank || checksum != buf[len(buf)-1] {
		return Default(), nil
	}
	return decode(buf), nil
}

func (s *EEPROMStore) Save(set Settings) error {
	buf := encode(set)
	checksum := byte(0)
	for _, b := range buf {
		checksum ^= b
	}
	buf = append(buf, checksum)
	for i, b := range buf {
		s.dev.Put(baseAddr+uint16(i), b)
	}
	return nil
}

func (s *EEPROMStore) readAll() []byte {
	buf := make([]byte, recordLen()+1)
	for i := range buf {
		buf[i] = s.dev.Get(baseAddr + uint16(i))
	}
	return buf
}

func recordLen() int {
	// 4 per-axis float arrays + 4 scalar floats + homing invert mask byte +
	// 2 invert-mask uint32s + 5 bool bytes.
	return 4*hal.AxisCount*floatSize + 4*floatSize + 1 + 2*floatSize + 5
}

func encode(set Settings) []byte {
	buf := make([]byte, 0, recordLen())
	putFloats := func(a [hal.AxisCount]float32) {
		for _, v := range a {
			buf = appendFloat(buf, v)
		}
	}
	putFloats(set.StepsPerMM)
	putFloats(set.MaxFeedRate)
	putFloats(set.Acceleration)
	putFloats(set.MaxTravel)
	buf = appendFloat(buf, set.HomingOffset)
	buf = appendFloat(buf, set.HomingFastFeedRate)
	buf = appendFloat(buf, set.SpindleMaxRPM)
	buf = appendFloat(buf, set.SpindleMinRPM)
	buf = append(buf, set.HomingDirInvertMask)
	buf = appendUint32(buf, set.ControlsInvertMask)
	buf = appendUint32(buf, set.LimitsInvertMask)
	buf = append(buf,
		boolByte(set.HomingEnabled),
		boolByte(set.HardLimitsEnabled),
		boolByte(set.SoftLimitsEnabled),
		boolByte(set.ReportInches),
		boolByte(set.ProbeInvert),
	)
	return buf
}

func decode(buf []byte) Settings {
	var set Settings
	off := 0
	getFloats := func(a *[hal.AxisCount]float32) {
		for i := range a {
			a[i] = readFloat(buf, off)
			off += floatSize
		}
	}
	getFloats(&set.StepsPerMM)
	getFloats(&set.MaxFeedRate)
	getFloats(&set.Acceleration)
	getFloats(&set.MaxTravel)
	set.HomingOffset = readFloat(buf, off)
	off += floatSize
	set.HomingFastFeedRate = readFloat(buf, off)
	off += floatSize
	set.SpindleMaxRPM = readFloat(buf, off)
	off += floatSize
	set.SpindleMinRPM = readFloat(buf, off)
	off += floatSize
	set.HomingDirInvertMask = buf[off]
	off++
	set.ControlsInvertMask = readUint32(buf, off)
	off += floatSize
	set.LimitsInvertMask = readUint32(buf, off)
	off += floatSize
	set.HomingEnabled = buf[off] != 0
	off++
	set.HardLimitsEnabled = buf[off] != 0
	off++
	set.SoftLimitsEnabled = buf[off] != 0
	off++
	set.ReportInches = buf[off] != 0
	off++
	set.ProbeInvert = buf[off] != 0
	return set
}

func appendFloat(buf []byte, v float32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], math.Float32bits(v))
	return append(buf, b[:]...)
}

func readFloat(buf []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(buf[off : off+4]))
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func readUint32(buf []byte, off int) uint32 {
	return binary.LittleEndian.Uint32(buf[off : off+4])
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
