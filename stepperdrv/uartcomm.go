//go:build tinygo

package stepperdrv

import (
	"errors"
	"time"

	"machine"
)

// syncByte is the TMC2209 UART datagram sync byte; every request and
// reply frame starts with it.
const syncByte = 0x05

// writeBit marks a register address as a write in the datagram.
const writeBit = 0x80

var errChecksum = errors.New("stepperdrv: checksum mismatch")
var errTimeout = errors.New("stepperdrv: uart response timeout")

// UARTComm is the production RegisterComm, framing register reads and
// writes over a shared UART bus the way tmc2209/uartcomm.go does: a
// sync byte, a slave address, the register (OR'd with writeBit for
// writes), a big-endian value on writes, and a trailing XOR checksum.
type UARTComm struct {
	uart *machine.UART
}

func NewUARTComm(uart *machine.UART) *UARTComm {
	return &UARTComm{uart: uart}
}

// WriteRegister sends an 8-byte write datagram; TMC2209 write
// datagrams get no reply, so this returns once the bytes are on the
// wire.
func (c *UARTComm) WriteRegister(register, address uint8, value uint32) error {
	frame := [8]byte{
		syncByte,
		address,
		register | writeBit,
		byte(value >> 24),
		byte(value >> 16),
		byte(value >> 8),
		byte(value),
	}
	frame[7] = xorChecksum(frame[:7])
	_, err := c.uart.Write(frame[:])
	return err
}

// ReadRegister sends a 4-byte read request and waits for the 8-byte
// reply datagram, validating its trailing checksum before extracting
// the big-endian value.
func (c *UARTComm) ReadRegister(register, address uint8) (uint32, error) {
	req := [4]byte{syncByte, address, register, 0}
	req[3] = xorChecksum(req[:3])
	if _, err := c.uart.Write(req[:]); err != nil {
		return 0, err
	}

	reply := make(chan [8]byte, 1)
	errc := make(chan error, 1)
	go func() {
		var buf [8]byte
		for i := 0; i < len(buf); {
			n, err := c.uart.Read(buf[i:])
			if err != nil {
				errc <- err
				return
			}
			i += n
		}
		reply <- buf
	}()

	select {
	case buf := <-reply:
		if xorChecksum(buf[:7]) != buf[7] {
			return 0, errChecksum
		}
		return uint32(buf[3])<<24 | uint32(buf[4])<<16 | uint32(buf[5])<<8 | uint32(buf[6]), nil
	case err := <-errc:
		return 0, err
	case <-time.After(100 * time.Millisecond):
		return 0, errTimeout
	}
}

func xorChecksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum ^= b
	}
	return sum
}
