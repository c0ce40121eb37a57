//go:build tinygo

package haltinygo

import (
	"machine"
	"sync"
)

// UART adapts a machine.UART to hal.UART: Putc/StartSend write bytes
// out over the wire, while a background goroutine pulls bytes in and
// feeds both the registered RX callback and the raw Getc/Peek FIFO.
type UART struct {
	hw *machine.UART

	mu         sync.Mutex
	in         []byte
	rxCallback func(byte)
	txCallback func() (byte, bool)
}

func newUART(hw *machine.UART) *UART {
	u := &UART{hw: hw}
	go u.pollRX()
	return u
}

// pollRX blocks on ReadByte in a tight loop rather than registering a
// hardware RX interrupt: TinyGo's machine.UART exposes no portable
// per-byte receive interrupt hook across targets, and the teacher's
// own TMC UART code makes the same choice, blocking on Read directly
// (tmc2209/uartcomm.go) instead of an interrupt callback.
func (u *UART) pollRX() {
	for {
		c, err := u.hw.ReadByte()
		if err != nil {
			continue
		}
		u.mu.Lock()
		u.in = append(u.in, c)
		cb := u.rxCallback
		u.mu.Unlock()
		if cb != nil {
			cb(c)
		}
	}
}

func (u *UART) Putc(c byte) {
	u.hw.WriteByte(c)
}

// StartSend drains the registered TX callback (the serial layer's ring
// buffer) onto the wire, one byte at a time, the same role as a real
// send-ready interrupt repeatedly pulling tx_isr().
func (u *UART) StartSend() {
	u.mu.Lock()
	cb := u.txCallback
	u.mu.Unlock()
	if cb == nil {
		return
	}
	for {
		c, ok := cb()
		if !ok {
			return
		}
		u.Putc(c)
	}
}

func (u *UART) Getc() (byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.in) == 0 {
		return 0, false
	}
	c := u.in[0]
	u.in = u.in[1:]
	return c, true
}

func (u *UART) Peek() (byte, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if len(u.in) == 0 {
		return 0, false
	}
	return u.in[0], true
}

func (u *UART) SetRXCallback(cb func(byte)) {
	u.mu.Lock()
	u.rxCallback = cb
	u.mu.Unlock()
}

func (u *UART) SetTXCallback(cb func() (byte, bool)) {
	u.mu.Lock()
	u.txCallback = cb
	u.mu.Unlock()
}
