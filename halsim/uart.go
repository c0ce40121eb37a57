package halsim

import "sync"

// UART is a byte-loopback-capable simulated serial transport. Test code
// feeds incoming bytes with Inject (standing in for a host terminal
// typing at the board, drives the registered RX callback exactly like a
// real rx_isr) and drains bytes the core transmitted with Sent.
type UART struct {
	mu  sync.Mutex
	in  []byte // raw hardware receive FIFO, for Getc/Peek
	out []byte // bytes transmitted to the host

	rxCallback func(byte)
	txCallback func() (byte, bool)
}

func newUART() *UART {
	return &UART{}
}

func (u *UART) Putc(c byte) {
	u.mu.Lock()
	u.out = append(u.out, c)
	u.mu.Unlock()
}

// StartSend drains the registered TX callback (the serial layer's ring
// buffer) into the transmitted-bytes buffer, the same role as a real
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

func (u *UART) SetRXCallback(cb func(byte))          { u.rxCallback = cb }
func (u *UART) SetTXCallback(cb func() (byte, bool)) { u.txCallback = cb }

// Inject simulates bytes arriving at the board's RX pin, one at a time,
// exactly as a real RX ISR would deliver them to the registered callback.
func (u *UART) Inject(data []byte) {
	u.mu.Lock()
	u.in = append(u.in, data...)
	cb := u.rxCallback
	u.mu.Unlock()
	if cb == nil {
		return
	}
	for _, c := range data {
		cb(c)
	}
}

// Sent drains and returns every byte the core has transmitted to this
// UART so far — the host side of the loopback, used by tests asserting
// on status/ok/error lines.
func (u *UART) Sent() []byte {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.out
	u.out = nil
	return out
}
