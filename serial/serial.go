// Package serial implements the byte-level RX/TX ring buffers with
// real-time command interception, ported from original_source's
// serial.c. Two single-producer/single-consumer rings sit between the
// hal.UART byte path and the supervisor's line-oriented command reader.
package serial

import "github.com/gocnc/core/hal"

const (
	rxBufferSize = 128
	txBufferSize = 112
)

// RTLatch receives a byte that must be acted on immediately, out of band
// from the line stream (spec §4.1): the report trigger '?' and every
// control/extended-range byte. The supervisor implements this.
type RTLatch interface {
	LatchRTCommand(c byte)
}

// Port owns one RX ring and one TX ring atop a hal.UART, plus the
// comment-nesting state the RX classifier needs.
type Port struct {
	uart hal.UART
	rt   RTLatch

	rxBuf   [rxBufferSize]byte
	rxRead  int
	rxWrite int
	rxLines int // count of complete (\n-terminated) lines buffered

	txBuf   [txBufferSize]byte
	txRead  int
	txWrite int
	txLines int

	commentDepth int

	pump func() // supervisor.DoEvents, invoked while blocked on a full TX buffer
}

// New wires Port to uart, registering the RX/TX ISR callbacks. pump is
// called by Putc when the TX ring is full, standing in for the busy-yield
// rule in spec §5 ("serial_putc on a full TX buffer... busy-yield by
// calling doevents()").
func New(uart hal.UART, rt RTLatch, pump func()) *Port {
	p := &Port{uart: uart, rt: rt, pump: pump}
	uart.SetRXCallback(p.rxISR)
	uart.SetTXCallback(p.txISR)
	return p
}

// IsEmpty reports whether zero complete lines are buffered — not whether
// zero bytes are buffered (spec §4.1).
func (p *Port) IsEmpty() bool { return p.rxLines == 0 }

// Peek returns the next byte without consuming it, or 0 if no complete
// line is buffered.
func (p *Port) Peek() byte {
	if p.rxLines == 0 {
		return 0
	}
	return p.rxBuf[p.rxRead]
}

// Getc dequeues one byte, returning '\0' when no complete line is
// buffered.
func (p *Port) Getc() byte {
	if p.rxLines == 0 {
		return 0
	}
	c := p.rxBuf[p.rxRead]
	if c == '\n' {
		p.rxLines--
	}
	p.rxRead++
	if p.rxRead == rxBufferSize {
		p.rxRead = 0
	}
	return c
}

// DiscardCurrentLine drains bytes up to and including the next '\n'.
func (p *Port) DiscardCurrentLine() {
	if p.rxLines == 0 {
		return
	}
	for p.Getc() != '\n' {
	}
}

// Putc enqueues one byte for transmission, kicking the UART on '\n' or
// busy-yielding via pump() while the ring is full.
func (p *Port) Putc(c byte) {
	for p.txFull() {
		p.uart.StartSend()
		if p.pump != nil {
			p.pump()
		}
	}
	p.txBuf[p.txWrite] = c
	p.txWrite++
	if c == '\n' {
		p.txLines++
		p.uart.StartSend()
	}
	if p.txWrite == txBufferSize {
		p.txWrite = 0
	}
}

// Flush blocks (pumping events) until every queued line has gone out.
func (p *Port) Flush() {
	for p.txLines > 0 {
		p.uart.StartSend()
		if p.pump != nil {
			p.pump()
		}
	}
}

// WriteString is a convenience wrapper used by the report package.
func (p *Port) WriteString(s string) {
	for i := 0; i < len(s); i++ {
		p.Putc(s[i])
	}
}

func (p *Port) txFull() bool {
	return p.txWrite == p.txRead && p.txLines != 0
}

// rxISR classifies one incoming byte exactly per spec §4.1: printable
// ASCII in (0x22, 0x7B) excluding the report trigger is enqueued unless
// inside a comment; '(' / ')' track comment nesting without being
// enqueued; '\r'/'\n' terminate a line; anything else latches a
// real-time command.
func (p *Port) rxISR(c byte) {
	const reportTrigger = '?'

	if c > 0x22 && c < 0x7B {
		switch c {
		case reportTrigger:
			p.rt.LatchRTCommand(c)
			return
		case '(':
			p.commentDepth++
			return
		case ')':
			p.commentDepth--
			return
		default:
			if p.commentDepth == 0 {
				p.rxEnqueue(c)
			}
			return
		}
	}

	switch c {
	case '\r':
		c = '\n'
		fallthrough
	case '\n':
		p.rxEnqueue(c)
		p.rxLines++
		p.commentDepth = 0
	default:
		p.rt.LatchRTCommand(c)
	}
}

func (p *Port) rxEnqueue(c byte) {
	p.rxBuf[p.rxWrite] = c
	p.rxWrite++
	if p.rxWrite == rxBufferSize {
		p.rxWrite = 0
	}
}

// txISR is pulled by the board's send-ready callback (hal.UART
// SetTXCallback) to get the next outgoing byte.
func (p *Port) txISR() (byte, bool) {
	if p.txLines == 0 {
		return 0, false
	}
	c := p.txBuf[p.txRead]
	if c == '\n' {
		p.txLines--
	}
	p.txRead++
	if p.txRead == txBufferSize {
		p.txRead = 0
	}
	return c, true
}
