// Package report renders supervisor state and line-protocol responses
// onto a serial.Port (spec §6 "External interfaces"), implementing
// supervisor.Reporter. Field order within the status line is
// informational per spec; this follows the Grbl 1.1 report schema.
package report

import (
	"strconv"

	"github.com/gocnc/core/serial"
	"github.com/gocnc/core/status"
	"github.com/gocnc/core/supervisor"
)

// Port writes line-protocol output to a serial.Port.
type Port struct {
	serial *serial.Port
}

func New(serial *serial.Port) *Port {
	return &Port{serial: serial}
}

// SendStatus emits one `<...>` status line (spec §6 "Status response
// format"): state label, machine position, feed/spindle, overrides.
func (p *Port) SendStatus(s supervisor.StatusSnapshot) {
	p.serial.WriteString("<")
	p.serial.WriteString(s.State)
	p.serial.WriteString("|MPos:")
	for i, v := range s.Position {
		if i > 0 {
			p.serial.WriteString(",")
		}
		p.writeFloat(v)
	}
	p.serial.WriteString("|FS:")
	p.writeFloat(s.FeedRate)
	p.serial.WriteString(",")
	p.writeFloat(s.SpindleRPM)
	p.serial.WriteString("|Ov:")
	p.writeUint(s.FeedOvr)
	p.serial.WriteString(",")
	p.writeUint(s.RapidOvr)
	p.serial.WriteString(",")
	p.writeUint(s.SpindleOvr)
	p.serial.WriteString(">\r\n")
}

// SendMessage passes a feedback string through unchanged; callers supply
// text already wrapped as `[MSG:...]\r\n` (the supervisor's Msg*
// constants) or any other line the host should see verbatim.
func (p *Port) SendMessage(text string) {
	p.serial.WriteString(text)
}

// SendAlarm emits `ALARM:<code>\r\n` (spec §6 "Line responses").
func (p *Port) SendAlarm(code status.Alarm) {
	p.serial.WriteString("ALARM:")
	p.serial.WriteString(strconv.Itoa(int(code)))
	p.serial.WriteString("\r\n")
}

// SendOK emits the per-line success response.
func (p *Port) SendOK() {
	p.serial.WriteString("ok\r\n")
}

// SendError emits the per-line parse/semantic failure response (spec's
// "line-scoped" error taxonomy); the caller has already discarded the
// remainder of the offending line.
func (p *Port) SendError(code status.Code) {
	p.serial.WriteString("error:")
	p.serial.WriteString(strconv.Itoa(int(code)))
	p.serial.WriteString("\r\n")
}

func (p *Port) writeFloat(v float32) {
	var buf [32]byte
	p.serial.WriteString(string(strconv.AppendFloat(buf[:0], float64(v), 'f', 3, 32)))
}

func (p *Port) writeUint(v uint8) {
	p.serial.WriteString(strconv.Itoa(int(v)))
}
