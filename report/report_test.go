package report_test

import (
	"strings"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/halsim"
	"github.com/gocnc/core/report"
	"github.com/gocnc/core/serial"
	"github.com/gocnc/core/status"
	"github.com/gocnc/core/supervisor"
)

type fakeLatch struct{}

func (fakeLatch) LatchRTCommand(byte) {}

func TestSendStatusBracketsStateAndFields(t *testing.T) {
	c := qt.New(t)
	board := halsim.New()
	sp := serial.New(board.UART(), fakeLatch{}, func() {})
	rp := report.New(sp)

	rp.SendStatus(supervisor.StatusSnapshot{
		State:      "Run",
		Position:   [hal.AxisCount]float32{1, 2, 3, 0},
		FeedRate:   10.5,
		SpindleRPM: 1000,
		FeedOvr:    100,
		RapidOvr:   100,
		SpindleOvr: 100,
	})
	sp.Flush()

	out := string(board.UARTSim().Sent())
	c.Assert(strings.HasPrefix(out, "<Run|MPos:1.000,2.000,3.000,0.000|FS:10.500,1000.000|Ov:100,100,100>"), qt.IsTrue)
	c.Assert(strings.HasSuffix(out, "\r\n"), qt.IsTrue)
}

func TestSendAlarmFormatsNumericCode(t *testing.T) {
	c := qt.New(t)
	board := halsim.New()
	sp := serial.New(board.UART(), fakeLatch{}, func() {})
	rp := report.New(sp)

	rp.SendAlarm(status.AlarmHardLimit)
	sp.Flush()

	c.Assert(string(board.UARTSim().Sent()), qt.Equals, "ALARM:1\r\n")
}

func TestSendErrorFormatsNumericCode(t *testing.T) {
	c := qt.New(t)
	board := halsim.New()
	sp := serial.New(board.UART(), fakeLatch{}, func() {})
	rp := report.New(sp)

	rp.SendError(status.SoftLimitError)
	sp.Flush()

	c.Assert(string(board.UARTSim().Sent()), qt.Equals, "error:10\r\n")
}

func TestSendOKAndMessagePassThrough(t *testing.T) {
	c := qt.New(t)
	board := halsim.New()
	sp := serial.New(board.UART(), fakeLatch{}, func() {})
	rp := report.New(sp)

	rp.SendOK()
	rp.SendMessage(supervisor.MsgCheckDoor)
	sp.Flush()

	c.Assert(string(board.UARTSim().Sent()), qt.Equals, "ok\r\n"+supervisor.MsgCheckDoor)
}
