// Command gocncsim is a host-runnable demo harness for the gocnc core:
// it wires halsim in place of real silicon, reads lines from stdin, and
// drives the supervisor the way a board's own main loop would (hand each
// line straight to the motion shim or the supervisor rather than feeding
// bytes in over the simulated UART, pump DoEvents, drain whatever came
// back out). Mirrors the teacher's examples/tmc5160/main.go
// "Step 1..5" wiring narrative.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/shlex"

	"github.com/gocnc/core/halsim"
	"github.com/gocnc/core/interpolator"
	ioctl "github.com/gocnc/core/io"
	"github.com/gocnc/core/motion"
	"github.com/gocnc/core/planner"
	"github.com/gocnc/core/report"
	"github.com/gocnc/core/serial"
	"github.com/gocnc/core/settings"
	"github.com/gocnc/core/supervisor"
	"github.com/gocnc/core/telemetry"
)

// supervisorRef lets serial.New be wired to the supervisor before the
// supervisor itself exists — supervisor.New needs a built Reporter,
// and the Reporter needs a built serial.Port, which needs the
// supervisor as its RTLatch/pump collaborator.
type supervisorRef struct {
	sup *supervisor.Supervisor
}

func (r *supervisorRef) LatchRTCommand(c byte) {
	if r.sup != nil {
		r.sup.LatchRTCommand(c)
	}
}

func (r *supervisorRef) pump() {
	if r.sup != nil {
		r.sup.DoEvents()
	}
}

// immediateHoming is a stand-in for the out-of-scope "drive axes to
// their limit switches" collaborator (spec §4.5): the simulator has no
// physical switches to seek, so it reports the current position as
// already homed. A real board wires a driver that actually jogs to
// each limit and backs off before returning.
type immediateHoming struct{}

func (immediateHoming) Home(settings.Settings) error { return nil }

func main() {
	mqttBroker := flag.String("mqtt", "", "optional MQTT broker URL for status telemetry (e.g. tcp://localhost:1883)")
	flag.Parse()

	// Step 1. Build the settings record every other collaborator reads
	// live through getSettings, so a future $-setting write takes
	// effect on the very next queued block.
	set := settings.Default()
	getSettings := func() settings.Settings { return set }

	// Step 2. Stand up the simulated board in place of real silicon.
	board := halsim.New()

	// Step 3. Wire planner and interpolator, resolving their mutual
	// dependency the same way supervisor_test.go's fixture does.
	pl := planner.New(nil)
	itp := interpolator.New(board, pl, getSettings)
	pl.SetInterpolatorUpdater(itp)

	io := ioctl.New(board, getSettings)

	// Step 4. Wire the serial transport and line-protocol reporter
	// ahead of the supervisor that will own them.
	supRef := &supervisorRef{}
	serialPort := serial.New(board.UART(), supRef, supRef.pump)
	reporter := report.New(serialPort)

	// Step 5. Instantiate the supervisor, then close the forward
	// reference so LatchRTCommand/pump reach it.
	sup := supervisor.New(board, io, pl, itp, getSettings, immediateHoming{}, reporter)
	supRef.sup = sup

	// Optional C11 telemetry mirror; defaults to a no-op so the serial
	// protocol is never gated on network availability.
	var telemetryPub telemetry.Publisher = telemetry.NoopPublisher{}
	if *mqttBroker != "" {
		pub, err := telemetry.NewMQTTPublisher(telemetry.MQTTConfig{
			BrokerURL: *mqttBroker,
			ClientID:  "gocncsim",
			Topic:     "gocnc/status",
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "gocncsim: mqtt disabled: %v\n", err)
		} else {
			telemetryPub = pub
			defer telemetryPub.Close()
		}
	}

	shim := motion.New(pl, getSettings, nil)

	fmt.Println("gocncsim: type $H to home, $X to unlock, Ctrl-D to exit")
	fmt.Println("gocncsim: motion lines look like: G1 X10 Y0 Z0 F500 S1000")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := dispatchLine(line, sup, shim); err != nil {
			fmt.Fprintf(os.Stderr, "gocncsim: %v\n", err)
		}

		if err := drainEvents(sup); err != nil {
			fmt.Fprintf(os.Stderr, "gocncsim: %v\n", err)
		}
		telemetryPub.Publish(sup.Status())
		flushReportedOutput(board)
	}
}

// dispatchLine interprets one line of input: a '$' system command, or a
// minimal "G0/G1 X.. Y.. Z.. W.. F.. S.." move line. Full G-code parsing
// is out of this module's scope; this is just enough grammar to drive a
// move through motion.Shim for the demo.
func dispatchLine(line string, sup *supervisor.Supervisor, shim *motion.Shim) error {
	if strings.HasPrefix(line, "$") {
		return dispatchSystemCommand(line, sup)
	}
	return dispatchMoveLine(line, shim)
}

func dispatchSystemCommand(line string, sup *supervisor.Supervisor) error {
	args, err := shlex.Split(line)
	if err != nil || len(args) == 0 {
		return fmt.Errorf("malformed system command %q", line)
	}

	switch strings.ToUpper(args[0]) {
	case "$H":
		return sup.Home()
	case "$X":
		return sup.Unlock()
	case "$":
		fmt.Println("$H home, $X unlock")
		return nil
	default:
		return fmt.Errorf("unsupported system command %q", args[0])
	}
}

func dispatchMoveLine(line string, shim *motion.Shim) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	word := strings.ToUpper(fields[0])
	if word != "G0" && word != "G1" {
		return fmt.Errorf("unsupported move word %q (only G0/G1)", fields[0])
	}

	toolTarget := shim.Position()
	var feed, spindle float32

	for _, f := range fields[1:] {
		if len(f) < 2 {
			continue
		}
		value, err := strconv.ParseFloat(f[1:], 32)
		if err != nil {
			return fmt.Errorf("bad value in word %q: %w", f, err)
		}
		switch f[0] {
		case 'X', 'x':
			toolTarget[0] = float32(value)
		case 'Y', 'y':
			toolTarget[1] = float32(value)
		case 'Z', 'z':
			toolTarget[2] = float32(value)
		case 'W', 'w':
			toolTarget[3] = float32(value)
		case 'F', 'f':
			feed = float32(value)
		case 'S', 's':
			spindle = float32(value)
		}
	}

	if feed == 0 {
		feed = 100
	}
	return shim.Move(toolTarget, feed, spindle)
}

// drainEvents pumps the supervisor until a pump leaves the interpolator
// idle (RUN clear), much like the "run to quiescence" loop
// Supervisor.Home uses for its own back-off move. Unlike that loop it
// does not check the planner, so a block an interlock holds back stays
// queued.
func drainEvents(sup *supervisor.Supervisor) error {
	deadline := time.Now().Add(5 * time.Second)
	for {
		if err := sup.DoEvents(); err != nil {
			return err
		}
		if !sup.Has(supervisor.FlagRun) {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("motion did not complete within timeout")
		}
		time.Sleep(time.Millisecond)
	}
}

// flushReportedOutput drains whatever report.Port wrote to the
// simulated UART (ALARM: lines, [MSG:...] passthrough; this demo never
// sends ok/error lines)
// and echoes it to stdout the way a real serial terminal would.
func flushReportedOutput(board *halsim.Board) {
	if out := board.UARTSim().Sent(); len(out) > 0 {
		os.Stdout.Write(out)
	}
}
