package telemetry

import (
	"encoding/json"
	"testing"

	qt "github.com/frankban/quicktest"

	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/supervisor"
)

func TestNoopPublisherDiscardsWithoutPanicking(t *testing.T) {
	var p Publisher = NoopPublisher{}
	p.Publish(supervisor.StatusSnapshot{State: "Run"})
	p.Close()
}

func TestSnapshotMessageMarshalsExpectedFields(t *testing.T) {
	c := qt.New(t)
	msg := snapshotMessage{
		State:      "Alarm",
		Position:   [hal.AxisCount]float32{1, 2, 3, 4},
		FeedRate:   500,
		SpindleRPM: 12000,
		FeedOvr:    100,
		RapidOvr:   50,
		SpindleOvr: 100,
	}

	raw, err := json.Marshal(msg)
	c.Assert(err, qt.IsNil)

	var decoded map[string]any
	c.Assert(json.Unmarshal(raw, &decoded), qt.IsNil)
	c.Assert(decoded["state"], qt.Equals, "Alarm")
	c.Assert(decoded["spindle_rpm"], qt.Equals, float64(12000))
}
