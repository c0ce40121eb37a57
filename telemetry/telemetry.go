// Package telemetry optionally mirrors supervisor status snapshots to an
// MQTT broker, supplementing the line-protocol report path (spec §6)
// with a push channel for external dashboards/fleet monitors — a
// feature the distilled spec doesn't name but the domain invites, since
// the teacher's own go.mod already carries an MQTT client for exactly
// this kind of out-of-band status mirror.
package telemetry

import (
	"encoding/json"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/gocnc/core/hal"
	"github.com/gocnc/core/supervisor"
)

// Publisher receives status snapshots as they are reported; the
// supervisor's own Reporter stays the authoritative line-protocol sink,
// telemetry is a best-effort side channel that never blocks DoEvents.
type Publisher interface {
	Publish(supervisor.StatusSnapshot)
	Close()
}

// NoopPublisher discards every snapshot; the default when no broker is
// configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(supervisor.StatusSnapshot) {}
func (NoopPublisher) Close()                            {}

// snapshotMessage is the JSON payload published per status report.
type snapshotMessage struct {
	State      string                         `json:"state"`
	Position   [hal.AxisCount]float32         `json:"position"`
	FeedRate   float32                        `json:"feed_rate"`
	SpindleRPM float32                        `json:"spindle_rpm"`
	FeedOvr    uint8                          `json:"feed_ovr"`
	RapidOvr   uint8                          `json:"rapid_ovr"`
	SpindleOvr uint8                          `json:"spindle_ovr"`
}

// MQTTPublisher publishes each snapshot as retained JSON to a fixed
// topic, so a newly-connecting dashboard sees the last known state
// immediately rather than waiting for the next report.
type MQTTPublisher struct {
	client mqtt.Client
	topic  string
	qos    byte
}

// MQTTConfig configures the broker connection; BrokerURL is e.g.
// "tcp://localhost:1883".
type MQTTConfig struct {
	BrokerURL string
	ClientID  string
	Topic     string
	QoS       byte
}

// NewMQTTPublisher connects to cfg.BrokerURL and returns a Publisher
// backed by it. Connection is synchronous (Connect().Wait()) since
// telemetry setup happens once at startup, not on the hot DoEvents path.
func NewMQTTPublisher(cfg MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Err() != nil {
		return nil, token.Err()
	}

	return &MQTTPublisher{client: client, topic: cfg.Topic, qos: cfg.QoS}, nil
}

// Publish marshals s and publishes it retained; a marshal failure or a
// disconnected client is swallowed — telemetry is advisory and must
// never propagate an error back into the supervisor's event pump.
func (p *MQTTPublisher) Publish(s supervisor.StatusSnapshot) {
	payload, err := json.Marshal(snapshotMessage{
		State:      s.State,
		Position:   s.Position,
		FeedRate:   s.FeedRate,
		SpindleRPM: s.SpindleRPM,
		FeedOvr:    s.FeedOvr,
		RapidOvr:   s.RapidOvr,
		SpindleOvr: s.SpindleOvr,
	})
	if err != nil {
		return
	}
	p.client.Publish(p.topic, p.qos, true, payload)
}

// Close disconnects from the broker, waiting up to 250ms for in-flight
// publishes to drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
