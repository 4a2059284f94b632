// Package mqtt mirrors presence snapshots to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dkeye/Intercom/internal/domain"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

const publishQoS = 1

// Snapshot is the retained payload on the presence topic.
type Snapshot struct {
	Users []domain.PresenceEntry `json:"users"`
	At    int64                  `json:"at"`
}

func Encode(entries []domain.PresenceEntry, at time.Time) ([]byte, error) {
	if entries == nil {
		entries = []domain.PresenceEntry{}
	}
	return json.Marshal(Snapshot{Users: entries, At: at.Unix()})
}

// Mirror publishes every presence broadcast, retained, so late subscribers
// see the current online list.
type Mirror struct {
	client paho.Client
	topic  string
	now    func() time.Time
}

func NewMirror(client paho.Client, topic string) *Mirror {
	return &Mirror{client: client, topic: topic, now: time.Now}
}

// Dial connects to broker and returns a ready mirror.
func Dial(broker, clientID, topic string) (*Mirror, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(c paho.Client, err error) {
		log.Warn().Err(err).Str("module", "adapters.mqtt").Msg("connection lost")
	})

	client := paho.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect failed: %w", token.Error())
	}
	log.Info().Str("module", "adapters.mqtt").Str("broker", broker).Str("topic", topic).Msg("presence mirror connected")
	return NewMirror(client, topic), nil
}

// PublishPresence never waits for the broker.
func (m *Mirror) PublishPresence(entries []domain.PresenceEntry) {
	payload, err := Encode(entries, m.now())
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.mqtt").Msg("encode presence")
		return
	}
	token := m.client.Publish(m.topic, publishQoS, true, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			log.Warn().Err(token.Error()).Str("module", "adapters.mqtt").Msg("publish presence")
		}
	}()
}

func (m *Mirror) Close() {
	if m.client != nil {
		m.client.Disconnect(250)
	}
}
