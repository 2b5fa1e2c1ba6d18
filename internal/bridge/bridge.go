package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/config"
	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/logging"
	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/mqtt"
	"github.com/jmtorralvo/iot-hub-core/internal/telemetry"
)

// MQTTClient is the broker surface the bridge needs. *mqtt.Client
// satisfies it; tests substitute a fake.
type MQTTClient interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
	SetOnConnect(callback func())
	SetOnDisconnect(callback func(err error))
	IsConnected() bool
}

// Bridge connects the telemetry core to the MQTT broker.
//
// Inbound: sensor reports published on the configured sensor topic are fed
// to the core exactly like HTTP submissions. Outbound: every led_update
// the core broadcasts is republished on the command topic so MQTT-only
// devices follow actuation state. Broker connect/disconnect transitions
// surface as server_message events on the push channel.
type Bridge struct {
	client MQTTClient
	core   *telemetry.Core
	topics config.MQTTTopicsConfig
	qos    byte
	log    *logging.Logger

	cancel   context.CancelFunc
	stopOnce sync.Once
	done     chan struct{}
}

// New creates a bridge. Call Start to begin relaying.
func New(client MQTTClient, core *telemetry.Core, cfg config.MQTTConfig, log *logging.Logger) (*Bridge, error) {
	if client == nil {
		return nil, errors.New("bridge: mqtt client is required")
	}
	if core == nil {
		return nil, errors.New("bridge: telemetry core is required")
	}
	if cfg.Topics.Sensor == "" || cfg.Topics.Command == "" {
		return nil, ErrMissingTopics
	}

	return &Bridge{
		client: client,
		core:   core,
		topics: cfg.Topics,
		qos:    byte(cfg.QoS), // #nosec G115 -- validated 0..2 by config
		log:    log,
		done:   make(chan struct{}),
	}, nil
}

// Start subscribes to the sensor topic and launches the command relay.
//
// The broker client restores the sensor subscription itself after a
// reconnect; the bridge only installs the connection callbacks that
// surface state transitions to dashboard clients.
func (b *Bridge) Start(ctx context.Context) error {
	relayCtx, cancel := context.WithCancel(ctx)
	b.cancel = cancel

	b.client.SetOnConnect(func() {
		b.log.Info("MQTT broker connected")
		b.core.Notify(telemetry.ServerMessage{
			Type: "info",
			Text: "MQTT broker connected.",
		})
	})
	b.client.SetOnDisconnect(func(err error) {
		b.log.Warn("MQTT broker connection lost", "error", err)
		b.core.Notify(telemetry.ServerMessage{
			Type: "error",
			Text: "MQTT broker connection lost.",
		})
	})

	// Subscribe to core events before Start returns so no led_update
	// published immediately after Start can be missed by the relay.
	sub := b.core.Subscribe()

	if err := b.client.Subscribe(b.topics.Sensor, b.qos, b.handleSensorMessage); err != nil {
		cancel()
		b.core.Unsubscribe(sub)
		return fmt.Errorf("subscribing to sensor topic %q: %w", b.topics.Sensor, err)
	}
	b.log.Info("Bridge subscribed to sensor topic", "topic", b.topics.Sensor)

	go b.relayCommands(relayCtx, sub)

	return nil
}

// Stop shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		if b.client.IsConnected() {
			if err := b.client.Unsubscribe(b.topics.Sensor); err != nil {
				b.log.Warn("Unsubscribe from sensor topic failed", "error", err)
			}
		}
		<-b.done
	})
}

// handleSensorMessage feeds one MQTT sensor report to the core.
//
// Protocol errors drop the message, notify dashboard clients and keep the
// subscription alive. A malformed report from one device must not affect
// the rest of the fleet.
func (b *Bridge) handleSensorMessage(topic string, payload []byte) error {
	_, err := b.core.Ingest(context.Background(), payload)
	if err == nil {
		return nil
	}

	var verr *telemetry.ValidationError
	if errors.As(err, &verr) {
		b.log.Warn("Dropping invalid MQTT sensor payload",
			"topic", topic,
			"reason", verr.Reason,
		)
		b.core.Notify(telemetry.ServerMessage{
			Type: "error",
			Text: "MQTT payload invalid: missing device/sensors.",
		})
		return nil
	}

	// Storage failures are worth surfacing to the wrapper's error log.
	return fmt.Errorf("ingesting MQTT sensor payload: %w", err)
}

// relayCommands republishes every led_update to the command topic.
func (b *Bridge) relayCommands(ctx context.Context, sub *telemetry.Subscriber) {
	defer close(b.done)
	defer b.core.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.C:
			if !ok {
				return
			}
			if ev.Name != telemetry.EventLEDUpdate {
				continue
			}
			b.publishCommand(ev)
		}
	}
}

// publishCommand sends one LED state to the command topic.
func (b *Bridge) publishCommand(ev telemetry.Event) {
	state, ok := ev.Payload.(telemetry.State)
	if !ok {
		return
	}

	payload, err := json.Marshal(state)
	if err != nil {
		b.log.Error("Failed to encode LED command", "error", err)
		return
	}

	if err := b.client.Publish(b.topics.Command, payload, b.qos, false); err != nil {
		b.log.Warn("Failed to publish LED command",
			"topic", b.topics.Command,
			"error", err,
		)
		return
	}

	b.log.Debug("LED command published", "topic", b.topics.Command)
}
