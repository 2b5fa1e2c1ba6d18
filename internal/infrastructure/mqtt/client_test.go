package mqtt

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/config"
)

// newDisconnectedClient returns a client that has never connected.
// Validation paths and state tracking can be exercised without a broker.
func newDisconnectedClient() *Client {
	return &Client{
		cfg:           config.MQTTConfig{QoS: 1},
		subscriptions: make(map[string]subscription),
	}
}

func TestPublishValidation(t *testing.T) {
	c := newDisconnectedClient()

	tests := []struct {
		name    string
		topic   string
		payload []byte
		qos     byte
		wantErr error
	}{
		{
			name:    "empty topic",
			topic:   "",
			payload: []byte("{}"),
			qos:     1,
			wantErr: ErrInvalidTopic,
		},
		{
			name:    "invalid qos",
			topic:   "commands/esp32",
			payload: []byte("{}"),
			qos:     3,
			wantErr: ErrInvalidQoS,
		},
		{
			name:    "oversized payload",
			topic:   "commands/esp32",
			payload: bytes.Repeat([]byte("x"), maxPayloadSize+1),
			qos:     1,
			wantErr: ErrPublishFailed,
		},
		{
			name:    "not connected",
			topic:   "commands/esp32",
			payload: []byte("{}"),
			qos:     1,
			wantErr: ErrNotConnected,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Publish(tt.topic, tt.payload, tt.qos, false)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Publish() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSubscribeValidation(t *testing.T) {
	c := newDisconnectedClient()
	noop := func(topic string, payload []byte) error { return nil }

	tests := []struct {
		name    string
		topic   string
		qos     byte
		handler MessageHandler
		wantErr error
	}{
		{"empty topic", "", 1, noop, ErrInvalidTopic},
		{"invalid qos", "sensors/data", 5, noop, ErrInvalidQoS},
		{"nil handler", "sensors/data", 1, nil, ErrSubscribeFailed},
		{"not connected", "sensors/data", 1, noop, ErrNotConnected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Subscribe(tt.topic, tt.qos, tt.handler)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Subscribe() error = %v, want %v", err, tt.wantErr)
			}
		})
	}

	if c.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d after failed subscribes, want 0", c.SubscriptionCount())
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := c.Unsubscribe("sensors/data"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() error = %v, want ErrNotConnected", err)
	}
}

func TestHealthCheckDisconnected(t *testing.T) {
	c := newDisconnectedClient()

	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := c.HealthCheck(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() with cancelled context error = %v, want context.Canceled", err)
	}
}

func TestHasSubscription(t *testing.T) {
	c := newDisconnectedClient()

	c.subMu.Lock()
	c.subscriptions["sensors/data"] = subscription{topic: "sensors/data", qos: 1}
	c.subMu.Unlock()

	if !c.HasSubscription("sensors/data") {
		t.Error("HasSubscription(\"sensors/data\") = false, want true")
	}
	if c.HasSubscription("sensors/other") {
		t.Error("HasSubscription(\"sensors/other\") = true, want false")
	}
	if got := c.SubscriptionCount(); got != 1 {
		t.Errorf("SubscriptionCount() = %d, want 1", got)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{}
	cfg.Broker.Host = "broker.local"
	cfg.Broker.Port = 1883
	cfg.Broker.ClientID = "iothub-test"
	cfg.Auth.Username = "hub"
	cfg.Auth.Password = "secret"
	cfg.Reconnect.InitialDelay = 1
	cfg.Reconnect.MaxDelay = 60

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("expected 1 broker URL, got %d", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://broker.local:1883" {
		t.Errorf("broker URL = %q, want tcp://broker.local:1883", got)
	}
	if opts.ClientID != "iothub-test" {
		t.Errorf("client ID = %q, want iothub-test", opts.ClientID)
	}
	if opts.Username != "hub" {
		t.Errorf("username = %q, want hub", opts.Username)
	}
}

func TestBuildClientOptionsTLS(t *testing.T) {
	cfg := config.MQTTConfig{}
	cfg.Broker.Host = "broker.local"
	cfg.Broker.Port = 8883
	cfg.Broker.ClientID = "iothub-test"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("broker scheme = %q, want ssl", got)
	}
	if opts.TLSConfig == nil {
		t.Error("TLS config not set for TLS broker")
	}
}

func TestStatusPayloads(t *testing.T) {
	online := buildOnlinePayload("iothub-core")
	if !strings.Contains(online, `"status":"online"`) || !strings.Contains(online, "iothub-core") {
		t.Errorf("online payload missing fields: %s", online)
	}

	offline := buildOfflinePayload("iothub-core")
	if !strings.Contains(offline, `"status":"offline"`) || !strings.Contains(offline, "graceful_shutdown") {
		t.Errorf("offline payload missing fields: %s", offline)
	}
}

func TestWrapHandlerRecoversPanic(t *testing.T) {
	c := newDisconnectedClient()

	handler := c.wrapHandler(func(topic string, payload []byte) error {
		panic("handler exploded")
	})

	// Must not propagate the panic.
	handler(nil, &fakeMessage{topic: "sensors/data", payload: []byte("{}")})
}

// fakeMessage implements the paho Message interface for handler tests.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 0 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}
