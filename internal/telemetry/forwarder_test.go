package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/logging"
)

// staticResolver returns a fixed address or an error.
type staticResolver struct {
	address string
	err     error
}

func (r *staticResolver) ResolveTargetAddress(_ context.Context) (string, error) {
	return r.address, r.err
}

// messageCollector gathers notify callbacks.
type messageCollector struct {
	mu   sync.Mutex
	msgs []ServerMessage
}

func (c *messageCollector) notify(msg ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *messageCollector) wait(t *testing.T, n int) []ServerMessage {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.msgs) >= n {
			out := make([]ServerMessage, len(c.msgs))
			copy(out, c.msgs)
			c.mu.Unlock()
			return out
		}
		c.mu.Unlock()
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d server messages", n)
	return nil
}

func TestForwarderDeliversCommand(t *testing.T) {
	received := make(chan State, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/control-led" {
			t.Errorf("path = %q, want /api/control-led", r.URL.Path)
		}
		var s State
		if err := json.NewDecoder(r.Body).Decode(&s); err != nil {
			t.Errorf("decoding command: %v", err)
		}
		received <- s
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	collector := &messageCollector{}
	fwd := NewForwarder(
		ForwarderConfig{DefaultAddress: "http://unused.invalid", Timeout: time.Second, QueueSize: 4},
		&staticResolver{address: server.URL},
		collector.notify,
		logging.Default(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	defer fwd.Stop()

	fwd.Enqueue(State{Red: 1, Green: 0})

	select {
	case got := <-received:
		if got != (State{Red: 1, Green: 0}) {
			t.Errorf("device received %+v, want {Red:1}", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("device never received the command")
	}
}

func TestForwarderFallsBackToDefaultAddress(t *testing.T) {
	received := make(chan State, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var s State
		json.NewDecoder(r.Body).Decode(&s) //nolint:errcheck // Test helper
		received <- s
	}))
	defer server.Close()

	fwd := NewForwarder(
		ForwarderConfig{DefaultAddress: server.URL, Timeout: time.Second, QueueSize: 4},
		&staticResolver{err: ErrForwardingFailed},
		nil,
		logging.Default(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	defer fwd.Stop()

	fwd.Enqueue(State{Green: 1})

	select {
	case got := <-received:
		if got != (State{Green: 1}) {
			t.Errorf("device received %+v, want {Green:1}", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("default address never received the command")
	}
}

func TestForwarderFailureNotifies(t *testing.T) {
	collector := &messageCollector{}
	fwd := NewForwarder(
		// Reserved TLD guarantees resolution failure without network access.
		ForwarderConfig{DefaultAddress: "http://device.invalid", Timeout: 500 * time.Millisecond, QueueSize: 4},
		nil,
		collector.notify,
		logging.Default(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	defer fwd.Stop()

	fwd.Enqueue(State{Red: 1, Green: 1})

	msgs := collector.wait(t, 1)
	if msgs[0].Type != "error" {
		t.Errorf("message type = %q, want error", msgs[0].Type)
	}
	if !strings.Contains(msgs[0].Text, "Failed to contact microcontrollers") {
		t.Errorf("message text = %q", msgs[0].Text)
	}
}

func TestForwarderDeviceErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	collector := &messageCollector{}
	fwd := NewForwarder(
		ForwarderConfig{DefaultAddress: server.URL, Timeout: time.Second, QueueSize: 4},
		nil,
		collector.notify,
		logging.Default(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	defer fwd.Stop()

	fwd.Enqueue(State{Red: 1})

	msgs := collector.wait(t, 1)
	if msgs[0].Type != "error" {
		t.Errorf("message type = %q, want error", msgs[0].Type)
	}
}

func TestForwarderQueueFullDropsWithWarning(t *testing.T) {
	collector := &messageCollector{}
	fwd := NewForwarder(
		ForwarderConfig{DefaultAddress: "http://device.invalid", Timeout: time.Second, QueueSize: 1},
		nil,
		collector.notify,
		logging.Default(),
	)
	// Worker not started: the queue fills immediately.

	fwd.Enqueue(State{Red: 1})           // fills the queue
	fwd.Enqueue(State{Red: 0, Green: 1}) // dropped

	collector.mu.Lock()
	defer collector.mu.Unlock()
	if len(collector.msgs) != 1 {
		t.Fatalf("got %d messages, want 1 warning", len(collector.msgs))
	}
	if collector.msgs[0].Type != "warning" {
		t.Errorf("message type = %q, want warning", collector.msgs[0].Type)
	}
}

func TestForwarderNoAddressConfigured(t *testing.T) {
	collector := &messageCollector{}
	fwd := NewForwarder(
		ForwarderConfig{Timeout: time.Second, QueueSize: 4},
		nil,
		collector.notify,
		logging.Default(),
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fwd.Start(ctx)
	defer fwd.Stop()

	fwd.Enqueue(State{Red: 1})

	msgs := collector.wait(t, 1)
	if msgs[0].Type != "error" {
		t.Errorf("message type = %q, want error", msgs[0].Type)
	}
}
