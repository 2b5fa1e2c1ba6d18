package api

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jmtorralvo/iot-hub-core/internal/telemetry"
)

// dialWS connects a test WebSocket client to the server.
func dialWS(t *testing.T, tsURL string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(tsURL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing %s: %v", wsURL, err)
	}
	if resp != nil {
		resp.Body.Close() //nolint:errcheck // Test cleanup
	}
	t.Cleanup(func() {
		conn.Close() //nolint:errcheck // Test cleanup
	})
	return conn
}

// readFrame reads one frame with a deadline.
func readFrame(t *testing.T, conn *websocket.Conn) WSMessage {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // Test deadline
	var msg WSMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading frame: %v", err)
	}
	return msg
}

func TestWebSocketSeedsLEDState(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dialWS(t, ts.URL)

	msg := readFrame(t, conn)
	if msg.Event != telemetry.EventLEDUpdate {
		t.Fatalf("first frame event = %q, want %q", msg.Event, telemetry.EventLEDUpdate)
	}

	var state telemetry.State
	if err := json.Unmarshal(msg.Data, &state); err != nil {
		t.Fatalf("decoding seed state: %v", err)
	}
	if state != (telemetry.State{}) {
		t.Errorf("seed state = %+v, want zero state", state)
	}
}

func TestWebSocketControlLED(t *testing.T) {
	srv, ts := newTestServer(t)

	conn := dialWS(t, ts.URL)
	readFrame(t, conn) // discard seed frame

	cmd := WSMessage{
		Event: wsEventControlLED,
		Data:  json.RawMessage(`{"ledRed":1,"ledGreen":0}`),
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("sending command: %v", err)
	}

	msg := readFrame(t, conn)
	if msg.Event != telemetry.EventLEDUpdate {
		t.Fatalf("event = %q, want %q", msg.Event, telemetry.EventLEDUpdate)
	}
	var state telemetry.State
	if err := json.Unmarshal(msg.Data, &state); err != nil {
		t.Fatalf("decoding state: %v", err)
	}
	if state != (telemetry.State{Red: 1}) {
		t.Errorf("broadcast state = %+v, want {Red:1}", state)
	}

	// The command was persisted, not just echoed.
	stored, err := srv.core.GetActuatorState(context.Background())
	if err != nil {
		t.Fatalf("GetActuatorState() error: %v", err)
	}
	if stored != (telemetry.State{Red: 1}) {
		t.Errorf("stored state = %+v, want {Red:1}", stored)
	}
}

func TestWebSocketMalformedFrameKeepsConnection(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dialWS(t, ts.URL)
	readFrame(t, conn) // discard seed frame

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("sending malformed frame: %v", err)
	}

	// Connection must stay up: a valid command still works afterwards.
	cmd := WSMessage{
		Event: wsEventControlLED,
		Data:  json.RawMessage(`{"ledRed":0,"ledGreen":1}`),
	}
	if err := conn.WriteJSON(cmd); err != nil {
		t.Fatalf("sending command after malformed frame: %v", err)
	}

	msg := readFrame(t, conn)
	if msg.Event != telemetry.EventLEDUpdate {
		t.Fatalf("event = %q, want %q", msg.Event, telemetry.EventLEDUpdate)
	}
}

func TestWebSocketReceivesSensorUpdates(t *testing.T) {
	_, ts := newTestServer(t)

	conn := dialWS(t, ts.URL)
	readFrame(t, conn) // discard seed frame

	resp := postJSON(t, ts.URL+"/api/sensor",
		`{"device":"esp32","sensors":[{"type":"light","value":23.7}]}`)
	if resp.StatusCode != 200 {
		t.Fatalf("sensor POST status = %d", resp.StatusCode)
	}

	msg := readFrame(t, conn)
	if msg.Event != telemetry.EventSensorUpdate {
		t.Fatalf("event = %q, want %q", msg.Event, telemetry.EventSensorUpdate)
	}
	var batch telemetry.Batch
	if err := json.Unmarshal(msg.Data, &batch); err != nil {
		t.Fatalf("decoding batch: %v", err)
	}
	if batch.Device != "esp32" || len(batch.Sensors) != 1 {
		t.Errorf("batch = %+v", batch)
	}
}

func TestWebSocketBroadcastToMultipleClients(t *testing.T) {
	srv, ts := newTestServer(t)

	conn1 := dialWS(t, ts.URL)
	conn2 := dialWS(t, ts.URL)
	readFrame(t, conn1) // discard seed frames
	readFrame(t, conn2)

	if got := srv.hub.ClientCount(); got != 2 {
		t.Fatalf("ClientCount() = %d, want 2", got)
	}

	cmd := WSMessage{
		Event: wsEventControlLED,
		Data:  json.RawMessage(`{"ledRed":1,"ledGreen":1}`),
	}
	if err := conn1.WriteJSON(cmd); err != nil {
		t.Fatalf("sending command: %v", err)
	}

	for i, conn := range []*websocket.Conn{conn1, conn2} {
		msg := readFrame(t, conn)
		if msg.Event != telemetry.EventLEDUpdate {
			t.Errorf("client %d event = %q, want %q", i, msg.Event, telemetry.EventLEDUpdate)
		}
	}
}
