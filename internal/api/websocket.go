package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/config"
	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/logging"
	"github.com/jmtorralvo/iot-hub-core/internal/telemetry"
)

// wsSendBufferSize is the per-client outbound message buffer size.
// A client that falls this far behind starts losing events rather than
// blocking the relay.
const wsSendBufferSize = 256

// WSMessage is the frame format on the push channel, both directions.
//
// Server to client:
//
//	{"event": "led_update", "data": {"ledRed": 1, "ledGreen": 0}, "timestamp": "..."}
//
// Client to server:
//
//	{"event": "control_led", "data": {"ledRed": 1, "ledGreen": 0}}
type WSMessage struct {
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// wsEventControlLED is the only client-to-server event.
const wsEventControlLED = "control_led"

// Hub manages WebSocket connections and relays core events to them.
//
// The hub holds one core subscription for all clients: every event the
// core broadcasts is fanned out to every connected client. Slow clients
// drop frames (bounded send buffers) rather than stall the relay.
type Hub struct {
	cfg     config.WebSocketConfig
	core    *telemetry.Core
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

// WSClient represents a connected WebSocket client.
type WSClient struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Origin checking is handled by CORS middleware
		return true
	},
}

// NewHub creates a new WebSocket hub.
func NewHub(cfg config.WebSocketConfig, core *telemetry.Core, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		core:    core,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run subscribes to core events and relays them to connected clients.
// It blocks until the context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	sub := h.core.Subscribe()
	defer h.core.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case ev, ok := <-sub.C:
			if !ok {
				h.closeAll()
				return
			}
			h.Broadcast(ev.Name, ev.Payload)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "client_id", client.id, "clients", h.ClientCount())
}

// Unregister removes a client from the hub.
// Only the goroutine that successfully removes the client from the map
// closes the send channel, preventing double-close panics during shutdown.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
	h.logger.Debug("websocket client disconnected", "client_id", client.id, "clients", h.ClientCount())
}

// Broadcast sends an event frame to every connected client.
func (h *Hub) Broadcast(event string, payload any) {
	data, err := encodeFrame(event, payload)
	if err != nil {
		h.logger.Error("failed to marshal broadcast message", "event", event, "error", err)
		return
	}

	// Snapshot client list under hub lock, then release before sending
	h.mu.RLock()
	clients := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.trySend(data)
	}
	if len(clients) > 0 {
		h.logger.Debug("broadcast sent", "event", event, "recipients", len(clients))
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// closeAll disconnects all clients and closes their send channels
// so writePump goroutines can exit cleanly.
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		if client.conn != nil {
			client.conn.Close() //nolint:errcheck // Best effort close on shutdown
		}
		delete(h.clients, client)
	}
}

// encodeFrame marshals an event frame.
func encodeFrame(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(WSMessage{
		Event:     event,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
//
// Each new client immediately receives a led_update frame with the
// current actuator state so dashboards render correctly before any
// command happens. A storage failure degrades to the zero state.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		id:   uuid.NewString(),
		hub:  s.hub,
		conn: conn,
		send: make(chan []byte, wsSendBufferSize),
	}

	s.hub.Register(client)

	state, err := s.core.GetActuatorState(r.Context())
	if err != nil {
		s.logger.Warn("LED state read failed on connect, sending defaults",
			"client_id", client.id,
			"error", err,
		)
		state = telemetry.State{}
	}
	if frame, err := encodeFrame(telemetry.EventLEDUpdate, state); err == nil {
		client.trySend(frame)
	}

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg, s.core, s.logger)
}

// readPump reads messages from the WebSocket connection.
func (c *WSClient) readPump(cfg config.WebSocketConfig, core *telemetry.Core, logger *logging.Logger) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close() //nolint:errcheck // Connection teardown
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", "client_id", c.id, "error", err)
			} else {
				logger.Debug("websocket closed", "client_id", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline (keeps connection alive
		// even if the browser doesn't respond to protocol-level pings).
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message, core, logger)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close() //nolint:errcheck // Connection teardown
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				// Hub closed the channel
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket frame.
//
// Malformed frames and rejected commands are logged and dropped; the
// connection stays up so one bad frame cannot kick a dashboard off.
func (c *WSClient) handleMessage(data []byte, core *telemetry.Core, logger *logging.Logger) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("dropping malformed websocket frame", "client_id", c.id, "error", err)
		return
	}

	switch msg.Event {
	case wsEventControlLED:
		if _, err := core.SetActuatorState(context.Background(), msg.Data); err != nil {
			logger.Warn("rejected LED command from websocket",
				"client_id", c.id,
				"error", err,
			)
		}
	default:
		logger.Debug("ignoring unknown websocket event", "client_id", c.id, "event", msg.Event)
	}
}

// trySend attempts to send data to the client's send channel.
// It silently handles closed channels (client disconnected during broadcast)
// and full buffers (slow client).
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // Absorb send-on-closed-channel panic
	}()

	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}
