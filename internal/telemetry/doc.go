// Package telemetry implements the hub's authoritative state owner.
//
// The Core is the single component allowed to mutate telemetry state.
// Transport adapters (HTTP handlers, the WebSocket hub, the MQTT bridge)
// translate their wire formats into calls on the Core and relay its
// events back out; they hold no state of their own.
//
// Responsibilities:
//   - Validation: one parser for sensor batches and LED commands,
//     shared by every transport so all paths accept identical payloads.
//   - Persistence: readings and the LED state singleton in SQLite,
//     batches written atomically in one transaction.
//   - Fan-out: an internal broker broadcasting sensor_update, led_update
//     and server_message events to subscribers with per-subscriber
//     buffers (slow consumers drop, never block).
//   - Forwarding: LED commands queued for asynchronous best-effort
//     delivery to the device; failures become server_message events.
//
// Actuation is serialized: a command mutex covers persist, forward
// enqueue and broadcast, so the stored state and the led_update order
// seen by every subscriber always agree.
package telemetry
