package telemetry

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmtorralvo/iot-hub-core/internal/infrastructure/logging"
)

// CommandForwarder queues an actuation command for asynchronous delivery.
// Enqueue must never block.
type CommandForwarder interface {
	Enqueue(s State)
}

// Core is the single authoritative owner of telemetry state.
//
// All transports (HTTP, WebSocket, MQTT) hand payloads to the core; the
// core validates, persists, forwards and broadcasts. Every accepted call
// broadcasts exactly once, and actuation commands are serialized so the
// persisted state and the led_update event order always agree.
type Core struct {
	readings  ReadingRepository
	state     StateRepository
	forwarder CommandForwarder
	broker    *broker
	log       *logging.Logger

	// cmdMu serializes SetActuatorState: persist, enqueue forward and
	// broadcast happen as one unit so no subscriber observes reordering.
	cmdMu sync.Mutex
}

// NewCore assembles the telemetry core. forwarder may be nil (commands
// are then persisted and broadcast but not delivered to devices).
func NewCore(readings ReadingRepository, state StateRepository, forwarder CommandForwarder, log *logging.Logger) *Core {
	return &Core{
		readings:  readings,
		state:     state,
		forwarder: forwarder,
		broker:    newBroker(),
		log:       log,
	}
}

// Ingest validates and stores one sensor report, then broadcasts a
// sensor_update event carrying the batch.
//
// The whole batch is written in one transaction: a validation or storage
// failure leaves no partial data and emits no event.
func (c *Core) Ingest(ctx context.Context, payload []byte) (*Batch, error) {
	batch, err := ParseBatch(payload)
	if err != nil {
		return nil, err
	}

	if err := c.readings.InsertBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("storing sensor batch: %w", err)
	}

	c.broker.publish(Event{Name: EventSensorUpdate, Payload: batch})

	c.log.Debug("Sensor batch ingested",
		"device", batch.Device,
		"sensors", len(batch.Sensors),
	)

	return batch, nil
}

// SetActuatorState applies an LED command: validate, persist, queue the
// device forward and broadcast a led_update event.
//
// Commands are serialized by a mutex. The forward is queued while the
// mutex is held but delivered asynchronously, so a dead device delays
// nothing; delivery failures surface later as server_message events.
func (c *Core) SetActuatorState(ctx context.Context, payload []byte) (State, error) {
	s, err := ParseCommand(payload)
	if err != nil {
		return State{}, err
	}

	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	if err := c.state.Set(ctx, s); err != nil {
		return State{}, fmt.Errorf("storing LED state: %w", err)
	}

	if c.forwarder != nil {
		c.forwarder.Enqueue(s)
	}

	c.broker.publish(Event{Name: EventLEDUpdate, Payload: s})

	c.log.Debug("LED state updated",
		"red", s.Red,
		"green", s.Green,
	)

	return s, nil
}

// GetActuatorState returns the current LED state. Callers that only need
// a best-effort answer (the WebSocket greeting) fall back to the zero
// state on error.
func (c *Core) GetActuatorState(ctx context.Context) (State, error) {
	return c.state.Get(ctx)
}

// GetLatest returns the most recent readings for a sensor type,
// newest first.
func (c *Core) GetLatest(ctx context.Context, sensorType string, limit int) ([]Reading, error) {
	return c.readings.GetLatest(ctx, sensorType, limit)
}

// Subscribe registers a new event subscriber. Every event accepted after
// this call is delivered to the subscriber until Unsubscribe.
func (c *Core) Subscribe() *Subscriber {
	return c.broker.subscribe()
}

// Unsubscribe removes a subscriber and closes its channel.
func (c *Core) Unsubscribe(sub *Subscriber) {
	c.broker.unsubscribe(sub)
}

// SubscriberCount returns the number of active event subscribers.
func (c *Core) SubscriberCount() int {
	return c.broker.count()
}

// Notify broadcasts a server_message event. Used by the forwarder for
// delivery failures and by the MQTT bridge for connection notices.
func (c *Core) Notify(msg ServerMessage) {
	c.broker.publish(Event{Name: EventServerMessage, Payload: msg})
}
