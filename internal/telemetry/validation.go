package telemetry

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// rawBatch mirrors Batch with pointer fields so that a missing key can be
// distinguished from a present-but-zero value.
type rawBatch struct {
	Device  *string     `json:"device"`
	Sensors []rawSensor `json:"sensors"`
}

type rawSensor struct {
	Type  *string          `json:"type"`
	Value *json.RawMessage `json:"value"`
}

// ParseBatch decodes and validates one sensor report.
//
// Validation is all-or-nothing: any violation rejects the whole batch and
// nothing is persisted or broadcast. The same parser serves the HTTP
// handler and the MQTT bridge so both transports accept exactly the same
// payloads.
//
// Returns a *ValidationError describing the first violation found.
func ParseBatch(payload []byte) (*Batch, error) {
	var raw rawBatch

	dec := json.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&raw); err != nil {
		return nil, newValidationError(ReasonMalformedPayload,
			"payload is not valid JSON")
	}

	if raw.Device == nil || *raw.Device == "" {
		return nil, newValidationError(ReasonMissingDevice,
			"missing required sensor data fields (device, sensors)")
	}
	if len(raw.Sensors) == 0 {
		return nil, newValidationError(ReasonMissingSensors,
			"missing required sensor data fields (device, sensors)")
	}

	batch := &Batch{
		Device:  *raw.Device,
		Sensors: make([]Sensor, 0, len(raw.Sensors)),
	}

	for i, s := range raw.Sensors {
		if s.Type == nil || *s.Type == "" {
			return nil, newValidationError(ReasonMissingSensorType,
				fmt.Sprintf("sensor %d must have 'type' and 'value' fields", i))
		}
		if s.Value == nil {
			return nil, newValidationError(ReasonMissingSensorValue,
				fmt.Sprintf("sensor %d must have 'type' and 'value' fields", i))
		}

		var value float64
		if err := json.Unmarshal(*s.Value, &value); err != nil {
			return nil, newValidationError(ReasonMissingSensorValue,
				fmt.Sprintf("sensor %d value must be numeric", i))
		}

		batch.Sensors = append(batch.Sensors, Sensor{Type: *s.Type, Value: value})
	}

	return batch, nil
}

// rawCommand mirrors the LED command with flexible channel values.
type rawCommand struct {
	LedRed   *channelValue `json:"ledRed"`
	LedGreen *channelValue `json:"ledGreen"`
}

// channelValue accepts 0/1 integers or booleans and normalizes to 0/1.
// Firmware sends integers; some dashboard builds send booleans.
type channelValue int

func (v *channelValue) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "0", "false":
		*v = 0
		return nil
	case "1", "true":
		*v = 1
		return nil
	}
	return fmt.Errorf("channel value must be 0, 1 or boolean, got %s", data)
}

// ParseCommand decodes and validates an LED actuation command.
//
// Both channels are required. Returns ErrInvalidCommand (wrapped) on any
// violation.
func ParseCommand(payload []byte) (State, error) {
	var raw rawCommand

	if err := json.Unmarshal(payload, &raw); err != nil {
		return State{}, fmt.Errorf("%w: %s", ErrInvalidCommand, "payload is not a valid LED command")
	}
	if raw.LedRed == nil || raw.LedGreen == nil {
		return State{}, fmt.Errorf("%w: %s", ErrInvalidCommand, "both ledRed and ledGreen are required")
	}

	return State{Red: int(*raw.LedRed), Green: int(*raw.LedGreen)}, nil
}
