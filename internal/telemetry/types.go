package telemetry

// Batch is one validated sensor report from a device.
//
// Wire format (HTTP body and MQTT payload are identical):
//
//	{"device": "esp32-greenhouse-01", "sensors": [{"type": "light", "value": 23.7}]}
type Batch struct {
	Device  string   `json:"device"`
	Sensors []Sensor `json:"sensors"`
}

// Sensor is a single measurement within a batch.
type Sensor struct {
	Type  string  `json:"type"`
	Value float64 `json:"value"`
}

// Reading is a persisted sensor measurement as returned by latest-N queries.
type Reading struct {
	Device    string  `json:"device"`
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Timestamp string  `json:"timestamp"`
}

// State is the LED actuator state. Channels are 0 or 1 on the wire;
// boolean inputs are accepted and normalized during command parsing.
type State struct {
	Red   int `json:"ledRed"`
	Green int `json:"ledGreen"`
}

// Event names pushed to subscribers. These match the names the dashboard
// and device firmware already listen for.
const (
	EventSensorUpdate  = "sensor_update"
	EventLEDUpdate     = "led_update"
	EventServerMessage = "server_message"
)

// Event is one broadcast from the core to its subscribers.
//
// Payload holds the event-specific body: *Batch for sensor_update,
// State for led_update, ServerMessage for server_message.
type Event struct {
	Name    string
	Payload interface{}
}

// ServerMessage is an operational notice pushed to dashboard clients,
// e.g. a forwarding failure or a broker disconnect.
type ServerMessage struct {
	Type string `json:"type"` // "info", "warning" or "error"
	Text string `json:"text"`
}
