package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteSensorReading mirrors a single accepted sensor reading to InfluxDB.
//
// The write is non-blocking; data is batched and sent asynchronously.
// If the client is disconnected the reading is silently dropped, since
// SQLite already holds the authoritative copy.
//
// Parameters:
//   - deviceName: The reporting node (e.g., "esp32-greenhouse-01")
//   - sensorType: The measurement kind (e.g., "temperature", "humidity")
//   - value: The numeric reading
func (c *Client) WriteSensorReading(deviceName, sensorType string, value float64) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"sensor_readings",
		map[string]string{
			"device":      deviceName,
			"sensor_type": sensorType,
		},
		map[string]interface{}{
			"value": value,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteActuatorState mirrors an accepted LED state change.
//
// Recording actuation alongside sensor data lets dashboards correlate
// commands with their environmental effect.
func (c *Client) WriteActuatorState(red, green int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"led_state",
		map[string]string{
			"site": c.cfg.Org,
		},
		map[string]interface{}{
			"red":   red,
			"green": green,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for measurements that don't fit the helper methods.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
