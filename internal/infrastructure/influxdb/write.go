package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// ReadingMeasurement holds numeric device attribute readings.
const ReadingMeasurement = "onewire_readings"

// WriteReading records one numeric attribute reading.
//
// Tags are device_id, family and attribute; the value goes in the "value"
// field. The write is batched and returns immediately.
//
// Example:
//
//	client.WriteReading("28.0000063B3E31", "28", "temperature", 19.25, at)
func (c *Client) WriteReading(deviceID, family, attribute string, value float64, at time.Time) {
	c.WritePoint(ReadingMeasurement,
		map[string]string{
			"device_id": deviceID,
			"family":    family,
			"attribute": attribute,
		},
		map[string]any{"value": value},
		at,
	)
}

// WritePoint writes an arbitrary point. A zero timestamp means now.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]any, at time.Time) {
	if !c.IsConnected() {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, at))
}
