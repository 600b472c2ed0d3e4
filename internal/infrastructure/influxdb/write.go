package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names.
const (
	MeasurementTelemetry  = "node_telemetry"
	MeasurementNodeHealth = "node_health"
)

// WriteTelemetry records the numeric readings of one telemetry message.
//
// Non-numeric values are skipped; a payload with no numeric readings writes
// nothing. The timestamp is the server receipt time.
//
//	client.WriteTelemetry("ph_ec_001", "ph_ec", map[string]any{"ph": 6.1, "ec": 1.8}, now)
func (c *Client) WriteTelemetry(nodeID, nodeType string, data map[string]any, receivedAt time.Time) {
	fields := NumericFields(data)
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(MeasurementTelemetry,
		map[string]string{"node_id": nodeID, "node_type": nodeType},
		fields, receivedAt)
}

// WriteNodeHealth records the diagnostics carried by a heartbeat
// (heap_free, rssi_to_parent, uptime...).
func (c *Client) WriteNodeHealth(nodeID string, diagnostics map[string]any, at time.Time) {
	fields := NumericFields(diagnostics)
	if len(fields) == 0 {
		return
	}
	c.WritePointWithTime(MeasurementNodeHealth,
		map[string]string{"node_id": nodeID},
		fields, at)
}

// WritePointWithTime writes a point with full control over tags and fields.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}

// NumericFields keeps the numeric entries of a decoded JSON document as
// float64 fields. Booleans become 0/1.
func NumericFields(data map[string]any) map[string]any {
	fields := make(map[string]any, len(data))
	for k, v := range data {
		switch n := v.(type) {
		case float64:
			fields[k] = n
		case float32:
			fields[k] = float64(n)
		case int:
			fields[k] = float64(n)
		case int64:
			fields[k] = float64(n)
		case bool:
			if n {
				fields[k] = 1.0
			} else {
				fields[k] = 0.0
			}
		}
	}
	return fields
}
