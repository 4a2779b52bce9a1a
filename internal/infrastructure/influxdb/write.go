package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteProximity writes a single proximity evaluation to InfluxDB.
//
// This is the primary method for recording detection telemetry. Every
// evaluated scan window produces one point, so the series doubles as an
// RSSI calibration log.
//
// The write is non-blocking; data is batched and sent asynchronously.
//
// Parameters:
//   - close: whether a tracked tag was inside the threshold distance
//   - distanceFeet: estimated distance of the strongest match (0 if none)
//   - rssi: raw RSSI of the strongest match in dBm (0 if none)
//
// Example:
//
//	client.WriteProximity(true, 2.4, -48)
func (c *Client) WriteProximity(close bool, distanceFeet float64, rssi int) {
	if !c.IsConnected() {
		return
	}

	closeVal := 0
	if close {
		closeVal = 1
	}

	fields := map[string]interface{}{
		"close": closeVal,
	}
	if rssi != 0 {
		fields["distance_feet"] = distanceFeet
		fields["rssi"] = rssi
	}

	point := write.NewPoint(
		"proximity",
		nil,
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteLockEvent writes a lock state transition.
//
// Parameters:
//   - state: resulting lock state ("locked" or "unlocked")
//   - trigger: what caused the transition (e.g. "proximity", "timeout",
//     "mqtt", "api")
func (c *Client) WriteLockEvent(state string, trigger string) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"lock_events",
		map[string]string{
			"state":   state,
			"trigger": trigger,
		},
		map[string]interface{}{
			"value": 1,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteStatus writes a periodic service status snapshot.
//
// Used by the status reporter to chart uptime and detection activity
// alongside proximity data.
//
// Parameters:
//   - lockState: current lock state
//   - tagsSeen: number of tags currently tracked by the registry
//   - uptime: time since the service started
func (c *Client) WriteStatus(lockState string, tagsSeen int, uptime time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"service_status",
		map[string]string{
			"lock_state": lockState,
		},
		map[string]interface{}{
			"tags_seen":      tagsSeen,
			"uptime_seconds": uptime.Seconds(),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point with full control over tags and fields.
//
// Use this for custom measurements that don't fit the helper methods.
//
// Parameters:
//   - measurement: The measurement name (table)
//   - tags: Key-value pairs for indexing (low cardinality)
//   - fields: Key-value pairs for the actual data
//
// Example:
//
//	client.WritePoint("scan_stats",
//	    map[string]string{"adapter": "hci0"},
//	    map[string]interface{}{"advertisements": 142, "window_ms": 4000})
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}

// WritePointWithTime writes a custom point with a specific timestamp.
//
// Use this when the timestamp is not "now" (e.g., delayed data).
//
// Parameters:
//   - measurement: The measurement name
//   - tags: Key-value pairs for indexing
//   - fields: Key-value pairs for the data
//   - timestamp: The exact time for this data point
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, timestamp)
	c.writeAPI.WritePoint(point)
}
