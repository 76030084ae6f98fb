package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// WriteDispatchOutcome records one command outcome as a telemetry point.
//
// Tags carry the low-cardinality dimensions (device, command, error kind);
// attempt count and latency land in fields. The write is non-blocking.
func (c *Client) WriteDispatchOutcome(deviceID, command string, ok bool, errorKind string, attempts int, elapsed time.Duration) {
	if !c.IsConnected() {
		return
	}

	result := "ok"
	if !ok {
		result = errorKind
	}

	point := write.NewPoint(
		"dispatch",
		map[string]string{
			"device_id": deviceID,
			"command":   command,
			"result":    result,
		},
		map[string]interface{}{
			"ok":         ok,
			"attempts":   attempts,
			"elapsed_ms": float64(elapsed) / float64(time.Millisecond),
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDeviceStatus records a device's numeric and boolean parameters
// after a status refresh. Non-numeric values are skipped; a point with no
// usable fields is not written.
func (c *Client) WriteDeviceStatus(deviceID string, status map[string]any) {
	if !c.IsConnected() {
		return
	}

	fields := make(map[string]interface{})
	for dps, v := range status {
		switch n := v.(type) {
		case bool:
			fields["dps_"+dps] = n
		case int:
			fields["dps_"+dps] = float64(n)
		case int64:
			fields["dps_"+dps] = float64(n)
		case float64:
			fields["dps_"+dps] = n
		}
	}
	if len(fields) == 0 {
		return
	}

	point := write.NewPoint(
		"device_status",
		map[string]string{"device_id": deviceID},
		fields,
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteDiscoverySummary records the result of one discovery pass.
func (c *Client) WriteDiscoverySummary(seen, created, updated int) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(
		"discovery",
		nil,
		map[string]interface{}{
			"seen":    seen,
			"new":     created,
			"updated": updated,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WritePoint writes a custom point for measurements the helpers don't
// cover. Tags should stay low-cardinality.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	if !c.IsConnected() {
		return
	}

	point := write.NewPoint(measurement, tags, fields, time.Now())
	c.writeAPI.WritePoint(point)
}
