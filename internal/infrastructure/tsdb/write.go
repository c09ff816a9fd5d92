package tsdb

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
)

// IOSample is a point-in-time snapshot of serial link activity.
type IOSample struct {
	BytesIn        uint64
	BytesOut       uint64
	RecordsIn      uint64
	PayloadsOut    uint64
	SendQueueDepth int
	Connected      bool
}

// WriteIOSample records a serial I/O snapshot.
//
// Non-blocking: the point is queued and batched by the write API.
// Silently discards the point when not connected.
//
// Parameters:
//   - port: Serial port path, used as a tag
//   - sample: Counter snapshot to record
func (c *Client) WriteIOSample(port string, sample IOSample) {
	if !c.IsConnected() {
		return
	}

	point := influxdb2.NewPoint(
		"serial_io",
		map[string]string{
			"port": port,
		},
		map[string]interface{}{
			"bytes_in":         sample.BytesIn,
			"bytes_out":        sample.BytesOut,
			"records_in":       sample.RecordsIn,
			"payloads_out":     sample.PayloadsOut,
			"send_queue_depth": sample.SendQueueDepth,
			"connected":        sample.Connected,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}

// WriteHTTPRequest records an API request observation.
//
// Non-blocking: the point is queued and batched by the write API.
//
// Parameters:
//   - route: Matched route pattern, used as a tag
//   - method: HTTP method, used as a tag
//   - status: Response status code
//   - duration: Request handling time
func (c *Client) WriteHTTPRequest(route, method string, status int, duration time.Duration) {
	if !c.IsConnected() {
		return
	}

	point := influxdb2.NewPoint(
		"http_request",
		map[string]string{
			"route":  route,
			"method": method,
		},
		map[string]interface{}{
			"status":      status,
			"duration_ms": float64(duration.Microseconds()) / 1000.0,
		},
		time.Now(),
	)

	c.writeAPI.WritePoint(point)
}
