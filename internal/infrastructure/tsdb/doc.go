// Package tsdb provides time-series metrics storage via InfluxDB v2.
//
// The client batches writes in the background and never blocks the serial
// I/O path: points are queued through the non-blocking write API and flushed
// on an interval, and write failures surface through an optional error
// callback rather than a return value.
//
// Two measurements are recorded:
//
//   - serial_io: counter snapshots of the serial link (bytes in/out,
//     records in, payloads out, send queue depth), tagged by port
//   - http_request: API request observations tagged by route and method
//
// The sink is optional. When disabled in configuration, Connect returns
// ErrDisabled and the caller runs without metrics.
package tsdb
