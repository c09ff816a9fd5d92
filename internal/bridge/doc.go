// Package bridge mirrors serial traffic onto MQTT.
//
// The bridge sits between the serial connection and the MQTT broker:
//
//	┌─────────────────┐           ┌─────────────────┐
//	│  MQTT Broker    │   MQTT    │     Bridge      │  records
//	│                 │◄─────────►│   (this pkg)    │◄─────────► serial.Connection
//	└─────────────────┘           └─────────────────┘
//
// # Key Responsibilities
//
//   - Publish every record read from the port to the rx topic as JSON,
//     buffered through a publish queue so broker latency never stalls
//     the serial IO goroutine
//   - Accept send requests on the tx topic and queue them on the port
//   - Retry rate-limited sends without blocking the MQTT handler
//
// The bridge is optional: when MQTT is disabled in configuration the
// service runs without it and the REST API remains the only surface.
//
// # Thread Safety
//
// All exported types are safe for concurrent use from multiple goroutines.
package bridge
