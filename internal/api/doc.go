// Package api implements the HTTP REST API and WebSocket server for serialgate.
//
// This package provides:
//   - REST endpoints mirroring the serial connection: send, receive,
//     blocking get/wait variants, and port enumeration
//   - WebSocket live tail of received records
//   - Traffic log queries backed by SQLite
//   - Middleware stack (request ID, logging, recovery, CORS)
//
// # Architecture
//
// The API server sits between HTTP clients and the serial connection. All
// port access goes through the connection's own synchronisation; handlers
// hold no locks of their own. Every handler validates its input before
// touching the connection, so a malformed request never reaches the port.
//
// # Response Contract
//
// Successful operations respond 200 with a JSON body whose "message" field
// is "OK". Operations that depend on the device respond 502 with a fixed
// message when the device does not cooperate ("Failed to send", "Nothing
// received", "Timed out"). Reads of an empty receive buffer are not errors:
// they respond 200 with null timestamp and data.
//
// # Graceful Degradation
//
// The traffic log is optional. Without a repository the endpoints that
// mirror the port still function; only /history returns 404.
package api
