package serial

import "errors"

// Domain errors for the serial package.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAlreadyConnected is returned when Connect is called on an open connection.
	ErrAlreadyConnected = errors.New("serial: connection already established")

	// ErrNotConnected is returned when an operation requires an open port
	// but the connection is closed.
	ErrNotConnected = errors.New("serial: no connection established")

	// ErrOpenFailed is returned when the underlying port cannot be opened.
	ErrOpenFailed = errors.New("serial: failed to open port")

	// ErrSendInterval is returned when Send is called before the configured
	// minimum interval since the previous send has elapsed.
	ErrSendInterval = errors.New("serial: send interval not elapsed")

	// ErrSendQueueFull is returned when the outgoing queue has no room for
	// another payload.
	ErrSendQueueFull = errors.New("serial: send queue full")

	// ErrNoData is returned by Send when there is nothing to send.
	ErrNoData = errors.New("serial: no data to send")
)
