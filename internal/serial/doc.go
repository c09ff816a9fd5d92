// Package serial provides the buffered serial connection behind the
// serialgate REST API.
//
// A Connection wraps a single serial port. An IO goroutine reads the port
// continuously, keeping a bounded ring of timestamped receive Records, and
// writes queued outgoing payloads. On top of the ring the package offers
// string-oriented helpers: read-until-terminator parsing, blocking
// first-response reads, and wait/retry-until-match loops.
//
//	conn := serial.New(cfg.Serial)
//	if err := conn.Connect(ctx); err != nil { ... }
//	defer conn.Close()
//
//	err := conn.Send([]string{"PING"}, "\r\n", " ")
//	rec, ok := conn.ReceiveStr(0, "", true)
//
// All Connection methods are safe for concurrent use. HTTP handlers call
// straight into it without additional locking.
package serial
