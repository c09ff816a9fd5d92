package serial

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencomms/serialgate/internal/infrastructure/config"
)

// Connection operation constants.
const (
	// readBufferSize is the size of the buffer used for each port read.
	readBufferSize = 4096

	// readPollTimeout is the read timeout set on the port so the IO
	// goroutine can interleave sends and observe shutdown.
	readPollTimeout = 100 * time.Millisecond

	// sendDrainBudget is how long each IO loop iteration spends draining
	// the send queue before returning to reads.
	sendDrainBudget = 500 * time.Millisecond

	// sendRetryInterval is the polling cadence of SendForResponse between
	// send attempts and match checks.
	sendRetryInterval = 50 * time.Millisecond

	// maxSendQueue is the maximum number of queued outgoing payloads.
	maxSendQueue = 65536

	// defaultSettleDelay is how long Connect waits after opening the port
	// before starting IO. Many microcontroller boards reset when the port
	// is opened and need a moment before they accept data.
	defaultSettleDelay = 2 * time.Second
)

// Logger is the logging interface accepted by the connection.
// Satisfied by logging.Logger; a no-op logger is used when unset.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Port is the subset of a serial port used by the connection.
// Satisfied by go.bug.st/serial.Port; tests substitute an in-memory fake.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetReadTimeout(t time.Duration) error
}

// Opener opens a serial port by device path and baud rate.
type Opener func(port string, baud int) (Port, error)

// Connection is a buffered interface to a serial port.
//
// An IO goroutine continuously reads the port, appending each non-empty read
// to a bounded ring of receive Records, and drains a bounded queue of
// outgoing payloads. All public methods are safe for concurrent use; this is
// the concurrency discipline the HTTP layer relies on instead of providing
// its own locking.
type Connection struct {
	cfg    config.SerialConfig
	opener Opener

	// settleDelay is the pause after opening the port before IO starts.
	// Overridable in tests.
	settleDelay time.Duration

	mu       sync.Mutex
	port     Port
	records  []Record // ring of previous receives, newest last
	seq      uint64   // count of records ever appended
	notify   chan struct{}
	sendq    [][]byte
	lastSent time.Time

	// I/O counters for metrics.
	bytesIn  atomic.Uint64
	bytesOut atomic.Uint64
	received atomic.Uint64
	sent     atomic.Uint64

	// listeners are invoked for every appended record (WebSocket tail,
	// MQTT bridge, traffic log). Registered before Connect.
	listeners  []func(Record)
	listenerMu sync.RWMutex

	done chan struct{}
	wg   sync.WaitGroup

	logger   Logger
	loggerMu sync.RWMutex
}

// New creates a Connection for the configured port. The port is not opened
// until Connect is called.
func New(cfg config.SerialConfig) *Connection {
	return &Connection{
		cfg:         cfg,
		opener:      systemOpener,
		settleDelay: defaultSettleDelay,
		notify:      make(chan struct{}),
		logger:      noopLogger{},
	}
}

// SetLogger sets the logger for connection events.
func (c *Connection) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

func (c *Connection) log() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// OnRecord registers a listener invoked for every received record.
// Listeners must not block; they run on the IO goroutine.
// Register listeners before calling Connect.
func (c *Connection) OnRecord(fn func(Record)) {
	c.listenerMu.Lock()
	defer c.listenerMu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// Connect opens the serial port and starts the IO goroutine.
//
// After opening, it waits briefly for the device to settle (boards that
// reset on open drop data sent too early). The wait is cut short if ctx is
// cancelled.
//
// Returns:
//   - error: ErrAlreadyConnected if open, ErrOpenFailed if the port cannot be opened
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.port != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}

	port, err := c.opener(c.cfg.Port, c.cfg.Baud)
	if err != nil {
		c.mu.Unlock()
		return err
	}

	if err := port.SetReadTimeout(readPollTimeout); err != nil {
		port.Close()
		c.mu.Unlock()
		return fmt.Errorf("%w: setting read timeout: %w", ErrOpenFailed, err)
	}

	c.port = port
	c.done = make(chan struct{})
	c.lastSent = time.Time{}
	c.mu.Unlock()

	// Give the device time to settle before IO starts.
	if c.settleDelay > 0 {
		select {
		case <-time.After(c.settleDelay):
		case <-ctx.Done():
		}
	}

	c.wg.Add(1)
	go c.ioLoop(port)

	c.log().Info("serial port opened", "port", c.cfg.Port, "baud", c.cfg.Baud)
	return nil
}

// Close stops the IO goroutine and closes the port.
// The receive ring and send queue are reset.
//
// Returns:
//   - error: ErrNotConnected if the port is not open
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.port == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	port := c.port
	c.port = nil
	close(c.done)
	c.mu.Unlock()

	// Closing the port unblocks any in-flight read.
	err := port.Close()
	c.wg.Wait()

	c.mu.Lock()
	c.records = nil
	c.sendq = nil
	c.mu.Unlock()

	c.log().Info("serial port closed", "port", c.cfg.Port)

	if err != nil {
		return fmt.Errorf("closing serial port: %w", err)
	}
	return nil
}

// IsConnected reports whether the port is open.
func (c *Connection) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// ioLoop reads the port into the receive ring and drains the send queue.
// It exits when the connection is closed or the port errors.
func (c *Connection) ioLoop(port Port) {
	defer c.wg.Done()

	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-c.done:
			return
		default:
		}

		n, err := port.Read(buf)
		if n > 0 {
			c.append(buf[:n])
		}
		if err != nil {
			select {
			case <-c.done:
				// Expected: Close() closed the port under us.
			default:
				c.log().Error("serial read failed", "port", c.cfg.Port, "error", err)
			}
			return
		}

		c.drainSends(port)
	}
}

// append records a receive, trims the ring, and wakes waiters and listeners.
func (c *Connection) append(data []byte) {
	rec := Record{Time: time.Now(), Data: slices.Clone(data)}

	c.mu.Lock()
	c.records = append(c.records, rec)
	if len(c.records) > c.cfg.QueueSize {
		c.records = c.records[1:]
	}
	c.seq++
	close(c.notify)
	c.notify = make(chan struct{})
	c.mu.Unlock()

	c.bytesIn.Add(uint64(len(data)))
	c.received.Add(1)

	c.listenerMu.RLock()
	listeners := slices.Clone(c.listeners)
	c.listenerMu.RUnlock()
	for _, fn := range listeners {
		fn(rec)
	}
}

// drainSends writes queued payloads to the port, spending at most
// sendDrainBudget before returning to reads.
func (c *Connection) drainSends(port Port) {
	deadline := time.Now().Add(sendDrainBudget)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		if len(c.sendq) == 0 {
			c.mu.Unlock()
			return
		}
		data := c.sendq[0]
		c.sendq = c.sendq[1:]
		c.mu.Unlock()

		n, err := port.Write(data)
		if err != nil {
			c.log().Error("serial write failed", "port", c.cfg.Port, "error", err)
			return
		}
		c.bytesOut.Add(uint64(n))
		c.sent.Add(1)
	}
}

// Send queues data for transmission on the serial port.
//
// Fragments are joined with concatenate, suffixed with ending, and enqueued
// as a single payload. Sends are rate-limited: a call made before
// send_interval has elapsed since the previous accepted send is rejected
// with ErrSendInterval and does not reset the timer.
//
// Returns:
//   - error: ErrNoData, ErrNotConnected, ErrSendInterval, or ErrSendQueueFull
func (c *Connection) Send(fragments []string, ending, concatenate string) error {
	if len(fragments) == 0 {
		return ErrNoData
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port == nil {
		return ErrNotConnected
	}

	if interval := c.cfg.GetSendInterval(); time.Since(c.lastSent) <= interval {
		return ErrSendInterval
	}

	if len(c.sendq) >= maxSendQueue {
		return ErrSendQueueFull
	}

	c.lastSent = time.Now()
	payload := strings.Join(fragments, concatenate) + ending
	c.sendq = append(c.sendq, []byte(payload))
	return nil
}

// Receive returns a previous receive record.
//
// numBefore selects how far back to look: 0 is the most recent record, 1 the
// second most recent, and so on. Out-of-range values (including negative)
// report no data rather than an error.
func (c *Connection) Receive(numBefore int) (Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if numBefore < 0 {
		return Record{}, false
	}
	idx := len(c.records) - 1 - numBefore
	if idx < 0 {
		return Record{}, false
	}
	return c.records[idx], true
}

// ReceiveStr returns a previous receive record as a processed string.
// See Receive for numBefore semantics and convBytesToStr for readUntil/strip.
func (c *Connection) ReceiveStr(numBefore int, readUntil string, strip bool) (StrRecord, bool) {
	rec, ok := c.Receive(numBefore)
	if !ok {
		return StrRecord{}, false
	}
	return rec.toStr(readUntil, strip), true
}

// AllReceiveStr returns the entire receive ring as processed strings,
// oldest first.
func (c *Connection) AllReceiveStr(readUntil string, strip bool) []StrRecord {
	c.mu.Lock()
	records := slices.Clone(c.records)
	c.mu.Unlock()

	out := make([]StrRecord, len(records))
	for i, rec := range records {
		out[i] = rec.toStr(readUntil, strip)
	}
	return out
}

// timeout returns the configured blocking-operation timeout.
func (c *Connection) timeout() time.Duration {
	return c.cfg.GetTimeout()
}

// snapshot captures the current sequence number and wake channel, for
// detecting records that arrive after this point.
func (c *Connection) snapshot() (uint64, <-chan struct{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq, c.notify
}

// waitForNew blocks until a record with sequence greater than start arrives,
// returning the newest record. Reports false on timeout or cancellation.
func (c *Connection) waitForNew(ctx context.Context, start uint64, ch <-chan struct{}) (Record, bool) {
	for {
		select {
		case <-ctx.Done():
			return Record{}, false
		case <-ch:
		}

		c.mu.Lock()
		if c.seq > start && len(c.records) > 0 {
			rec := c.records[len(c.records)-1]
			c.mu.Unlock()
			return rec, true
		}
		ch = c.notify
		c.mu.Unlock()
	}
}

// recordsSince returns records appended after *lastSeen, oldest first, and
// advances *lastSeen. The returned slice is bounded by the ring size.
func (c *Connection) recordsSince(lastSeen *uint64) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int(c.seq - *lastSeen)
	if n <= 0 {
		return nil
	}
	if n > len(c.records) {
		n = len(c.records)
	}
	*lastSeen = c.seq
	return slices.Clone(c.records[len(c.records)-n:])
}

// Get blocks until the first record received after the call, processed with
// readUntil and strip. Reports false if nothing arrives within the
// configured timeout or ctx is cancelled first.
func (c *Connection) Get(ctx context.Context, readUntil string, strip bool) (StrRecord, bool) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	start, ch := c.snapshot()
	rec, ok := c.waitForNew(ctx, start, ch)
	if !ok {
		return StrRecord{}, false
	}
	return rec.toStr(readUntil, strip), true
}

// GetFirstResponse sends data and returns the first record received after
// the send. The send error, if any, is returned as-is; a missing response
// within the timeout reports ok=false with a nil error.
func (c *Connection) GetFirstResponse(ctx context.Context, fragments []string, ending, concatenate, readUntil string, strip bool) (StrRecord, bool, error) {
	start, ch := c.snapshot()

	if err := c.Send(fragments, ending, concatenate); err != nil {
		return StrRecord{}, false, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	rec, ok := c.waitForNew(ctx, start, ch)
	if !ok {
		return StrRecord{}, false, nil
	}
	return rec.toStr(readUntil, strip), true, nil
}

// WaitForResponse blocks until a record arriving after the call matches
// response, comparing after optional strip. Reports false on timeout.
func (c *Connection) WaitForResponse(ctx context.Context, response string, strip bool) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	lastSeen, ch := c.snapshot()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-ch:
		}

		for _, rec := range c.recordsSince(&lastSeen) {
			if convBytesToStr(rec.Data, "", strip) == response {
				return true
			}
		}

		_, ch = c.snapshot()
	}
}

// SendForResponse repeatedly sends data until a record matching response
// arrives. Sends respect the configured send interval; attempts rejected by
// the rate limit are retried. Reports false on timeout.
func (c *Connection) SendForResponse(ctx context.Context, response string, fragments []string, ending, concatenate string, strip bool) bool {
	ctx, cancel := context.WithTimeout(ctx, c.timeout())
	defer cancel()

	lastSeen, _ := c.snapshot()
	ticker := time.NewTicker(sendRetryInterval)
	defer ticker.Stop()

	for {
		if err := c.Send(fragments, ending, concatenate); err != nil && !errors.Is(err, ErrSendInterval) {
			return false
		}

		for _, rec := range c.recordsSince(&lastSeen) {
			if convBytesToStr(rec.Data, "", strip) == response {
				return true
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// Stats is a point-in-time snapshot of connection I/O counters.
type Stats struct {
	BytesIn        uint64 `json:"bytes_in"`
	BytesOut       uint64 `json:"bytes_out"`
	RecordsIn      uint64 `json:"records_in"`
	PayloadsOut    uint64 `json:"payloads_out"`
	SendQueueDepth int    `json:"send_queue_depth"`
	Connected      bool   `json:"connected"`
}

// Stats returns current I/O counters for metrics reporting.
func (c *Connection) Stats() Stats {
	c.mu.Lock()
	depth := len(c.sendq)
	connected := c.port != nil
	c.mu.Unlock()

	return Stats{
		BytesIn:        c.bytesIn.Load(),
		BytesOut:       c.bytesOut.Load(),
		RecordsIn:      c.received.Load(),
		PayloadsOut:    c.sent.Load(),
		SendQueueDepth: depth,
		Connected:      connected,
	}
}
