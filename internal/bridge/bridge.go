package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opencomms/serialgate/internal/serial"
)

// Bridge operation constants.
const (
	// defaultQoS is the MQTT QoS level used for publishes and subscriptions.
	defaultQoS = 1

	// sendRetryDelay is the backoff before retrying a rate-limited send.
	sendRetryDelay = 100 * time.Millisecond

	// sendTimeout bounds how long a single MQTT-triggered send may retry.
	sendTimeout = 5 * time.Second

	// rxQueueSize is the capacity of the publish queue between the serial
	// IO goroutine and the publish loop. When the broker cannot keep up
	// the oldest unqueued records are dropped and counted.
	rxQueueSize = 256

	// defaultEnding is appended to send payloads when the message omits one.
	defaultEnding = "\r\n"

	// defaultConcatenate joins send fragments when the message omits one.
	defaultConcatenate = " "
)

// Bridge mirrors serial traffic onto MQTT: every record read from the
// port is published to the rx topic, and send requests arriving on the
// tx topic are queued onto the serial connection.
//
// Thread Safety: All methods are safe for concurrent use.
type Bridge struct {
	mqtt MQTTClient
	conn SerialConn
	port string

	rxTopic   string
	sendTopic string

	published atomic.Uint64
	forwarded atomic.Uint64
	dropped   atomic.Uint64

	rxQueue chan serial.Record

	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
	ctx       context.Context
	ctxCancel context.CancelFunc

	logger   Logger
	loggerMu sync.RWMutex
}

// MQTTClient is the interface for MQTT operations.
// This allows mocking in tests and flexibility in implementation.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler func(topic string, payload []byte) error) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool
}

// SerialConn is the subset of the serial connection the bridge needs.
type SerialConn interface {
	// Send queues fragments for transmission on the port.
	Send(fragments []string, ending, concatenate string) error

	// OnRecord registers a listener called for every record read.
	OnRecord(fn func(serial.Record))

	// IsConnected reports whether the port is open.
	IsConnected() bool
}

// Logger is the interface for optional structured logging.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// MQTTClient is the MQTT client implementation.
	MQTTClient MQTTClient

	// Conn is the serial connection.
	Conn SerialConn

	// Port is the serial port path, included in published records.
	Port string

	// RxTopic is the topic received records are published to.
	RxTopic string

	// SendTopic is the topic the bridge subscribes to for send requests.
	SendTopic string

	// Logger is optional structured logger.
	Logger Logger
}

// RxMessage is the payload published for each received record.
type RxMessage struct {
	Port      string    `json:"port"`
	Timestamp time.Time `json:"timestamp"`
	Data      string    `json:"data"`
}

// SendMessage is the payload accepted on the send topic.
// Ending and concatenate are optional; absent fields take the same
// defaults as the HTTP send endpoints ("\r\n" and " ").
type SendMessage struct {
	Data        []string `json:"data"`
	Ending      *string  `json:"ending"`
	Concatenate *string  `json:"concatenate"`
}

// New creates a new bridge instance.
// Call Start() to begin operation.
func New(opts Options) (*Bridge, error) {
	if opts.MQTTClient == nil {
		return nil, fmt.Errorf("MQTT client is required")
	}
	if opts.Conn == nil {
		return nil, fmt.Errorf("serial connection is required")
	}
	if opts.RxTopic == "" || opts.SendTopic == "" {
		return nil, fmt.Errorf("rx and send topics are required")
	}

	// Bridge-level context aborts in-flight sends on Stop()
	ctx, ctxCancel := context.WithCancel(context.Background())

	return &Bridge{
		mqtt:      opts.MQTTClient,
		conn:      opts.Conn,
		port:      opts.Port,
		rxTopic:   opts.RxTopic,
		sendTopic: opts.SendTopic,
		rxQueue:   make(chan serial.Record, rxQueueSize),
		done:      make(chan struct{}),
		ctx:       ctx,
		ctxCancel: ctxCancel,
		logger:    opts.Logger,
	}, nil
}

// Start begins bridge operation.
// This registers the serial record listener, subscribes to the send
// topic, and starts the publish loop.
func (b *Bridge) Start(ctx context.Context) error {
	b.conn.OnRecord(b.handleRecord)

	if err := b.mqtt.Subscribe(b.sendTopic, defaultQoS, b.handleSendMessage); err != nil {
		return fmt.Errorf("subscribe to send topic: %w", err)
	}

	b.wg.Add(1)
	go b.publishLoop()

	b.logInfo("bridge started",
		"rx_topic", b.rxTopic,
		"send_topic", b.sendTopic)

	return nil
}

// Stop gracefully shuts down the bridge.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		close(b.done)
		b.ctxCancel()
		b.wg.Wait()
		b.logInfo("bridge stopped")
	})
}

// handleRecord queues a received record for publishing. It runs on the
// serial IO goroutine and must not block: when the queue is full the
// record is dropped and counted.
func (b *Bridge) handleRecord(rec serial.Record) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.rxQueue <- rec:
	default:
		b.dropped.Add(1)
		b.logDebug("rx queue full, dropping record")
	}
}

// publishLoop drains queued records onto the rx topic. Publishing here
// keeps broker ack latency off the serial IO goroutine.
func (b *Bridge) publishLoop() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case rec := <-b.rxQueue:
			b.publishRecord(rec)
		}
	}
}

// publishRecord publishes a single record to the rx topic.
func (b *Bridge) publishRecord(rec serial.Record) {
	if !b.mqtt.IsConnected() {
		b.dropped.Add(1)
		return
	}

	payload, err := json.Marshal(RxMessage{
		Port:      b.port,
		Timestamp: rec.Time,
		Data:      string(rec.Data),
	})
	if err != nil {
		b.logError("failed to marshal record", err)
		return
	}

	if err := b.mqtt.Publish(b.rxTopic, payload, defaultQoS, false); err != nil {
		b.dropped.Add(1)
		b.logError("failed to publish record", err)
		return
	}
	b.published.Add(1)
}

// handleSendMessage forwards an MQTT send request to the serial port.
func (b *Bridge) handleSendMessage(topic string, payload []byte) error {
	var msg SendMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		b.logError("failed to parse send message", err)
		return fmt.Errorf("parse send message: %w", err)
	}

	if len(msg.Data) == 0 {
		b.logError("send message has no data", fmt.Errorf("topic: %s", topic))
		return fmt.Errorf("send message has no data")
	}

	ending := defaultEnding
	if msg.Ending != nil {
		ending = *msg.Ending
	}
	concatenate := defaultConcatenate
	if msg.Concatenate != nil {
		concatenate = *msg.Concatenate
	}

	// Queue in the background so a rate-limited port never blocks the
	// MQTT client's handler goroutine.
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.forwardSend(msg.Data, ending, concatenate)
	}()

	return nil
}

// forwardSend queues the message on the serial connection, retrying
// while the send interval gate rejects it.
func (b *Bridge) forwardSend(fragments []string, ending, concatenate string) {
	ctx, cancel := context.WithTimeout(b.ctx, sendTimeout)
	defer cancel()

	for {
		err := b.conn.Send(fragments, ending, concatenate)
		if err == nil {
			b.forwarded.Add(1)
			return
		}
		if !errors.Is(err, serial.ErrSendInterval) {
			b.dropped.Add(1)
			b.logError("failed to queue send", err)
			return
		}

		select {
		case <-ctx.Done():
			b.dropped.Add(1)
			b.logDebug("send request timed out waiting for interval")
			return
		case <-time.After(sendRetryDelay):
		}
	}
}

// Metrics contains bridge counters for diagnostics.
type Metrics struct {
	Published uint64 `json:"published"`
	Forwarded uint64 `json:"forwarded"`
	Dropped   uint64 `json:"dropped"`
}

// GetMetrics returns a snapshot of bridge counters.
func (b *Bridge) GetMetrics() Metrics {
	return Metrics{
		Published: b.published.Load(),
		Forwarded: b.forwarded.Load(),
		Dropped:   b.dropped.Load(),
	}
}

// SetLogger sets the logger for the bridge.
func (b *Bridge) SetLogger(logger Logger) {
	b.loggerMu.Lock()
	b.logger = logger
	b.loggerMu.Unlock()
}

// logInfo logs an info message if logger is set.
func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

// logDebug logs a debug message if logger is set.
func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

// logError logs an error message if logger is set.
func (b *Bridge) logError(msg string, err error) {
	b.loggerMu.RLock()
	logger := b.logger
	b.loggerMu.RUnlock()

	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
