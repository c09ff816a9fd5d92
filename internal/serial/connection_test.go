package serial

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opencomms/serialgate/internal/infrastructure/config"
)

// fakePort is an in-memory serial port. Bytes pushed to incoming appear as
// reads; writes are captured for assertions.
type fakePort struct {
	incoming chan []byte
	closed   chan struct{}

	mu        sync.Mutex
	written   [][]byte
	closeOnce sync.Once

	readTimeout time.Duration
}

func newFakePort() *fakePort {
	return &fakePort{
		incoming:    make(chan []byte, 64),
		closed:      make(chan struct{}),
		readTimeout: 10 * time.Millisecond,
	}
}

func (p *fakePort) Read(buf []byte) (int, error) {
	select {
	case data := <-p.incoming:
		return copy(buf, data), nil
	case <-p.closed:
		return 0, errors.New("port closed")
	case <-time.After(p.readTimeout):
		return 0, nil
	}
}

func (p *fakePort) Write(data []byte) (int, error) {
	select {
	case <-p.closed:
		return 0, errors.New("port closed")
	default:
	}
	p.mu.Lock()
	p.written = append(p.written, append([]byte(nil), data...))
	p.mu.Unlock()
	return len(data), nil
}

func (p *fakePort) Close() error {
	p.closeOnce.Do(func() { close(p.closed) })
	return nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }

func (p *fakePort) writes() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.written))
	copy(out, p.written)
	return out
}

// waitForWrite blocks until the port has seen at least n writes.
func (p *fakePort) waitForWrite(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(p.writes()) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d writes, have %d", n, len(p.writes()))
}

func testConnection(t *testing.T, cfg config.SerialConfig) (*Connection, *fakePort) {
	t.Helper()

	if cfg.QueueSize == 0 {
		cfg.QueueSize = 256
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 0.5
	}
	if cfg.Port == "" {
		cfg.Port = "/dev/ttyFAKE0"
	}
	cfg.Baud = 9600

	port := newFakePort()
	conn := New(cfg)
	conn.settleDelay = 0
	conn.opener = func(string, int) (Port, error) { return port, nil }

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() {
		if conn.IsConnected() {
			conn.Close()
		}
	})

	return conn, port
}

// waitForRecords blocks until the connection has buffered at least n records.
func waitForRecords(t *testing.T, conn *Connection, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := conn.Receive(n - 1); ok {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d records", n)
}

func TestConvBytesToStr(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		readUntil string
		strip     bool
		want      string
	}{
		{"whole string", "abcdef\r\n", "", false, "abcdef\r\n"},
		{"strip trailing", "abcdef\r\n", "", true, "abcdef"},
		{"strip leading and trailing only", "  a b c  \n", "", true, "a b c"},
		{"read until terminator", "123456", "6", false, "12345"},
		{"read until first occurrence", "ab;cd;ef", ";", false, "ab"},
		{"terminator absent returns whole", "abcdef", "x", false, "abcdef"},
		{"read until then strip", " hello ;rest", ";", true, "hello"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convBytesToStr([]byte(tt.data), tt.readUntil, tt.strip)
			if got != tt.want {
				t.Errorf("convBytesToStr(%q, %q, %v) = %q, want %q", tt.data, tt.readUntil, tt.strip, got, tt.want)
			}
		})
	}
}

func TestConnect_AlreadyConnected(t *testing.T) {
	conn, _ := testConnection(t, config.SerialConfig{})

	if err := conn.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect() error = %v, want ErrAlreadyConnected", err)
	}
}

func TestClose_NotConnected(t *testing.T) {
	conn := New(config.SerialConfig{Port: "/dev/ttyFAKE0", Baud: 9600, QueueSize: 4})

	if err := conn.Close(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Close() error = %v, want ErrNotConnected", err)
	}
}

func TestReceive_Empty(t *testing.T) {
	conn, _ := testConnection(t, config.SerialConfig{})

	if _, ok := conn.Receive(0); ok {
		t.Error("Receive(0) on empty ring should report no data")
	}
	if _, ok := conn.ReceiveStr(0, "", true); ok {
		t.Error("ReceiveStr on empty ring should report no data")
	}
}

func TestReceive_NumBefore(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{})

	port.incoming <- []byte("first\r\n")
	waitForRecords(t, conn, 1)
	port.incoming <- []byte("second\r\n")
	waitForRecords(t, conn, 2)

	rec, ok := conn.ReceiveStr(0, "", true)
	if !ok || rec.Data != "second" {
		t.Errorf("ReceiveStr(0) = %q, %v; want \"second\", true", rec.Data, ok)
	}

	rec, ok = conn.ReceiveStr(1, "", true)
	if !ok || rec.Data != "first" {
		t.Errorf("ReceiveStr(1) = %q, %v; want \"first\", true", rec.Data, ok)
	}

	if _, ok := conn.Receive(2); ok {
		t.Error("Receive(2) past end of ring should report no data")
	}
	if _, ok := conn.Receive(-1); ok {
		t.Error("Receive(-1) should report no data")
	}
}

func TestReceive_RingTrimsOldest(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{QueueSize: 2})

	for _, s := range []string{"a", "b", "c"} {
		port.incoming <- []byte(s)
		waitForRecords(t, conn, 1)
	}

	// ring holds at most 2; wait until "c" is newest
	deadline := time.Now().Add(2 * time.Second)
	for {
		if rec, ok := conn.ReceiveStr(0, "", false); ok && rec.Data == "c" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for newest record")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, ok := conn.Receive(2); ok {
		t.Error("ring should have trimmed the oldest record")
	}
	rec, ok := conn.ReceiveStr(1, "", false)
	if !ok || rec.Data != "b" {
		t.Errorf("ReceiveStr(1) = %q, %v; want \"b\", true", rec.Data, ok)
	}
}

func TestAllReceiveStr(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{})

	port.incoming <- []byte("one\r\n")
	waitForRecords(t, conn, 1)
	port.incoming <- []byte("two\r\n")
	waitForRecords(t, conn, 2)

	all := conn.AllReceiveStr("", true)
	if len(all) != 2 {
		t.Fatalf("AllReceiveStr returned %d records, want 2", len(all))
	}
	if all[0].Data != "one" || all[1].Data != "two" {
		t.Errorf("AllReceiveStr order = [%q, %q], want oldest first", all[0].Data, all[1].Data)
	}
}

func TestSend_JoinsAndAppendsEnding(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{})

	if err := conn.Send([]string{"a", "b", "c"}, "\r\n", " "); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	port.waitForWrite(t, 1)
	if got := string(port.writes()[0]); got != "a b c\r\n" {
		t.Errorf("written payload = %q, want %q", got, "a b c\r\n")
	}
}

func TestSend_CustomConcatenateAndEnding(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{})

	if err := conn.Send([]string{"x", "y"}, "\n", ","); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	port.waitForWrite(t, 1)
	if got := string(port.writes()[0]); got != "x,y\n" {
		t.Errorf("written payload = %q, want %q", got, "x,y\n")
	}
}

func TestSend_NoData(t *testing.T) {
	conn, _ := testConnection(t, config.SerialConfig{})

	if err := conn.Send(nil, "\r\n", " "); !errors.Is(err, ErrNoData) {
		t.Errorf("Send(nil) error = %v, want ErrNoData", err)
	}
}

func TestSend_NotConnected(t *testing.T) {
	conn := New(config.SerialConfig{Port: "/dev/ttyFAKE0", Baud: 9600, QueueSize: 4})

	if err := conn.Send([]string{"x"}, "\r\n", " "); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send() on closed connection error = %v, want ErrNotConnected", err)
	}
}

func TestSend_IntervalEnforced(t *testing.T) {
	conn, _ := testConnection(t, config.SerialConfig{SendInterval: 10})

	if err := conn.Send([]string{"x"}, "\r\n", " "); err != nil {
		t.Fatalf("first Send() error = %v", err)
	}
	if err := conn.Send([]string{"y"}, "\r\n", " "); !errors.Is(err, ErrSendInterval) {
		t.Errorf("second Send() error = %v, want ErrSendInterval", err)
	}
}

func TestGet_ReturnsFirstNewRecord(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{})

	// A record already buffered must not satisfy Get.
	port.incoming <- []byte("stale\r\n")
	waitForRecords(t, conn, 1)

	go func() {
		time.Sleep(30 * time.Millisecond)
		port.incoming <- []byte("fresh\r\n")
	}()

	rec, ok := conn.Get(context.Background(), "", true)
	if !ok {
		t.Fatal("Get() reported no data")
	}
	if rec.Data != "fresh" {
		t.Errorf("Get() = %q, want %q", rec.Data, "fresh")
	}
}

func TestGet_Timeout(t *testing.T) {
	conn, _ := testConnection(t, config.SerialConfig{Timeout: 0.05})

	if _, ok := conn.Get(context.Background(), "", true); ok {
		t.Error("Get() should time out with no incoming data")
	}
}

func TestGetFirstResponse(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{})

	go func() {
		for len(port.writes()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		port.incoming <- []byte("PONG\r\n")
	}()

	rec, ok, err := conn.GetFirstResponse(context.Background(), []string{"PING"}, "\r\n", " ", "", true)
	if err != nil {
		t.Fatalf("GetFirstResponse() error = %v", err)
	}
	if !ok {
		t.Fatal("GetFirstResponse() reported no response")
	}
	if rec.Data != "PONG" {
		t.Errorf("GetFirstResponse() = %q, want %q", rec.Data, "PONG")
	}
}

func TestGetFirstResponse_SendError(t *testing.T) {
	conn, _ := testConnection(t, config.SerialConfig{})

	_, _, err := conn.GetFirstResponse(context.Background(), nil, "\r\n", " ", "", true)
	if !errors.Is(err, ErrNoData) {
		t.Errorf("GetFirstResponse(nil) error = %v, want ErrNoData", err)
	}
}

func TestWaitForResponse_Match(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{})

	go func() {
		time.Sleep(20 * time.Millisecond)
		port.incoming <- []byte("nope\r\n")
		time.Sleep(20 * time.Millisecond)
		port.incoming <- []byte("READY\r\n")
	}()

	if !conn.WaitForResponse(context.Background(), "READY", true) {
		t.Error("WaitForResponse() should match stripped READY")
	}
}

func TestWaitForResponse_Timeout(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{Timeout: 0.05})

	port.incoming <- []byte("other\r\n")
	if conn.WaitForResponse(context.Background(), "READY", true) {
		t.Error("WaitForResponse() should time out without a match")
	}
}

func TestSendForResponse(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{Timeout: 2})

	go func() {
		for len(port.writes()) == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		port.incoming <- []byte("ACK\r\n")
	}()

	if !conn.SendForResponse(context.Background(), "ACK", []string{"CMD"}, "\r\n", " ", true) {
		t.Error("SendForResponse() should succeed once the device acknowledges")
	}
}

func TestSendForResponse_Timeout(t *testing.T) {
	conn, _ := testConnection(t, config.SerialConfig{Timeout: 0.1})

	if conn.SendForResponse(context.Background(), "ACK", []string{"CMD"}, "\r\n", " ", true) {
		t.Error("SendForResponse() should time out without an acknowledgement")
	}
}

func TestOnRecord_ListenerInvoked(t *testing.T) {
	cfg := config.SerialConfig{Port: "/dev/ttyFAKE0", Baud: 9600, QueueSize: 4, Timeout: 0.5}
	port := newFakePort()
	conn := New(cfg)
	conn.settleDelay = 0
	conn.opener = func(string, int) (Port, error) { return port, nil }

	got := make(chan Record, 1)
	conn.OnRecord(func(rec Record) { got <- rec })

	if err := conn.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer conn.Close()

	port.incoming <- []byte("event\r\n")

	select {
	case rec := <-got:
		if string(rec.Data) != "event\r\n" {
			t.Errorf("listener record = %q, want %q", rec.Data, "event\r\n")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener was not invoked")
	}
}

func TestClose_ResetsState(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{})

	port.incoming <- []byte("data\r\n")
	waitForRecords(t, conn, 1)

	if err := conn.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if conn.IsConnected() {
		t.Error("IsConnected() should be false after Close")
	}
	if _, ok := conn.Receive(0); ok {
		t.Error("receive ring should be cleared after Close")
	}
	if err := conn.Close(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second Close() error = %v, want ErrNotConnected", err)
	}
}

func TestStats(t *testing.T) {
	conn, port := testConnection(t, config.SerialConfig{})

	port.incoming <- []byte("12345")
	waitForRecords(t, conn, 1)

	if err := conn.Send([]string{"abc"}, "\r\n", " "); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	port.waitForWrite(t, 1)

	stats := conn.Stats()
	if stats.BytesIn != 5 {
		t.Errorf("Stats().BytesIn = %d, want 5", stats.BytesIn)
	}
	if stats.BytesOut != 5 { // "abc\r\n"
		t.Errorf("Stats().BytesOut = %d, want 5", stats.BytesOut)
	}
	if stats.RecordsIn != 1 {
		t.Errorf("Stats().RecordsIn = %d, want 1", stats.RecordsIn)
	}
	if !stats.Connected {
		t.Error("Stats().Connected should be true")
	}
}
