package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/opencomms/serialgate/internal/serial"
)

// ─── GET/POST /receive ─────────────────────────────────────────────

func TestReceiveGet(t *testing.T) {
	srv, conn := testServer(t)
	conn.receiveRec = serial.StrRecord{Time: testTime, Data: "hello"}
	conn.receiveOK = true

	code, resp := doJSON(t, srv, http.MethodGet, "/receive", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp["message"] != "OK" {
		t.Errorf("message = %v, want OK", resp["message"])
	}
	if resp["data"] != "hello" {
		t.Errorf("data = %v, want hello", resp["data"])
	}
	if resp["timestamp"] == nil {
		t.Error("timestamp must be set when a record exists")
	}

	conn.mu.Lock()
	calls := conn.receiveCalls
	conn.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("receive calls = %d, want 1", len(calls))
	}
	// GET strips by default and reads the most recent record.
	if calls[0].NumBefore != 0 || !calls[0].Strip {
		t.Errorf("call = %+v, want num_before 0 with strip", calls[0])
	}
}

func TestReceiveGetEmptyBuffer(t *testing.T) {
	srv, conn := testServer(t)
	conn.receiveOK = false

	code, resp := doJSON(t, srv, http.MethodGet, "/receive", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d: empty buffer is not an error", code, http.StatusOK)
	}
	if resp["message"] != "OK" {
		t.Errorf("message = %v, want OK", resp["message"])
	}
	if resp["timestamp"] != nil {
		t.Errorf("timestamp = %v, want null", resp["timestamp"])
	}
	if resp["data"] != nil {
		t.Errorf("data = %v, want null", resp["data"])
	}
}

func TestReceivePostNumBefore(t *testing.T) {
	srv, conn := testServer(t)
	conn.receiveRec = serial.StrRecord{Time: testTime, Data: "older"}
	conn.receiveOK = true

	code, _ := doJSON(t, srv, http.MethodPost, "/receive",
		`{"num_before": 1, "read_until": "\n", "strip": true}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}

	conn.mu.Lock()
	calls := conn.receiveCalls
	conn.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("receive calls = %d, want 1", len(calls))
	}
	// num_before=1 selects the second most recent record, never the most recent.
	if calls[0].NumBefore != 1 {
		t.Errorf("num_before = %d, want 1", calls[0].NumBefore)
	}
	if calls[0].ReadUntil != "\n" || !calls[0].Strip {
		t.Errorf("call = %+v, want read_until \\n with strip", calls[0])
	}
}

func TestReceivePostDefaults(t *testing.T) {
	srv, conn := testServer(t)
	conn.receiveOK = false

	code, _ := doJSON(t, srv, http.MethodPost, "/receive", `{}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}

	conn.mu.Lock()
	calls := conn.receiveCalls
	conn.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("receive calls = %d, want 1", len(calls))
	}
	if calls[0].NumBefore != 0 || calls[0].ReadUntil != "" || calls[0].Strip {
		t.Errorf("call = %+v, want zero defaults", calls[0])
	}
}

func TestReceivePostInvalidBody(t *testing.T) {
	srv, conn := testServer(t)

	code, _ := doJSON(t, srv, http.MethodPost, "/receive", `{"num_before": "one"}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
	}

	conn.mu.Lock()
	calls := len(conn.receiveCalls)
	conn.mu.Unlock()
	if calls != 0 {
		t.Error("invalid request must not reach the connection")
	}
}

// ─── GET/POST /receive/all ─────────────────────────────────────────

func TestReceiveAll(t *testing.T) {
	srv, conn := testServer(t)
	conn.allRecords = []serial.StrRecord{
		{Time: testTime, Data: "first"},
		{Time: testTime.Add(time.Second), Data: "second"},
	}

	code, resp := doJSON(t, srv, http.MethodGet, "/receive/all", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}

	data, ok := resp["data"].([]any)
	if !ok || len(data) != 2 {
		t.Fatalf("data = %v, want 2 entries", resp["data"])
	}
	if data[0] != "first" || data[1] != "second" {
		t.Errorf("data = %v, want oldest first", data)
	}

	timestamps, ok := resp["timestamps"].([]any)
	if !ok || len(timestamps) != 2 {
		t.Fatalf("timestamps = %v, want 2 entries", resp["timestamps"])
	}
}

func TestReceiveAllEmpty(t *testing.T) {
	srv, _ := testServer(t)

	code, resp := doJSON(t, srv, http.MethodGet, "/receive/all", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}

	// Empty arrays, never null.
	if data, ok := resp["data"].([]any); !ok || len(data) != 0 {
		t.Errorf("data = %v, want []", resp["data"])
	}
	if timestamps, ok := resp["timestamps"].([]any); !ok || len(timestamps) != 0 {
		t.Errorf("timestamps = %v, want []", resp["timestamps"])
	}
}

func TestReceiveAllPostOptions(t *testing.T) {
	srv, conn := testServer(t)

	code, _ := doJSON(t, srv, http.MethodPost, "/receive/all",
		`{"read_until": ";", "strip": true}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}

	conn.mu.Lock()
	calls := conn.allCalls
	conn.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("all calls = %d, want 1", len(calls))
	}
	if calls[0].ReadUntil != ";" || !calls[0].Strip {
		t.Errorf("call = %+v, want read_until ; with strip", calls[0])
	}
}

// ─── GET/POST /get ─────────────────────────────────────────────────

func TestGet(t *testing.T) {
	srv, conn := testServer(t)
	conn.getRec = serial.StrRecord{Time: testTime, Data: "fresh"}
	conn.getOK = true

	code, resp := doJSON(t, srv, http.MethodGet, "/get", "")
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp["data"] != "fresh" {
		t.Errorf("data = %v, want fresh", resp["data"])
	}
}

func TestGetTimeout(t *testing.T) {
	srv, conn := testServer(t)
	conn.getOK = false

	code, resp := doJSON(t, srv, http.MethodGet, "/get", "")
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", code, http.StatusBadGateway)
	}
	if resp["message"] != "Nothing received" {
		t.Errorf("message = %v, want Nothing received", resp["message"])
	}
}

func TestGetPostOptions(t *testing.T) {
	srv, conn := testServer(t)
	conn.getRec = serial.StrRecord{Time: testTime, Data: "value"}
	conn.getOK = true

	code, _ := doJSON(t, srv, http.MethodPost, "/get", `{"read_until": "\n", "strip": true}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}

	conn.mu.Lock()
	calls := conn.getCalls
	conn.mu.Unlock()
	if len(calls) != 1 {
		t.Fatalf("get calls = %d, want 1", len(calls))
	}
	if calls[0].ReadUntil != "\n" || !calls[0].Strip {
		t.Errorf("call = %+v, want read_until \\n with strip", calls[0])
	}
}

// ─── POST /get/wait ────────────────────────────────────────────────

func TestGetWait(t *testing.T) {
	srv, conn := testServer(t)
	conn.waitOK = true

	code, resp := doJSON(t, srv, http.MethodPost, "/get/wait", `{"response": "READY"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp["message"] != "OK" {
		t.Errorf("message = %v, want OK", resp["message"])
	}

	conn.mu.Lock()
	waited := conn.waitResponses
	conn.mu.Unlock()
	if len(waited) != 1 || waited[0] != "READY" {
		t.Errorf("waited responses = %v, want [READY]", waited)
	}
}

func TestGetWaitTimeout(t *testing.T) {
	srv, conn := testServer(t)
	conn.waitOK = false

	code, resp := doJSON(t, srv, http.MethodPost, "/get/wait", `{"response": "READY"}`)
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", code, http.StatusBadGateway)
	}
	if resp["message"] != "Timed out" {
		t.Errorf("message = %v, want Timed out", resp["message"])
	}
}

func TestGetWaitMissingResponse(t *testing.T) {
	srv, conn := testServer(t)

	code, _ := doJSON(t, srv, http.MethodPost, "/get/wait", `{}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
	}

	conn.mu.Lock()
	waited := len(conn.waitResponses)
	conn.mu.Unlock()
	if waited != 0 {
		t.Error("invalid request must not reach the connection")
	}
}
