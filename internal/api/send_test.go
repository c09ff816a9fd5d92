package api

import (
	"net/http"
	"testing"

	"github.com/opencomms/serialgate/internal/serial"
)

// ─── POST /send ────────────────────────────────────────────────────

func TestSend(t *testing.T) {
	srv, conn := testServer(t)

	code, resp := doJSON(t, srv, http.MethodPost, "/send", `{"data": ["hello"]}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp["message"] != "OK" {
		t.Errorf("message = %v, want OK", resp["message"])
	}

	calls := conn.getSendCalls()
	if len(calls) != 1 {
		t.Fatalf("send calls = %d, want 1", len(calls))
	}
	if calls[0].Ending != "\r\n" || calls[0].Concatenate != " " {
		t.Errorf("defaults not applied: ending %q concatenate %q", calls[0].Ending, calls[0].Concatenate)
	}
}

func TestSendMultipleFragments(t *testing.T) {
	srv, conn := testServer(t)

	code, _ := doJSON(t, srv, http.MethodPost, "/send",
		`{"data": ["AT", "CREG?"], "ending": "\n", "concatenate": "+"}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}

	calls := conn.getSendCalls()
	if len(calls) != 1 {
		t.Fatalf("send calls = %d, want 1", len(calls))
	}
	call := calls[0]
	if len(call.Fragments) != 2 || call.Fragments[0] != "AT" || call.Fragments[1] != "CREG?" {
		t.Errorf("fragments = %v, want [AT CREG?]", call.Fragments)
	}
	if call.Ending != "\n" {
		t.Errorf("ending = %q, want \\n", call.Ending)
	}
	if call.Concatenate != "+" {
		t.Errorf("concatenate = %q, want +", call.Concatenate)
	}
}

func TestSendMissingData(t *testing.T) {
	srv, conn := testServer(t)

	code, _ := doJSON(t, srv, http.MethodPost, "/send", `{"ending": "\n"}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
	}
	if len(conn.getSendCalls()) != 0 {
		t.Error("invalid request must not reach the connection")
	}
}

func TestSendInvalidBody(t *testing.T) {
	srv, conn := testServer(t)

	code, _ := doJSON(t, srv, http.MethodPost, "/send", `{"data": "not-a-list"}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
	}
	if len(conn.getSendCalls()) != 0 {
		t.Error("invalid request must not reach the connection")
	}
}

func TestSendFailure(t *testing.T) {
	srv, conn := testServer(t)
	conn.sendErr = serial.ErrSendInterval

	code, resp := doJSON(t, srv, http.MethodPost, "/send", `{"data": ["hello"]}`)
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", code, http.StatusBadGateway)
	}
	if resp["message"] != "Failed to send" {
		t.Errorf("message = %v, want Failed to send", resp["message"])
	}
}

// ─── POST /send/get_first ──────────────────────────────────────────

func TestSendGetFirst(t *testing.T) {
	srv, conn := testServer(t)
	conn.firstRec = serial.StrRecord{Time: testTime, Data: "OK"}
	conn.firstOK = true

	code, resp := doJSON(t, srv, http.MethodPost, "/send/get_first", `{"data": ["AT"]}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp["message"] != "OK" {
		t.Errorf("message = %v, want OK", resp["message"])
	}
	if resp["data"] != "OK" {
		t.Errorf("data = %v, want OK", resp["data"])
	}
	if resp["timestamp"] == nil {
		t.Error("timestamp must be set when a record was received")
	}
}

func TestSendGetFirstNothingReceived(t *testing.T) {
	srv, conn := testServer(t)
	conn.firstOK = false

	code, resp := doJSON(t, srv, http.MethodPost, "/send/get_first", `{"data": ["AT"]}`)
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", code, http.StatusBadGateway)
	}
	if resp["message"] != "Nothing received" {
		t.Errorf("message = %v, want Nothing received", resp["message"])
	}
}

func TestSendGetFirstSendFailure(t *testing.T) {
	srv, conn := testServer(t)
	conn.firstErr = serial.ErrNotConnected

	code, resp := doJSON(t, srv, http.MethodPost, "/send/get_first", `{"data": ["AT"]}`)
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", code, http.StatusBadGateway)
	}
	if resp["message"] != "Failed to send" {
		t.Errorf("message = %v, want Failed to send", resp["message"])
	}
}

func TestSendGetFirstMissingData(t *testing.T) {
	srv, conn := testServer(t)

	code, _ := doJSON(t, srv, http.MethodPost, "/send/get_first", `{"read_until": "\n"}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
	}
	if len(conn.getSendCalls()) != 0 {
		t.Error("invalid request must not reach the connection")
	}
}

// ─── POST /send/get ────────────────────────────────────────────────

func TestSendGet(t *testing.T) {
	srv, conn := testServer(t)
	conn.sendForOK = true

	code, resp := doJSON(t, srv, http.MethodPost, "/send/get",
		`{"response": "OK", "data": ["AT"]}`)
	if code != http.StatusOK {
		t.Fatalf("status = %d, want %d", code, http.StatusOK)
	}
	if resp["message"] != "OK" {
		t.Errorf("message = %v, want OK", resp["message"])
	}

	conn.mu.Lock()
	waited := conn.waitResponses
	conn.mu.Unlock()
	if len(waited) != 1 || waited[0] != "OK" {
		t.Errorf("waited responses = %v, want [OK]", waited)
	}
}

func TestSendGetTimeout(t *testing.T) {
	srv, conn := testServer(t)
	conn.sendForOK = false

	code, resp := doJSON(t, srv, http.MethodPost, "/send/get",
		`{"response": "OK", "data": ["AT"]}`)
	if code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", code, http.StatusBadGateway)
	}
	if resp["message"] != "Timed out" {
		t.Errorf("message = %v, want Timed out", resp["message"])
	}
}

func TestSendGetMissingResponse(t *testing.T) {
	srv, conn := testServer(t)

	code, _ := doJSON(t, srv, http.MethodPost, "/send/get", `{"data": ["AT"]}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
	}
	if len(conn.getSendCalls()) != 0 {
		t.Error("invalid request must not reach the connection")
	}
}

func TestSendGetMissingData(t *testing.T) {
	srv, conn := testServer(t)

	code, _ := doJSON(t, srv, http.MethodPost, "/send/get", `{"response": "OK"}`)
	if code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", code, http.StatusBadRequest)
	}
	if len(conn.getSendCalls()) != 0 {
		t.Error("invalid request must not reach the connection")
	}
}
