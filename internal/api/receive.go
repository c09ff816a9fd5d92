package api

import (
	"net/http"
)

// receiveRequest is the body of POST /receive.
type receiveRequest struct {
	NumBefore int    `json:"num_before"`
	ReadUntil string `json:"read_until"`
	Strip     bool   `json:"strip"`
}

// handleReceiveGet returns the most recent received record, stripped of
// surrounding whitespace. An empty buffer responds 200 with null timestamp
// and data.
func (s *Server) handleReceiveGet(w http.ResponseWriter, _ *http.Request) {
	rec, ok := s.conn.ReceiveStr(0, "", true)
	writeJSON(w, http.StatusOK, newRecordResponse(rec, ok))
}

// handleReceivePost returns a previous received record.
//
// Body parameters:
//   - num_before: offset from the most recent record (default 0)
//   - read_until: cut the data at the first occurrence of this terminator
//   - strip: trim surrounding whitespace (default false)
//
// Out-of-range offsets respond 200 with null timestamp and data, the same
// as an empty buffer.
func (s *Server) handleReceivePost(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, ok := s.conn.ReceiveStr(req.NumBefore, req.ReadUntil, req.Strip)
	writeJSON(w, http.StatusOK, newRecordResponse(rec, ok))
}

// receiveAllRequest is the body of POST /receive/all.
type receiveAllRequest struct {
	ReadUntil string `json:"read_until"`
	Strip     bool   `json:"strip"`
}

// handleReceiveAllGet returns the entire receive buffer, oldest first,
// stripped of surrounding whitespace.
func (s *Server) handleReceiveAllGet(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, newAllReceiveResponse(s.conn.AllReceiveStr("", true)))
}

// handleReceiveAllPost returns the entire receive buffer, oldest first,
// processed with the given terminator and strip options.
func (s *Server) handleReceiveAllPost(w http.ResponseWriter, r *http.Request) {
	var req receiveAllRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	writeJSON(w, http.StatusOK, newAllReceiveResponse(s.conn.AllReceiveStr(req.ReadUntil, req.Strip)))
}

// getRequest is the body of POST /get.
type getRequest struct {
	ReadUntil string `json:"read_until"`
	Strip     bool   `json:"strip"`
}

// handleGetGet blocks until the next record arrives, stripped of
// surrounding whitespace. Responds 502 {"message": "Nothing received"} if
// nothing arrives within the connection timeout.
func (s *Server) handleGetGet(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.conn.Get(r.Context(), "", true)
	if !ok {
		writeDeviceFailure(w, msgNothingReceived)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(rec, true))
}

// handleGetPost blocks until the next record arrives, processed with the
// given terminator and strip options. Responds 502
// {"message": "Nothing received"} on timeout.
func (s *Server) handleGetPost(w http.ResponseWriter, r *http.Request) {
	var req getRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	rec, ok := s.conn.Get(r.Context(), req.ReadUntil, req.Strip)
	if !ok {
		writeDeviceFailure(w, msgNothingReceived)
		return
	}
	writeJSON(w, http.StatusOK, newRecordResponse(rec, true))
}

// getWaitRequest is the body of POST /get/wait.
type getWaitRequest struct {
	Response string `json:"response"`
	Strip    *bool  `json:"strip"`
}

// handleGetWait blocks until a record matching the expected response
// arrives.
//
// Body parameters:
//   - response: the exact string to wait for (required)
//   - strip: trim surrounding whitespace before comparing (default true)
//
// Responds 200 {"message": "OK"} on a match, 502 {"message": "Timed out"}
// otherwise.
func (s *Server) handleGetWait(w http.ResponseWriter, r *http.Request) {
	var req getWaitRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Response == "" {
		writeBadRequest(w, "response field is required")
		return
	}

	strip := true
	if req.Strip != nil {
		strip = *req.Strip
	}

	if !s.conn.WaitForResponse(r.Context(), req.Response, strip) {
		writeDeviceFailure(w, msgTimedOut)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msgOK})
}
