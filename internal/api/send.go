package api

import (
	"net/http"
)

// sendRequest is the shared body shape of the send endpoints. Pointer
// fields distinguish absent parameters from explicit zero values.
type sendRequest struct {
	Data        []string `json:"data"`
	Ending      *string  `json:"ending"`
	Concatenate *string  `json:"concatenate"`
}

// params returns the send parameters with defaults applied.
func (req sendRequest) params() (fragments []string, ending, concatenate string) {
	ending = defaultEnding
	if req.Ending != nil {
		ending = *req.Ending
	}
	concatenate = defaultConcatenate
	if req.Concatenate != nil {
		concatenate = *req.Concatenate
	}
	return req.Data, ending, concatenate
}

// handleSend queues data for transmission on the serial port.
//
// Body parameters:
//   - data: fragments to send (required)
//   - ending: line ending appended to the payload (default "\r\n")
//   - concatenate: separator joining the fragments (default " ")
//
// Responds 200 {"message": "OK"} when the payload is queued, 502
// {"message": "Failed to send"} when the connection refuses it (rate
// limit, closed port, full queue).
func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Data) == 0 {
		writeBadRequest(w, "data field is required")
		return
	}

	fragments, ending, concatenate := req.params()
	if err := s.conn.Send(fragments, ending, concatenate); err != nil {
		s.logger.Debug("send refused", "error", err)
		writeDeviceFailure(w, msgFailedToSend)
		return
	}

	s.recordSent(r.Context(), fragments, ending, concatenate)
	writeJSON(w, http.StatusOK, map[string]string{"message": msgOK})
}

// sendGetFirstRequest is the body of /send/get_first: send parameters plus
// processing options for the response record.
type sendGetFirstRequest struct {
	sendRequest
	ReadUntil string `json:"read_until"`
	Strip     bool   `json:"strip"`
}

// handleSendGetFirst sends data and returns the first record received
// after the send.
//
// Responds 502 {"message": "Failed to send"} when the send is refused and
// 502 {"message": "Nothing received"} when no record arrives within the
// connection timeout.
func (s *Server) handleSendGetFirst(w http.ResponseWriter, r *http.Request) {
	var req sendGetFirstRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Data) == 0 {
		writeBadRequest(w, "data field is required")
		return
	}

	fragments, ending, concatenate := req.params()
	rec, ok, err := s.conn.GetFirstResponse(r.Context(), fragments, ending, concatenate, req.ReadUntil, req.Strip)
	if err != nil {
		s.logger.Debug("send refused", "error", err)
		writeDeviceFailure(w, msgFailedToSend)
		return
	}
	if !ok {
		writeDeviceFailure(w, msgNothingReceived)
		return
	}

	s.recordSent(r.Context(), fragments, ending, concatenate)
	writeJSON(w, http.StatusOK, newRecordResponse(rec, true))
}

// sendGetRequest is the body of /send/get: send parameters plus the
// response to wait for.
type sendGetRequest struct {
	sendRequest
	Response string `json:"response"`
	Strip    *bool  `json:"strip"`
}

// handleSendGet repeatedly sends data until the port answers with the
// expected response.
//
// Responds 200 {"message": "OK"} when the response arrives, 502
// {"message": "Timed out"} otherwise.
func (s *Server) handleSendGet(w http.ResponseWriter, r *http.Request) {
	var req sendGetRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Response == "" {
		writeBadRequest(w, "response field is required")
		return
	}
	if len(req.Data) == 0 {
		writeBadRequest(w, "data field is required")
		return
	}

	strip := true
	if req.Strip != nil {
		strip = *req.Strip
	}

	fragments, ending, concatenate := req.params()
	if !s.conn.SendForResponse(r.Context(), req.Response, fragments, ending, concatenate, strip) {
		writeDeviceFailure(w, msgTimedOut)
		return
	}

	s.recordSent(r.Context(), fragments, ending, concatenate)
	writeJSON(w, http.StatusOK, map[string]string{"message": msgOK})
}
