package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/opencomms/serialgate/internal/history"
	"github.com/opencomms/serialgate/internal/serial"
)

// Parameter defaults shared by the send and receive endpoints.
const (
	defaultEnding      = "\r\n"
	defaultConcatenate = " "
)

// recordResponse is the body for single-record reads. Timestamp and Data
// are null when no record is available; an empty receive buffer is not an
// error.
type recordResponse struct {
	Message   string   `json:"message"`
	Timestamp *float64 `json:"timestamp"`
	Data      *string  `json:"data"`
}

// newRecordResponse builds a recordResponse from a receive result.
func newRecordResponse(rec serial.StrRecord, ok bool) recordResponse {
	resp := recordResponse{Message: msgOK}
	if ok {
		ts := epochSeconds(rec.Time)
		data := rec.Data
		resp.Timestamp = &ts
		resp.Data = &data
	}
	return resp
}

// allReceiveResponse is the body for whole-buffer reads. The arrays are
// index-aligned and ordered oldest first.
type allReceiveResponse struct {
	Message    string    `json:"message"`
	Timestamps []float64 `json:"timestamps"`
	Data       []string  `json:"data"`
}

// newAllReceiveResponse builds an allReceiveResponse from the receive buffer.
func newAllReceiveResponse(records []serial.StrRecord) allReceiveResponse {
	resp := allReceiveResponse{
		Message:    msgOK,
		Timestamps: make([]float64, 0, len(records)),
		Data:       make([]string, 0, len(records)),
	}
	for _, rec := range records {
		resp.Timestamps = append(resp.Timestamps, epochSeconds(rec.Time))
		resp.Data = append(resp.Data, rec.Data)
	}
	return resp
}

// epochSeconds converts a time to fractional unix seconds, the timestamp
// format of the record responses.
func epochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// decodeJSON decodes a request body into v, writing a 400 with the parser
// message on failure. An empty body is accepted and leaves v unchanged, so
// endpoints with all-optional parameters work without a body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeBadRequest(w, "invalid JSON body: "+err.Error())
	return false
}

// recordSent logs an outgoing payload to the traffic log, if configured.
// Log failures never affect the HTTP response.
func (s *Server) recordSent(ctx context.Context, fragments []string, ending, concatenate string) {
	if s.history == nil {
		return
	}
	entry := &history.Entry{
		Direction: history.DirectionTX,
		Data:      strings.Join(fragments, concatenate) + ending,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("traffic log write failed", "direction", "tx", "error", err)
	}
}
