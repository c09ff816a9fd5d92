package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/opencomms/serialgate/internal/history"
)

// handleListHistory returns traffic log entries, most recent first.
//
// Query parameters:
//   - direction: filter by "tx" or "rx"
//   - since: RFC3339 timestamp lower bound
//   - limit: page size (default 50, max 500)
//   - offset: pagination offset
func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	var filter history.Filter

	if direction := r.URL.Query().Get("direction"); direction != "" {
		if direction != history.DirectionTX && direction != history.DirectionRX {
			writeBadRequest(w, "direction must be tx or rx")
			return
		}
		filter.Direction = direction
	}

	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeBadRequest(w, "since must be an RFC3339 timestamp")
			return
		}
		filter.Since = t
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = limit
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		offset, err := strconv.Atoi(offsetStr)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = offset
	}

	result, err := s.history.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("traffic log query failed", "error", err)
		writeInternalError(w, "failed to query traffic log")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
