package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
//
// The route table mirrors the serial connection surface: /send and its
// response-waiting variants, /receive and the blocking /get family, plus
// port enumeration and diagnostics.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Send endpoints
	r.Post("/send", s.handleSend)
	r.Post("/send/get_first", s.handleSendGetFirst)
	r.Post("/send/get", s.handleSendGet)

	// Receive endpoints
	r.Get("/receive", s.handleReceiveGet)
	r.Post("/receive", s.handleReceivePost)
	r.Get("/receive/all", s.handleReceiveAllGet)
	r.Post("/receive/all", s.handleReceiveAllPost)

	// Blocking get endpoints
	r.Get("/get", s.handleGetGet)
	r.Post("/get", s.handleGetPost)
	r.Post("/get/wait", s.handleGetWait)

	// Port enumeration
	r.Get("/list_ports", s.handleListPorts)

	// Diagnostics
	r.Get("/health", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	// Traffic log (mounted only when a repository is configured)
	if s.history != nil {
		r.Get("/history", s.handleListHistory)
	}

	// WebSocket receive tail
	r.Get("/ws", s.handleWebSocket)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"connected": s.conn.IsConnected(),
	})
}

// handleMetrics returns serial I/O counters and WebSocket client count.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"serial":            s.conn.Stats(),
		"websocket_clients": s.hub.ClientCount(),
		"version":           s.version,
	})
}
