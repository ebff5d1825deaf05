package server

import (
	"encoding/json"
	"net/http"
)

// NewHTTPHandler returns an http.Handler with all routes registered.
// When authToken is non-empty, requests (except GET /v1/health) must include
// a valid Authorization: Bearer <token> header.
func (s *Server) NewHTTPHandler(authToken string) http.Handler {
	mux := http.NewServeMux()

	for svc, routes := range serviceRoutes {
		for _, rt := range routes {
			mux.HandleFunc(rt.method+" /"+svc+rt.pattern, s.handleRoute(svc, rt))
		}
		mux.HandleFunc("POST /"+svc+"/passthrough", s.handlePassthrough(svc))
	}

	mux.HandleFunc("GET /v1/review/queue", s.handleListQueue)
	mux.HandleFunc("GET /v1/review/queue/{id}", s.handleGetQueueItem)
	mux.HandleFunc("POST /v1/review/queue/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/review/queue/{id}/reject", s.handleReject)
	mux.HandleFunc("DELETE /v1/review/queue/{id}", s.handleDeleteQueueItem)
	mux.HandleFunc("GET /v1/policy", s.handleGetPolicy)
	mux.HandleFunc("PUT /v1/policy", s.handleSetPolicy)
	mux.HandleFunc("GET /v1/events/stream", s.handleEventStream)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())
	return AuthMiddleware(authToken, mux)
}

// handleHealth handles GET /v1/health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.queue.Store().Ping(r.Context()); err != nil {
		s.logger.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
