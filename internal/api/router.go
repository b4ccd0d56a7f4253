package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.withRequestID, s.withAccessLog, s.withRecover, s.withCORS, s.withBodyLimit)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/servers", s.handleListServers)
	})

	// Peer handshake
	r.Route("/connection", func(r chi.Router) {
		r.Post("/register", s.handleRegister)
		r.Post("/verify-emit", s.handleVerifyEmit)
	})

	r.Get("/device/description.xml", s.handleDescription)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get(s.wsCfg.Path, s.handleWebSocket)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"version":     s.version,
		"kind":        s.kind,
		"clients":     s.hub.ClientCount(),
		"connections": s.conns.count(),
	})
}

// handleListServers returns a snapshot of every protocol server handle.
func (s *Server) handleListServers(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	provider := s.status
	s.mu.RUnlock()

	servers := []ServerStatus{}
	if provider != nil {
		servers = append(servers, provider.Statuses()...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"servers": servers,
		"count":   len(servers),
	})
}

// handleDescription serves the device description document advertised over SSDP.
func (s *Server) handleDescription(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	describe := s.description
	s.mu.RUnlock()

	if describe == nil {
		writeNotFound(w, "device description not available")
		return
	}
	doc, err := describe()
	if err != nil {
		s.logger.Warn("rendering device description failed", "error", err)
		writeInternalError(w, "device description unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(doc) //nolint:errcheck // Best-effort write to response
}
