package http

import (
	"context"
	"net/http"
	"time"

	"expenses/internal/log"
)

const readyTimeout = 5 * time.Second

type statusResponse struct {
	Status string `json:"status"`
}

// handleHealthy performs basic liveness check
func (s *Server) handleHealthy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "Healthy"})
}

// handleReady reports whether the store answers a ping.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		if err := s.ready(ctx); err != nil {
			log.FromContext(ctx).WarnContext(ctx, "Readiness check failed",
				log.FieldError, err.Error(),
				log.FieldErrorType, log.ErrorTypeDatabase)
			writeJSON(w, http.StatusServiceUnavailable, statusResponse{Status: "Not Ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "Ready"})
}
