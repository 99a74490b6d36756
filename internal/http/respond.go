package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"expenses/internal/core"
	"expenses/internal/log"
)

const msgInternalError = "Internal Server Error"

// detailResponse is the body of every non-validation error.
type detailResponse struct {
	Detail string `json:"detail"`
}

// validationResponse lists the rejected fields of a request.
type validationResponse struct {
	Detail []core.Violation `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", "Bearer")
	}
	writeJSON(w, status, detailResponse{Detail: detail})
}

// writeError maps a service error onto its HTTP status. Field-level
// problems become 422; a rejected list filter is a plain 400.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusUnprocessableEntity, validationResponse{Detail: ve.Violations})
		return
	}

	switch {
	case errors.Is(err, core.ErrValidation), errors.Is(err, core.ErrConflict):
		writeDetail(w, http.StatusBadRequest, core.Detail(err, "Bad Request"))
	case errors.Is(err, core.ErrUnauthorized):
		writeDetail(w, http.StatusUnauthorized, core.Detail(err, "Not authenticated"))
	case errors.Is(err, core.ErrNotFound):
		writeDetail(w, http.StatusNotFound, core.Detail(err, "Not Found"))
	default:
		fields := log.NewFields().WithErrorType(log.ErrorTypeInternal)
		if user, ok := userFromContext(r.Context()); ok {
			fields = fields.WithUser(user.ID, user.Username)
		}
		s.logger.LogError(r.Context(), "Request failed", err, log.ComponentHTTP, op, fields)
		writeDetail(w, http.StatusInternalServerError, msgInternalError)
	}
}
