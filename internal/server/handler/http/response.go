package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/atinyakov/credvault/internal/middleware"
	"github.com/atinyakov/credvault/internal/policy"
	"github.com/atinyakov/credvault/internal/service"
	"go.uber.org/zap"
)

const internalErrorMessage = "Internal server error"

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: true, Message: message})
}

// fail maps err to its outcome status and writes the matching body. Server-side
// faults are logged and answered with a generic message.
func fail(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error, rateLimitMessage string) {
	outcome := service.OutcomeOf(err)
	status := outcome.Status()

	switch outcome {
	case service.OutcomeNotFound:
		writeError(w, status, "Not found")
	case service.OutcomeForbidden:
		writeError(w, status, "Forbidden")
	case service.OutcomeUnauthorized:
		writeError(w, status, "Invalid credentials")
	case service.OutcomeRateLimited:
		var rl *policy.RateLimitError
		if errors.As(err, &rl) {
			middleware.SetRateLimitHeaders(w.Header(), rl.Limit, 0, rl.RetryAfter, true)
		}
		writeError(w, status, rateLimitMessage)
	case service.OutcomeConflict:
		writeError(w, status, "User with that email or username already exists")
	case service.OutcomeValidationError:
		var verr *service.ValidationError
		if errors.As(err, &verr) {
			writeError(w, status, verr.Message)
			return
		}
		writeError(w, status, err.Error())
	default:
		log.Error("request failed",
			zap.String("outcome", outcome.String()),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, status, internalErrorMessage)
	}
}
