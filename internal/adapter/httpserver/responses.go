package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/fairyhunter13/ai-prompt-broker/internal/domain"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders the plain-string error contract: text/plain body, one
// line, status mapped from the domain sentinel.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := mapError(err)
	if status >= 500 {
		LoggerFrom(r).Error("request failed", slog.String("error", err.Error()))
	}
	http.Error(w, msg, status)
}

func mapError(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrInvalidAPIKey):
		return http.StatusUnauthorized, domain.ErrInvalidAPIKey.Error()
	case errors.Is(err, domain.ErrWrongCredentials):
		return http.StatusUnauthorized, domain.ErrWrongCredentials.Error()
	case errors.Is(err, domain.ErrEmptyPrompt):
		return http.StatusBadRequest, domain.ErrEmptyPrompt.Error()
	case errors.Is(err, domain.ErrDuplicateGen):
		return http.StatusBadRequest, domain.ErrDuplicateGen.Error()
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest, trimOp(err)
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, domain.ErrNotFound.Error()
	case errors.Is(err, domain.ErrTooManyPrompts):
		return http.StatusServiceUnavailable, domain.ErrTooManyPrompts.Error()
	case errors.Is(err, domain.ErrNoEligibleWorker):
		return http.StatusServiceUnavailable, domain.ErrNoEligibleWorker.Error()
	case errors.Is(err, domain.ErrPromptExpired):
		return http.StatusInternalServerError, domain.ErrPromptExpired.Error()
	}
	return http.StatusInternalServerError, "internal error"
}

// trimOp strips the op= breadcrumbs that wrap errors on their way up, so
// clients see only the human-readable part.
func trimOp(err error) string {
	msg := err.Error()
	for strings.HasPrefix(msg, "op=") {
		i := strings.Index(msg, ": ")
		if i < 0 {
			break
		}
		msg = msg[i+2:]
	}
	return msg
}
