package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-ticketing/internal/domain"
	"github.com/robertarktes/event-ticketing/internal/observability"
)

const maxBodyBytes = 1 << 20

var statusByKind = map[domain.Kind]int{
	domain.KindNotFound:             http.StatusNotFound,
	domain.KindInsufficientCapacity: http.StatusBadRequest,
	domain.KindForbidden:            http.StatusForbidden,
	domain.KindInvalidState:         http.StatusConflict,
	domain.KindAlreadyExists:        http.StatusConflict,
	domain.KindInvalidInput:         http.StatusBadRequest,
	domain.KindUnauthenticated:      http.StatusUnauthorized,
	domain.KindConcurrencyConflict:  http.StatusServiceUnavailable,
	domain.KindRateLimited:          http.StatusTooManyRequests,
	domain.KindInternal:             http.StatusInternalServerError,
}

type errorResponse struct {
	Error string      `json:"error"`
	Code  domain.Kind `json:"code"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status := statusByKind[kind]
	msg := err.Error()

	logger := observability.LoggerFrom(r.Context(), observability.NewNopLogger()).WithError(err)
	if kind == domain.KindInternal {
		logger.Error("request failed")
		msg = "internal server error"
	} else {
		logger.WithField("code", string(kind)).Debug("request rejected")
	}
	if kind == domain.KindConcurrencyConflict {
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: kind})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Mark(errors.Wrap(err, "invalid JSON body"), domain.ErrInvalidInput)
	}
	return nil
}
