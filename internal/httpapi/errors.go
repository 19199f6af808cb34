package httpapi

import (
	"encoding/json"
	"net/http"

	"avatard/internal/engine"
	"avatard/internal/gpu"
	"avatard/internal/pipeline"
	"avatard/internal/scheduler"
	"avatard/pkg/types"
)

// HTTPError allows services to provide an HTTP status code for an error.
type HTTPError interface {
	error
	StatusCode() int
}

// statusFor maps well-known domain errors to HTTP status codes. Capacity
// rejections (429) are retryable with backoff; everything else follows the
// usual client/upstream split.
func statusFor(err error) int {
	switch {
	case scheduler.IsValidation(err):
		return http.StatusBadRequest
	case pipeline.IsUnknownSession(err):
		return http.StatusNotFound
	case pipeline.IsSessionInactive(err):
		return http.StatusConflict
	case scheduler.IsCapacityExceeded(err), gpu.IsResourceExhausted(err), gpu.IsAllOverloaded(err):
		return http.StatusTooManyRequests
	case engine.IsTimeout(err):
		return http.StatusGatewayTimeout
	case engine.IsUpstreamFailure(err):
		return http.StatusBadGateway
	}
	if he, ok := err.(HTTPError); ok {
		return he.StatusCode()
	}
	return http.StatusInternalServerError
}

// writeDomainError maps err to a status and writes the JSON payload,
// counting backpressure rejections along the way.
func writeDomainError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusTooManyRequests {
		reason := "gpu"
		if scheduler.IsCapacityExceeded(err) {
			reason = "admission"
		}
		IncrementBackpressure(reason)
	}
	writeJSONError(w, status, err.Error())
}

// writeJSONError writes a consistent JSON error payload.
func writeJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(types.ErrorResponse{Error: msg, Code: status})
}
