package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/goodtune/accesstime/internal/access"
	"github.com/goodtune/accesstime/internal/storage"
)

// ErrorResponse represents an API error response. Code is the stable
// access error code, or zero for transport failures.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		http.Error(w, `{"error":"Internal Server Error","code":0,"message":"Failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(buf.Bytes())
}

// writeError writes a transport-level error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}

// writeEngineError maps an engine error onto an HTTP status and reports
// its kind.
func writeEngineError(w http.ResponseWriter, err error) {
	kind, ok := access.Kind(err)
	if !ok {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, http.StatusServiceUnavailable, "Storage contention, retry the request")
			return
		}
		writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}

	writeJSON(w, statusFor(kind), ErrorResponse{
		Error:   kind.Name,
		Code:    kind.Code,
		Message: err.Error(),
	})
}

func statusFor(kind *access.Error) int {
	switch kind {
	case access.ErrInvalidInvocation, access.ErrInvalidPackage, access.ErrInvalidTimestamp:
		return http.StatusBadRequest
	case access.ErrUnauthorized:
		return http.StatusForbidden
	case access.ErrNotFound:
		return http.StatusNotFound
	case access.ErrTransferFailed:
		return http.StatusPaymentRequired
	case access.ErrNotInitialized:
		return http.StatusPreconditionFailed
	default:
		return http.StatusConflict
	}
}
