// Package respond writes JSON responses in a single shape: payloads as-is for
// success, {"message": ...} for failures.
package respond

import (
	"encoding/json"
	"net/http"

	"github.com/wb-go/wbf/zlog"
)

// ErrorResponse is the body of every failure response.
type ErrorResponse struct {
	Message string `json:"message"`
}

// JSON writes v with the given status code.
func JSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Logger.Error().Err(err).Msg("failed to encode response")
	}
}

// OK writes v with status 200.
func OK(w http.ResponseWriter, v interface{}) {
	JSON(w, http.StatusOK, v)
}

// Accepted writes v with status 202.
func Accepted(w http.ResponseWriter, v interface{}) {
	JSON(w, http.StatusAccepted, v)
}

// Fail writes an error body with the given status code.
func Fail(w http.ResponseWriter, code int, err error) {
	JSON(w, code, ErrorResponse{Message: err.Error()})
}
