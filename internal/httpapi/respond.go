package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
)

const maxBody = 64 << 10

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type apiError struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiError{Error: msg, RequestID: w.Header().Get("X-Request-ID")})
}

// readJSON decodes a bounded body. Unknown fields are tolerated since
// browsers send whatever PushSubscription.toJSON() yields. It reports false
// after writing the error response.
func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		switch {
		case errors.As(err, &tooBig):
			writeError(w, http.StatusRequestEntityTooLarge, "body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "empty body")
		default:
			writeError(w, http.StatusBadRequest, "invalid json")
		}
		return false
	}
	return true
}
