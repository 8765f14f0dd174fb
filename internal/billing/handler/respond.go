package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dukerupert/duobill/internal/billing"
)

const maxBodyBytes = 64 << 10

// statusFor maps the billing error taxonomy onto HTTP: caller mistakes are
// 400, everything else is the server's problem.
func statusFor(err error) int {
	if errors.Is(err, billing.ErrInvalidRequest) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON reads a size-limited JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}
