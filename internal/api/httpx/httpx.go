// Package httpx carries the JSON response helpers shared by every handler.
package httpx

import (
	"encoding/json"
	"log/slog"
	"net/http"
)

// ErrorBody is the single error shape the API speaks: a stable machine code
// plus a human message.
type ErrorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// headers are gone at this point, log is all we can do
		slog.Error("httpx: encode response", "err", err)
	}
}

func WriteError(w http.ResponseWriter, status int, code, msg string) {
	WriteJSON(w, status, ErrorBody{Code: code, Error: msg})
}
