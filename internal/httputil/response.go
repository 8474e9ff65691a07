package httputil

import "encoding/json"
import "net/http"

type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message})
}

// WriteDenial is WriteError with a machine-readable reason code, so clients
// can tell an actionable denial ("request access") from a generic failure.
func WriteDenial(w http.ResponseWriter, status int, code string, message string) {
	WriteJSON(w, status, ErrorBody{Error: message, Code: code})
}
