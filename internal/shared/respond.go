package shared

import (
	"encoding/json"
	"net/http"
)

type errorBody struct {
	Error string `json:"error"`
}

// WriteJSON writes v as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError maps err to its stable kind and writes the public message.
// Internal detail never reaches the response body.
func WriteError(w http.ResponseWriter, err error) {
	kind := KindOf(err)
	WriteJSON(w, HTTPStatus(kind), errorBody{Error: PublicMessage(err)})
}

// WriteErrorKind writes an explicit kind and message.
func WriteErrorKind(w http.ResponseWriter, kind Kind, message string) {
	WriteJSON(w, HTTPStatus(kind), errorBody{Error: message})
}
