package utils

import (
	"encoding/json"
	"net/http"

	"theratreat/apperr"
)

type M map[string]interface{}

// RespondWithJSON writes data as the JSON response body.
func RespondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

func RespondWithError(w http.ResponseWriter, status int, code, msg string) {
	RespondWithJSON(w, status, map[string]string{"error": msg, "code": code})
}

// RespondWithAppError maps err through the apperr status table. Internal
// detail never reaches the body.
func RespondWithAppError(w http.ResponseWriter, err error) {
	code, msg := apperr.Public(err)
	RespondWithError(w, apperr.HTTPStatus(err), code, msg)
}
