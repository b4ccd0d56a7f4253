package api

import (
	"encoding/json"
	"net/http"
)

// Problem is the body of every non-handshake error answer.
type Problem struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

const (
	codeNotFound = "not_found"
	codeInternal = "internal_error"
)

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	//nolint:errcheck // the client may already be gone
	json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Problem{Status: status, Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusNotFound, codeNotFound, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeProblem(w, http.StatusInternalServerError, codeInternal, message)
}
