package httputil

import (
	"net/http"

	"github.com/goccy/go-json"
)

// Result is the envelope of every API response.
type Result struct {
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
	Success bool        `json:"success"`
}

func writeResult(w http.ResponseWriter, status int, res Result) {
	b, err := json.Marshal(res)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(b)
}

func WriteData(w http.ResponseWriter, status int, data interface{}) {
	writeResult(w, status, Result{Data: data, Success: true})
}

func WriteError(w http.ResponseWriter, status int, message string) {
	writeResult(w, status, Result{Message: message})
}
