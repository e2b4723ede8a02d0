package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/Nzyazin/moneybridge/internal/core/logger"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: message, Code: code})
}

// NotFound answers unknown routes with the same JSON error shape the API uses.
func NotFound(log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Route not found",
			logger.StringField("method", r.Method),
			logger.StringField("path", r.URL.Path))
		writeError(w, http.StatusNotFound, "ROUTE_NOT_FOUND", "route not found")
	})
}

func MethodNotAllowed(log logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Debug("Method not allowed",
			logger.StringField("method", r.Method),
			logger.StringField("path", r.URL.Path))
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
	})
}
