package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/versatilecz/evac/internal/logging"
)

// NewRouter wires the HTTP endpoints. The frontend is served from static
// when the directory exists.
func NewRouter(detection *DetectionHandler, operator *OperatorHandler, static string) *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan", detection.HandleDetect).Methods(http.MethodPost)
	api.HandleFunc("/operator", operator.HandleWebSocket)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	if static != "" {
		if info, err := os.Stat(static); err == nil && info.IsDir() {
			r.PathPrefix("/").Handler(http.FileServer(http.Dir(static)))
		} else {
			logging.Log.WithField("dir", static).Warn("Frontend directory not found, not serving it")
		}
	}
	return r
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logging.Log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"duration": time.Since(start),
		}).Debug("HTTP request")
	})
}
