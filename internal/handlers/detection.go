// Package handlers provides HTTP handlers for API endpoints
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/versatilecz/evac/internal/logging"
	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/services"
)

// DetectionHandler accepts scan results posted over HTTP
type DetectionHandler struct {
	service services.ScanProcessor
	log     *logrus.Entry
}

// NewDetectionHandler creates a new detection handler
func NewDetectionHandler(service services.ScanProcessor) *DetectionHandler {
	return &DetectionHandler{service: service, log: logging.Component("detection")}
}

// HandleDetect processes one scan result
func (h *DetectionHandler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req models.DetectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ScannerMac == "" || req.Mac == "" {
		http.Error(w, "scanner_mac and mac are required", http.StatusBadRequest)
		return
	}

	h.log.WithFields(logrus.Fields{
		"scanner": req.ScannerMac,
		"device":  req.Mac,
		"rssi":    req.RSSI,
	}).Debug("Detection")

	if err := h.service.ProcessDetection(r.Context(), &req); err != nil {
		h.log.WithError(err).Warn("Error processing detection")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
