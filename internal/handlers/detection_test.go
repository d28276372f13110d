package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/versatilecz/evac/internal/models"
	"github.com/versatilecz/evac/internal/protocol"
	"github.com/versatilecz/evac/internal/services"
)

// mockScanService is a mock implementation for testing
type mockScanService struct {
	processDetectionCalled bool
	lastRequest            *models.DetectionRequest
	returnError            error
}

func (m *mockScanService) Process(ctx context.Context, from netip.AddrPort, msg protocol.Message) error {
	return nil
}

func (m *mockScanService) ProcessDetection(ctx context.Context, req *models.DetectionRequest) error {
	m.processDetectionCalled = true
	m.lastRequest = req
	return m.returnError
}

// Ensure mock implements the interface
var _ services.ScanProcessor = (*mockScanService)(nil)

func TestHandleDetect(t *testing.T) {
	valid := models.DetectionRequest{
		ScannerMac: "AA:BB:CC:DD:EE:FF",
		Mac:        "11:22:33:44:55:66",
		RSSI:       -50,
		Data:       "0201060a16d2fc4400cb01563a00",
	}

	tests := []struct {
		name           string
		method         string
		body           interface{}
		serviceErr     error
		wantStatusCode int
		wantCalled     bool
	}{
		{
			name:           "Valid detection request",
			method:         http.MethodPost,
			body:           valid,
			wantStatusCode: http.StatusOK,
			wantCalled:     true,
		},
		{
			name:           "Invalid method - GET",
			method:         http.MethodGet,
			wantStatusCode: http.StatusMethodNotAllowed,
		},
		{
			name:           "Invalid JSON body",
			method:         http.MethodPost,
			body:           "invalid json",
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "Missing scanner mac",
			method:         http.MethodPost,
			body:           models.DetectionRequest{Mac: "11:22:33:44:55:66"},
			wantStatusCode: http.StatusBadRequest,
		},
		{
			name:           "Service rejects request",
			method:         http.MethodPost,
			body:           valid,
			serviceErr:     errors.New("invalid data"),
			wantStatusCode: http.StatusBadRequest,
			wantCalled:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := &mockScanService{returnError: tt.serviceErr}
			handler := NewDetectionHandler(mockService)

			var bodyBytes []byte
			if str, ok := tt.body.(string); ok {
				bodyBytes = []byte(str)
			} else if tt.body != nil {
				var err error
				bodyBytes, err = json.Marshal(tt.body)
				if err != nil {
					t.Fatalf("Failed to marshal body: %v", err)
				}
			}

			req := httptest.NewRequest(tt.method, "/api/scan", bytes.NewReader(bodyBytes))
			req.Header.Set("Content-Type", "application/json")
			rr := httptest.NewRecorder()

			handler.HandleDetect(rr, req)

			assert.Equal(t, tt.wantStatusCode, rr.Code)
			assert.Equal(t, tt.wantCalled, mockService.processDetectionCalled)
			if tt.wantCalled {
				assert.Equal(t, valid.Mac, mockService.lastRequest.Mac)
				assert.Equal(t, valid.RSSI, mockService.lastRequest.RSSI)
			}
		})
	}
}
