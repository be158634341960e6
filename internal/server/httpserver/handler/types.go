package handler

import (
	"time"

	"github.com/yndnr/memdev-go/internal/core/domain"
	"github.com/yndnr/memdev-go/internal/core/service"
)

// Response is the standard API response envelope.
// All JSON responses use this format (except /metrics which uses Prometheus format).
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// HealthResponse is the response body for GET /health and GET /ready.
type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// ListDevicesResponse is the response body for GET /devices.
type ListDevicesResponse struct {
	Items []domain.DeviceInfo `json:"items"`
	Total int                 `json:"total"`
}

// ChecksumResponse is the response body for GET /devices/{id}/checksum.
type ChecksumResponse struct {
	Device    string `json:"device"`
	Algorithm string `json:"algorithm"`
	Sum       string `json:"sum"`
}

// ListHandlesResponse is the response body for GET /handles.
type ListHandlesResponse struct {
	Items []domain.HandleInfo `json:"items"`
	Total int                 `json:"total"`
}

// StatsResponse is the response body for GET /stats.
type StatsResponse = service.Stats
