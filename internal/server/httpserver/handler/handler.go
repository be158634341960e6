package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/yndnr/memdev-go/internal/core/domain"
	"github.com/yndnr/memdev-go/internal/core/service"
	"github.com/yndnr/memdev-go/internal/telemetry/logger"
)

// Handler is the main HTTP handler that routes requests to appropriate handlers.
type Handler struct {
	svc     *service.DeviceService
	metrics http.Handler
	ready   func() bool
	logger  *slog.Logger
	mux     *http.ServeMux
}

// Option configures the Handler.
type Option func(*Handler)

// WithMetricsHandler serves GET /metrics with m.
func WithMetricsHandler(m http.Handler) Option {
	return func(h *Handler) {
		h.metrics = m
	}
}

// WithReadiness sets the readiness probe behind GET /ready.
func WithReadiness(ready func() bool) Option {
	return func(h *Handler) {
		h.ready = ready
	}
}

// New creates a new Handler over svc.
func New(svc *service.DeviceService, log *slog.Logger, opts ...Option) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		svc:    svc,
		logger: log,
		mux:    http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(h)
	}

	h.registerRoutes()
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) registerRoutes() {
	h.mux.HandleFunc("GET /health", h.handleHealth)
	h.mux.HandleFunc("GET /ready", h.handleReady)
	if h.metrics != nil {
		h.mux.Handle("GET /metrics", h.metrics)
	}

	h.mux.HandleFunc("GET /devices", h.handleListDevices)
	h.mux.HandleFunc("GET /devices/{id}", h.handleGetDevice)
	h.mux.HandleFunc("GET /devices/{id}/checksum", h.handleDeviceChecksum)
	h.mux.HandleFunc("GET /handles", h.handleListHandles)
	h.mux.HandleFunc("GET /stats", h.handleStats)
}

// writeJSON writes a JSON response with standard envelope format.
func (h *Handler) writeJSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	requestID := logger.RequestIDFromContext(r.Context())
	response := NewResponse(requestID, data)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// writeError writes an error response with standard envelope format.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string, details any) {
	requestID := logger.RequestIDFromContext(r.Context())
	response := NewErrorResponse(requestID, code, message, details)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(response)
}

// handleServiceError converts service errors to HTTP responses.
func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.DomainError
	if errors.As(err, &de) {
		var details any
		if de.Details != "" {
			details = de.Details
		}
		h.writeError(w, r, errorCodeToHTTPStatus(de.Code), de.Code, de.Message, details)
		return
	}

	h.logger.Error("internal error", "error", err, "request_id", logger.RequestIDFromContext(r.Context()))
	h.writeError(w, r, http.StatusInternalServerError, domain.ErrInternal.Code, "internal server error", nil)
}

// errorCodeToHTTPStatus maps error codes to HTTP status codes.
func errorCodeToHTTPStatus(code string) int {
	switch {
	case strings.HasSuffix(code, "-4040"):
		return http.StatusNotFound
	case strings.HasSuffix(code, "-4090"):
		return http.StatusConflict
	case strings.HasSuffix(code, "-4290"):
		return http.StatusTooManyRequests
	case strings.HasSuffix(code, "-4990"):
		return http.StatusRequestTimeout
	case strings.HasPrefix(code, "MD-ARG-"):
		return http.StatusBadRequest
	case strings.HasPrefix(code, "MD-DEV-4"), strings.HasPrefix(code, "MD-HDL-4"):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
