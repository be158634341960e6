package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/memdev-go/internal/core/service"
	"github.com/yndnr/memdev-go/internal/server/httpserver/handler"
	"github.com/yndnr/memdev-go/internal/telemetry/metric"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Service is the device service behind the device endpoints.
	Service *service.DeviceService

	// Metrics is served on /metrics and receives request metrics.
	// Nil disables both.
	Metrics *metric.Registry

	// Ready reports readiness for /ready. Nil means always ready.
	Ready func() bool

	// Logger for request logging.
	Logger *slog.Logger
}

// NewRouter creates the HTTP handler with all routes and middleware.
//
// Order: RequestID -> AccessLog -> Recover -> routes
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	opts := []handler.Option{handler.WithReadiness(cfg.Ready)}
	if cfg.Metrics != nil {
		opts = append(opts, handler.WithMetricsHandler(cfg.Metrics.Handler()))
	}
	h := handler.New(cfg.Service, log, opts...)

	return Chain(h,
		RequestID(),
		AccessLog(log, cfg.Metrics),
		Recover(log),
	)
}
