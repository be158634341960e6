package localserver

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/yndnr/memdev-go/internal/core/service"
	"github.com/yndnr/memdev-go/internal/infra/buildinfo"
	"github.com/yndnr/memdev-go/internal/server/respserver"
)

// ProtocolLocal is the protocol label recorded for local socket clients.
const ProtocolLocal = "local"

// Status is the INFO reply.
type Status struct {
	Build         buildinfo.Info `json:"build" yaml:"build"`
	StartedAt     time.Time      `json:"started_at" yaml:"started_at"`
	UptimeSeconds int64          `json:"uptime_seconds" yaml:"uptime_seconds"`
	service.Stats `yaml:",inline"`
}

// Handler handles local management commands and passes everything else to
// the device command handler.
type Handler struct {
	next       respserver.Dispatcher
	svc        *service.DeviceService
	startedAt  time.Time
	onShutdown func()
}

// NewHandler creates a new Handler. onShutdown is called by SHUTDOWN and
// may be nil, in which case SHUTDOWN is rejected.
func NewHandler(next respserver.Dispatcher, svc *service.DeviceService, onShutdown func()) *Handler {
	return &Handler{
		next:       next,
		svc:        svc,
		startedAt:  time.Now(),
		onShutdown: onShutdown,
	}
}

// Handle implements respserver.Dispatcher.
func (h *Handler) Handle(ctx context.Context, c *respserver.Conn, args [][]byte) {
	if len(args) == 0 {
		h.next.Handle(ctx, c, args)
		return
	}

	switch strings.ToUpper(string(args[0])) {
	case "INFO":
		h.handleInfo(ctx, c)
	case "SHUTDOWN":
		h.handleShutdown(c)
	default:
		h.next.Handle(ctx, c, args)
	}
}

func (h *Handler) handleInfo(ctx context.Context, c *respserver.Conn) {
	stats, err := h.svc.Stats(ctx)
	if err != nil {
		_ = respserver.WriteError(c.Writer(), "ERR "+err.Error())
		return
	}
	data, err := json.Marshal(Status{
		Build:         buildinfo.Get(),
		StartedAt:     h.startedAt,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
		Stats:         stats,
	})
	if err != nil {
		_ = respserver.WriteError(c.Writer(), "ERR "+err.Error())
		return
	}
	_ = respserver.WriteBulk(c.Writer(), data)
}

func (h *Handler) handleShutdown(c *respserver.Conn) {
	if h.onShutdown == nil {
		_ = respserver.WriteError(c.Writer(), "ERR shutdown not available")
		return
	}
	_ = respserver.WriteSimpleString(c.Writer(), "OK")
	_ = c.Writer().Flush()
	// Run after the reply is flushed; shutdown waits for this connection.
	go h.onShutdown()
}
