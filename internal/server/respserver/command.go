// Package respserver provides the RESP (Redis serialization protocol) front
// end to the device service.
package respserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/yndnr/memdev-go/internal/core/domain"
	"github.com/yndnr/memdev-go/internal/core/service"
	"github.com/yndnr/memdev-go/internal/telemetry/logger"
	"github.com/yndnr/memdev-go/internal/telemetry/metric"
)

// ProtocolRESP is the protocol label recorded for TCP clients.
const ProtocolRESP = "resp"

// formatError converts an error to a RESP error string.
// For DomainErrors, returns "ERR <code> <message>[: details]".
// For other errors, returns "ERR <message>".
func formatError(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) {
		msg := "ERR " + de.Code + " " + de.Message
		if de.Details != "" {
			msg += ": " + de.Details
		}
		return msg
	}
	return "ERR " + err.Error()
}

// CommandHandler executes device commands against a DeviceService.
type CommandHandler struct {
	svc      *service.DeviceService
	metrics  *metric.Registry
	logger   *slog.Logger
	protocol string
}

// HandlerOption configures the CommandHandler.
type HandlerOption func(*CommandHandler)

// WithMetrics records request metrics to m.
func WithMetrics(m *metric.Registry) HandlerOption {
	return func(h *CommandHandler) {
		h.metrics = m
	}
}

// WithProtocol sets the protocol label used in metrics.
func WithProtocol(p string) HandlerOption {
	return func(h *CommandHandler) {
		h.protocol = p
	}
}

// NewCommandHandler creates a new CommandHandler.
func NewCommandHandler(svc *service.DeviceService, log *slog.Logger, opts ...HandlerOption) *CommandHandler {
	if log == nil {
		log = slog.Default()
	}
	h := &CommandHandler{
		svc:      svc,
		logger:   log,
		protocol: ProtocolRESP,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Release drops every handle the connection still holds. Use it as the
// server's close hook.
func (h *CommandHandler) Release(c *Conn) {
	if n := h.svc.CloseOwner(c.ID()); n > 0 {
		h.logger.Debug("released handles of closed connection", "conn", c.ID(), "count", n)
	}
}

type commandFunc func(h *CommandHandler, ctx context.Context, c *Conn, args [][]byte) error

type commandSpec struct {
	arity int // exact argument count including the name; negative means at least -arity
	fn    commandFunc
}

var commands = map[string]commandSpec{
	"DEV.LIST":    {1, (*CommandHandler).handleList},
	"DEV.HANDLES": {1, (*CommandHandler).handleHandles},
	"DEV.OPEN":    {2, (*CommandHandler).handleOpen},
	"DEV.READ":    {3, (*CommandHandler).handleRead},
	"DEV.WRITE":   {3, (*CommandHandler).handleWrite},
	"DEV.SEEK":    {-3, (*CommandHandler).handleSeek},
	"DEV.IOCTL":   {3, (*CommandHandler).handleIoctl},
	"DEV.RESET":   {2, (*CommandHandler).handleReset},
	"DEV.CLOSE":   {2, (*CommandHandler).handleClose},
	"DEV.STAT":    {2, (*CommandHandler).handleStat},
	"DEV.SUM":     {2, (*CommandHandler).handleSum},
}

// Handle handles a command (RESP array of bulk strings).
func (h *CommandHandler) Handle(ctx context.Context, c *Conn, args [][]byte) {
	if len(args) == 0 {
		_ = WriteError(c.bw, "ERR no command")
		return
	}

	cmdName := normalizeCommandName(args[0])

	// Connection-level commands are not rate limited.
	switch cmdName {
	case "PING":
		h.handlePing(c, args)
		return
	case "QUIT":
		h.handleQuit(c)
		return
	}

	spec, ok := commands[cmdName]
	if !ok {
		h.record("unknown", errUnknownCommand, 0)
		_ = WriteError(c.bw, "ERR unknown command '"+cmdName+"'")
		return
	}

	if !c.allow() {
		if h.metrics != nil {
			h.metrics.IncRateLimited(h.protocol)
		}
		h.record(cmdName, domain.ErrRateLimited, 0)
		_ = WriteError(c.bw, formatError(domain.ErrRateLimited))
		return
	}

	if !arityOK(spec.arity, len(args)) {
		_ = WriteError(c.bw, "ERR wrong number of arguments for '"+cmdName+"' command")
		return
	}

	start := time.Now()
	err := spec.fn(h, ctx, c, args)
	h.record(cmdName, err, time.Since(start))
	if err != nil {
		h.logger.Debug("command failed",
			"conn", logger.ConnIDFromContext(ctx),
			"command", cmdName,
			"error", err)
		_ = WriteError(c.bw, formatError(err))
	}
}

var errUnknownCommand = errors.New("unknown command")

func arityOK(arity, n int) bool {
	if arity >= 0 {
		return n == arity
	}
	return n >= -arity
}

func (h *CommandHandler) record(method string, err error, d time.Duration) {
	if h.metrics == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = domain.GetErrorCode(err)
		if status == "" {
			status = "error"
		}
	}
	h.metrics.RecordRequest(h.protocol, method, status)
	if d > 0 {
		h.metrics.ObserveRequestDuration(h.protocol, method, d.Seconds())
	}
}

func (h *CommandHandler) handlePing(c *Conn, args [][]byte) {
	if len(args) > 1 {
		_ = WriteBulk(c.bw, args[1])
		return
	}
	_ = WriteSimpleString(c.bw, "PONG")
}

func (h *CommandHandler) handleQuit(c *Conn) {
	_ = WriteSimpleString(c.bw, "OK")
	_ = c.bw.Flush()
	_ = c.Close()
}

// DEV.LIST
func (h *CommandHandler) handleList(ctx context.Context, c *Conn, _ [][]byte) error {
	devs, err := h.svc.ListDevices(ctx)
	if err != nil {
		return err
	}
	return writeJSON(c, devs)
}

// DEV.HANDLES lists the handles this connection holds.
func (h *CommandHandler) handleHandles(_ context.Context, c *Conn, _ [][]byte) error {
	handles := h.svc.ListHandles(c.ID())
	if handles == nil {
		handles = []domain.HandleInfo{}
	}
	return writeJSON(c, handles)
}

// DEV.OPEN <device>
func (h *CommandHandler) handleOpen(ctx context.Context, c *Conn, args [][]byte) error {
	info, err := h.svc.Open(ctx, &service.OpenRequest{
		Device: string(args[1]),
		Owner:  c.ID(),
	})
	if err != nil {
		return err
	}
	return WriteBulkString(c.bw, info.ID)
}

// DEV.READ <handle> <count>
func (h *CommandHandler) handleRead(ctx context.Context, c *Conn, args [][]byte) error {
	count, err := strconv.Atoi(string(args[2]))
	if err != nil {
		return domain.ErrInvalidArgument.WithDetailsf("count %q", args[2])
	}
	data, err := h.svc.Read(ctx, string(args[1]), count)
	if err != nil {
		return err
	}
	if data == nil {
		data = []byte{}
	}
	return WriteBulk(c.bw, data)
}

// DEV.WRITE <handle> <data>
func (h *CommandHandler) handleWrite(ctx context.Context, c *Conn, args [][]byte) error {
	n, err := h.svc.Write(ctx, string(args[1]), args[2])
	if err != nil {
		return err
	}
	return WriteInteger(c.bw, int64(n))
}

// DEV.SEEK <handle> <offset> [whence]
func (h *CommandHandler) handleSeek(ctx context.Context, c *Conn, args [][]byte) error {
	if len(args) > 4 {
		return domain.ErrInvalidArgument.WithDetails("too many arguments")
	}
	offset, err := strconv.ParseInt(string(args[2]), 10, 64)
	if err != nil {
		return domain.ErrInvalidArgument.WithDetailsf("offset %q", args[2])
	}
	whence := domain.SeekStart
	if len(args) == 4 {
		if whence, err = domain.ParseWhence(string(args[3])); err != nil {
			return err
		}
	}
	pos, err := h.svc.Seek(ctx, string(args[1]), offset, whence)
	if err != nil {
		return err
	}
	return WriteInteger(c.bw, pos)
}

// DEV.IOCTL <handle> <cmd>
func (h *CommandHandler) handleIoctl(ctx context.Context, c *Conn, args [][]byte) error {
	cmd, err := domain.ParseCommand(string(args[2]))
	if err != nil {
		return err
	}
	if err := h.svc.Ioctl(ctx, string(args[1]), cmd); err != nil {
		return err
	}
	return WriteSimpleString(c.bw, "OK")
}

// DEV.RESET <handle>
func (h *CommandHandler) handleReset(ctx context.Context, c *Conn, args [][]byte) error {
	if err := h.svc.Reset(ctx, string(args[1])); err != nil {
		return err
	}
	return WriteSimpleString(c.bw, "OK")
}

// DEV.CLOSE <handle>
func (h *CommandHandler) handleClose(_ context.Context, c *Conn, args [][]byte) error {
	if err := h.svc.Close(string(args[1])); err != nil {
		return err
	}
	return WriteSimpleString(c.bw, "OK")
}

// DEV.STAT <device>
func (h *CommandHandler) handleStat(ctx context.Context, c *Conn, args [][]byte) error {
	info, err := h.svc.Device(ctx, string(args[1]))
	if err != nil {
		return err
	}
	return writeJSON(c, info)
}

// DEV.SUM <device>
func (h *CommandHandler) handleSum(ctx context.Context, c *Conn, args [][]byte) error {
	sum, err := h.svc.Checksum(ctx, string(args[1]))
	if err != nil {
		return err
	}
	return WriteBulkString(c.bw, sum)
}

func writeJSON(c *Conn, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return domain.ErrInternal.WithCause(err)
	}
	return WriteBulk(c.bw, data)
}
