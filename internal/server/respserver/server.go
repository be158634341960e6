package respserver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/yndnr/memdev-go/internal/telemetry/logger"
	"github.com/yndnr/memdev-go/pkg/cmap"
)

// Config holds the RESP server configuration.
type Config struct {
	// Network is "tcp" or "unix".
	Network string
	// Address is the listen address, or the socket path for "unix".
	Address string
	// ReadTimeout bounds reading one command once its first byte arrived
	// (default: 30s).
	ReadTimeout time.Duration
	// WriteTimeout bounds writing a response (default: 30s).
	WriteTimeout time.Duration
	// IdleTimeout closes connections idle between commands (default: 5m).
	IdleTimeout time.Duration
	// RateLimit is the sustained commands per second allowed per connection.
	// Zero disables rate limiting.
	RateLimit float64
	// RateBurst is the token bucket depth (default: RateLimit, at least 1).
	RateBurst int
	// MaxConnections caps concurrent connections. Zero means unlimited.
	MaxConnections int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Network:      "tcp",
		Address:      "127.0.0.1:6380",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
	}
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.Network == "" {
		out.Network = "tcp"
	}
	if out.ReadTimeout == 0 {
		out.ReadTimeout = 30 * time.Second
	}
	if out.WriteTimeout == 0 {
		out.WriteTimeout = 30 * time.Second
	}
	if out.IdleTimeout == 0 {
		out.IdleTimeout = 5 * time.Minute
	}
	if out.RateLimit > 0 && out.RateBurst <= 0 {
		out.RateBurst = max(1, int(out.RateLimit))
	}
	return &out
}

// Dispatcher executes one command on a connection. Replies are written to
// c.Writer(); the server flushes after Handle returns.
type Dispatcher interface {
	Handle(ctx context.Context, c *Conn, args [][]byte)
}

// Server serves the RESP protocol on a single listener.
type Server struct {
	cfg     *Config
	handler Dispatcher
	logger  *slog.Logger

	mu      sync.Mutex
	ln      net.Listener
	running atomic.Bool
	wg      sync.WaitGroup

	conns *cmap.Map[string, *Conn]
	slots *semaphore.Weighted

	// baseCtx is cancelled when draining gives up, which unblocks commands
	// waiting on a device lock.
	baseCtx context.Context
	cancel  context.CancelFunc

	onClose func(c *Conn)
}

// Conn is a single client connection.
type Conn struct {
	id      string
	netConn net.Conn
	br      *bufio.Reader
	bw      *bufio.Writer
	limiter *rate.Limiter

	closed atomic.Bool
}

func newConn(c net.Conn, limiter *rate.Limiter) *Conn {
	return &Conn{
		id:      "conn-" + ulid.Make().String(),
		netConn: c,
		br:      bufio.NewReader(c),
		bw:      bufio.NewWriter(c),
		limiter: limiter,
	}
}

// ID returns the connection ID. Handles opened on the connection are owned
// by this ID.
func (c *Conn) ID() string {
	return c.id
}

// Writer returns the buffered reply writer.
func (c *Conn) Writer() *bufio.Writer {
	return c.bw
}

// Close closes the connection. It is safe to call more than once.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.netConn.Close()
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// allow consumes one rate limit token.
func (c *Conn) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

// Option configures the Server.
type Option func(*Server)

// WithOnClose sets a function called after a connection closes.
func WithOnClose(fn func(c *Conn)) Option {
	return func(s *Server) {
		s.onClose = fn
	}
}

// New creates a RESP server.
func New(cfg *Config, handler Dispatcher, log *slog.Logger, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:     cfg,
		handler: handler,
		logger:  log.With("listener", cfg.Network+"://"+cfg.Address),
		conns:   cmap.New[string, *Conn](),
		baseCtx: ctx,
		cancel:  cancel,
	}
	if cfg.MaxConnections > 0 {
		s.slots = semaphore.NewWeighted(int64(cfg.MaxConnections))
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen opens the listener without serving it, so callers can learn the
// bound address before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen(s.cfg.Network, s.cfg.Address)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()
	return nil
}

// Addr returns the bound address, or nil before Listen.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// ListenAndServe listens and serves until Shutdown or ctx is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.Addr() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	return s.Serve(ctx)
}

// Serve accepts connections on the listener opened by Listen.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return errors.New("respserver: Serve called before Listen")
	}

	s.running.Store(true)
	s.logger.Info("resp server listening")

	stop := context.AfterFunc(ctx, func() {
		_ = s.Shutdown(context.Background())
	})
	defer stop()

	return s.acceptLoop(ln)
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	return s.conns.Count()
}

// Shutdown stops accepting connections and waits for open ones to finish.
// When ctx expires first, remaining connections are closed and ctx.Err()
// is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.running.Store(false)

	var closeErr error
	s.mu.Lock()
	if s.ln != nil {
		if err := s.ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			closeErr = err
		}
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return closeErr
	case <-ctx.Done():
		s.logger.Warn("drain timed out, closing connections", "active", s.conns.Count())
		s.cancel()
		for _, c := range s.conns.Values() {
			_ = c.Close()
		}
		<-done
		return ctx.Err()
	}
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return err
		}

		if s.slots != nil && !s.slots.TryAcquire(1) {
			s.logger.Warn("connection limit reached", "remote", nc.RemoteAddr(), "limit", s.cfg.MaxConnections)
			w := bufio.NewWriter(nc)
			_ = nc.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = WriteError(w, "ERR max number of clients reached")
			_ = w.Flush()
			_ = nc.Close()
			continue
		}

		var limiter *rate.Limiter
		if s.cfg.RateLimit > 0 {
			limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
		}
		c := newConn(nc, limiter)
		s.conns.Set(c.id, c)

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				if s.slots != nil {
					s.slots.Release(1)
				}
				s.conns.Delete(c.id)
			}()
			s.serveConn(c)
		}()
	}
}

// ServeConn serves a single connection until it closes. It is used by
// tests and by listeners that accept connections themselves.
func (s *Server) ServeConn(nc net.Conn) {
	c := newConn(nc, nil)
	if s.cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(s.cfg.RateLimit), s.cfg.RateBurst)
	}
	s.conns.Set(c.id, c)
	defer s.conns.Delete(c.id)
	s.serveConn(c)
}

func (s *Server) serveConn(c *Conn) {
	log := s.logger.With("conn", c.id)
	ctx := logger.WithConnID(s.baseCtx, c.id)

	defer func() {
		_ = c.Close()
		if s.onClose != nil {
			s.onClose(c)
		}
		log.Debug("connection closed")
	}()
	log.Debug("connection opened", "remote", c.RemoteAddr())

	for {
		// Allow the connection to idle between commands.
		if err := c.netConn.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)); err != nil {
			return
		}
		if _, err := c.br.Peek(1); err != nil {
			s.logReadError(log, err)
			return
		}

		// Once a command starts it must arrive within ReadTimeout.
		if err := c.netConn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout)); err != nil {
			return
		}

		args, err := ReadCommand(c.br)
		if err != nil {
			if errors.Is(err, io.EOF) || isTimeout(err) || c.Closed() {
				s.logReadError(log, err)
				return
			}
			msg := "ERR protocol error: " + err.Error()
			if errors.Is(err, ErrLimitExceeded) {
				log.Warn("protocol limit exceeded", "error", err)
				msg = "ERR protocol limit exceeded"
			}
			_ = c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = WriteError(c.bw, msg)
			_ = c.bw.Flush()
			return
		}

		if len(args) == 0 {
			_ = c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			_ = WriteError(c.bw, "ERR no command")
			_ = c.bw.Flush()
			continue
		}

		s.handler.Handle(ctx, c, args)
		if c.Closed() {
			return
		}

		if err := c.netConn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
			return
		}
		if err := c.bw.Flush(); err != nil {
			return
		}
	}
}

func (s *Server) logReadError(log *slog.Logger, err error) {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
	case isTimeout(err):
		log.Debug("connection timed out")
	default:
		log.Debug("connection read error", "error", err)
	}
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
