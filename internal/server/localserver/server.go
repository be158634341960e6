package localserver

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"

	"github.com/yndnr/memdev-go/internal/server/respserver"
)

// socketMode restricts the socket to the server's user.
const socketMode = 0o600

// Server represents the local management server.
type Server struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	resp *respserver.Server
	cfg  *respserver.Config

	handler respserver.Dispatcher
	opts    []respserver.Option
}

// New creates a new local server on socketPath.
func New(socketPath string, handler respserver.Dispatcher, logger *slog.Logger, opts ...respserver.Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := respserver.DefaultConfig()
	cfg.Network = "unix"
	cfg.Address = socketPath

	return &Server{
		path:    socketPath,
		logger:  logger,
		cfg:     cfg,
		handler: handler,
		opts:    opts,
	}
}

// Path returns the socket path.
func (s *Server) Path() string {
	return s.path
}

// Listen creates the socket. A stale socket left by a previous run is
// removed; any other file at the path is an error.
func (s *Server) Listen() error {
	if err := removeStaleSocket(s.path); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create socket directory: %w", err)
	}

	resp := respserver.New(s.cfg, s.handler, s.logger, s.opts...)
	if err := resp.Listen(); err != nil {
		return err
	}
	if err := os.Chmod(s.path, socketMode); err != nil {
		_ = resp.Shutdown(context.Background())
		return fmt.Errorf("chmod socket: %w", err)
	}

	s.mu.Lock()
	s.resp = resp
	s.mu.Unlock()
	return nil
}

// ListenAndServe creates the socket and serves it until Shutdown or ctx
// is done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s.server() == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.logger.Info("local server listening", "path", s.path)
	return s.server().Serve(ctx)
}

// Shutdown stops accepting connections, waits for open ones to finish
// (respecting ctx) and removes the socket.
func (s *Server) Shutdown(ctx context.Context) error {
	resp := s.server()
	if resp == nil {
		return nil
	}
	err := resp.Shutdown(ctx)
	if rmErr := os.Remove(s.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	return err
}

// ActiveConnections returns the number of open connections.
func (s *Server) ActiveConnections() int {
	if resp := s.server(); resp != nil {
		return resp.ActiveConnections()
	}
	return 0
}

func (s *Server) server() *respserver.Server {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resp
}

func removeStaleSocket(path string) error {
	fi, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if fi.Mode()&fs.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}

	// A socket that still accepts connections belongs to a live server.
	if c, err := net.Dial("unix", path); err == nil {
		_ = c.Close()
		return fmt.Errorf("%s is in use by another server", path)
	}
	return os.Remove(path)
}
