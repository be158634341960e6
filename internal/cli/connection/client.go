package connection

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/yndnr/memdev-go/internal/core/domain"
	"github.com/yndnr/memdev-go/internal/server/respserver"
)

// DefaultTimeout bounds a single command when ctx carries no deadline.
const DefaultTimeout = 10 * time.Second

// ErrClosed is returned by Do after Close.
var ErrClosed = errors.New("connection closed")

// Client is a single RESP connection. It is safe for concurrent use;
// commands are serialized.
type Client struct {
	target  Target
	timeout time.Duration

	mu     sync.Mutex
	conn   net.Conn
	br     *bufio.Reader
	bw     *bufio.Writer
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-command timeout used when ctx has no deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// Dial connects to target.
func Dial(ctx context.Context, target Target, opts ...Option) (*Client, error) {
	c := &Client{target: target, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(c)
	}

	d := net.Dialer{Timeout: c.timeout}
	conn, err := d.DialContext(ctx, target.Network, target.Address)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", target, err)
	}
	c.conn = conn
	c.br = bufio.NewReader(conn)
	c.bw = bufio.NewWriter(conn)
	return c, nil
}

// Target returns the address the client is connected to.
func (c *Client) Target() Target {
	return c.target
}

// Do sends one command and returns its reply. An error reply is returned
// as an error: a *domain.DomainError when the server sent a coded error.
func (c *Client) Do(ctx context.Context, args ...string) (respserver.Reply, error) {
	if len(args) == 0 {
		return respserver.Reply{}, domain.ErrMissingArgument.WithDetails("command")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return respserver.Reply{}, ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return respserver.Reply{}, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeout)
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return respserver.Reply{}, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Now())
	})
	defer stop()

	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	if err := respserver.WriteCommand(c.bw, raw...); err != nil {
		return respserver.Reply{}, c.ioError(ctx, err)
	}
	if err := c.bw.Flush(); err != nil {
		return respserver.Reply{}, c.ioError(ctx, err)
	}

	r, err := respserver.ReadReply(c.br)
	if err != nil {
		return respserver.Reply{}, c.ioError(ctx, err)
	}
	if r.Kind == respserver.ReplyError {
		return r, ParseError(r.Str)
	}
	return r, nil
}

func (c *Client) ioError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("%s: %w", c.target, err)
}

// Close sends QUIT and closes the connection. Calling it more than once is
// safe.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	_ = c.conn.SetDeadline(time.Now().Add(time.Second))
	if respserver.WriteCommand(c.bw, []byte("QUIT")) == nil && c.bw.Flush() == nil {
		_, _ = respserver.ReadReply(c.br)
	}
	return c.conn.Close()
}

// ParseError converts an error reply to an error. Replies of the form
// "ERR <code> <message>[: details]" become a *domain.DomainError.
func ParseError(s string) error {
	s = strings.TrimPrefix(s, "ERR ")
	code, rest, _ := strings.Cut(s, " ")
	if !isErrorCode(code) {
		return errors.New(s)
	}
	msg, details, _ := strings.Cut(rest, ": ")
	return &domain.DomainError{Code: code, Message: msg, Details: details}
}

func isErrorCode(s string) bool {
	parts := strings.Split(s, "-")
	if len(parts) != 3 || parts[0] != "MD" || len(parts[2]) != 4 {
		return false
	}
	_, err := strconv.Atoi(parts[2])
	return err == nil
}

// Ping checks that the server answers.
func (c *Client) Ping(ctx context.Context) error {
	r, err := c.Do(ctx, "PING")
	if err != nil {
		return err
	}
	if r.Str != "PONG" {
		return fmt.Errorf("unexpected PING reply %q", r.Str)
	}
	return nil
}

// Devices lists every device.
func (c *Client) Devices(ctx context.Context) ([]domain.DeviceInfo, error) {
	var out []domain.DeviceInfo
	if err := c.doJSON(ctx, &out, "DEV.LIST"); err != nil {
		return nil, err
	}
	return out, nil
}

// Handles lists the handles this connection holds.
func (c *Client) Handles(ctx context.Context) ([]domain.HandleInfo, error) {
	var out []domain.HandleInfo
	if err := c.doJSON(ctx, &out, "DEV.HANDLES"); err != nil {
		return nil, err
	}
	return out, nil
}

// Stat describes one device.
func (c *Client) Stat(ctx context.Context, device string) (domain.DeviceInfo, error) {
	var out domain.DeviceInfo
	err := c.doJSON(ctx, &out, "DEV.STAT", device)
	return out, err
}

// Sum returns the hex checksum of a device's contents.
func (c *Client) Sum(ctx context.Context, device string) (string, error) {
	r, err := c.Do(ctx, "DEV.SUM", device)
	if err != nil {
		return "", err
	}
	return string(r.Bulk), nil
}

// Open opens a handle on device and returns its id.
func (c *Client) Open(ctx context.Context, device string) (string, error) {
	r, err := c.Do(ctx, "DEV.OPEN", device)
	if err != nil {
		return "", err
	}
	if r.Kind != respserver.ReplyBulk || r.Bulk == nil {
		return "", fmt.Errorf("unexpected DEV.OPEN reply %+v", r)
	}
	return string(r.Bulk), nil
}

// Read reads up to count bytes at the handle's cursor.
func (c *Client) Read(ctx context.Context, handle string, count int) ([]byte, error) {
	r, err := c.Do(ctx, "DEV.READ", handle, strconv.Itoa(count))
	if err != nil {
		return nil, err
	}
	if r.Bulk == nil {
		return []byte{}, nil
	}
	return r.Bulk, nil
}

// Write writes data at the handle's cursor and returns the bytes written.
func (c *Client) Write(ctx context.Context, handle string, data []byte) (int, error) {
	r, err := c.Do(ctx, "DEV.WRITE", handle, string(data))
	if err != nil {
		return 0, err
	}
	return int(r.Int), nil
}

// Seek moves the handle's cursor. whence is any form the server accepts
// ("start", "cur", "end" or a number).
func (c *Client) Seek(ctx context.Context, handle string, offset int64, whence string) (int64, error) {
	r, err := c.Do(ctx, "DEV.SEEK", handle, strconv.FormatInt(offset, 10), whence)
	if err != nil {
		return 0, err
	}
	return r.Int, nil
}

// Ioctl issues a device control command.
func (c *Client) Ioctl(ctx context.Context, handle, cmd string) error {
	_, err := c.Do(ctx, "DEV.IOCTL", handle, cmd)
	return err
}

// Reset clears the device behind handle.
func (c *Client) Reset(ctx context.Context, handle string) error {
	_, err := c.Do(ctx, "DEV.RESET", handle)
	return err
}

// CloseHandle releases a handle.
func (c *Client) CloseHandle(ctx context.Context, handle string) error {
	_, err := c.Do(ctx, "DEV.CLOSE", handle)
	return err
}

// Info returns the raw INFO document of the local socket.
func (c *Client) Info(ctx context.Context) (json.RawMessage, error) {
	r, err := c.Do(ctx, "INFO")
	if err != nil {
		return nil, err
	}
	return json.RawMessage(r.Bulk), nil
}

// Shutdown asks the server to stop. Only the local socket accepts it.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := c.Do(ctx, "SHUTDOWN")
	return err
}

func (c *Client) doJSON(ctx context.Context, out any, args ...string) error {
	r, err := c.Do(ctx, args...)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(r.Bulk, out); err != nil {
		return fmt.Errorf("decode %s reply: %w", args[0], err)
	}
	return nil
}
