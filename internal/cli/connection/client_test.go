package connection

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/yndnr/memdev-go/internal/core/domain"
	"github.com/yndnr/memdev-go/internal/core/service"
	"github.com/yndnr/memdev-go/internal/server/respserver"
	"github.com/yndnr/memdev-go/internal/storage/memory"
)

var discard = slog.New(slog.DiscardHandler)

func startServer(t *testing.T) (Target, *service.DeviceService) {
	t.Helper()
	nodes := memory.NewNodeRegistry()
	table, err := memory.NewTable(memory.Config{
		MaxDevices:  2,
		InitialSize: 4096,
		PageSize:    4096,
	}, memory.WithRegistrar(nodes), memory.WithLogger(discard))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	t.Cleanup(table.Close)
	svc := service.NewDeviceService(table, nodes, service.WithLogger(discard))

	cfg := respserver.DefaultConfig()
	cfg.Address = "127.0.0.1:0"
	cmds := respserver.NewCommandHandler(svc, discard)
	s := respserver.New(cfg, cmds, discard, respserver.WithOnClose(cmds.Release))
	if err := s.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(context.Background()) }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
		<-errCh
	})
	return Target{Network: "tcp", Address: s.Addr().String()}, svc
}

func dial(t *testing.T, target Target) *Client {
	t.Helper()
	c, err := Dial(context.Background(), target, WithTimeout(5*time.Second))
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_Session(t *testing.T) {
	target, _ := startServer(t)
	c := dial(t, target)
	ctx := context.Background()

	if err := c.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}

	h, err := c.Open(ctx, "memdev0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if n, err := c.Write(ctx, h, []byte("hello world")); err != nil || n != 11 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if pos, err := c.Seek(ctx, h, 6, "start"); err != nil || pos != 6 {
		t.Fatalf("Seek = %d, %v", pos, err)
	}
	got, err := c.Read(ctx, h, 5)
	if err != nil || !bytes.Equal(got, []byte("world")) {
		t.Fatalf("Read = %q, %v", got, err)
	}

	handles, err := c.Handles(ctx)
	if err != nil || len(handles) != 1 || handles[0].ID != h || handles[0].Offset != 11 {
		t.Fatalf("Handles = %+v, %v", handles, err)
	}

	if err := c.Reset(ctx, h); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if got, err := c.Read(ctx, h, 5); err != nil || len(got) != 0 {
		t.Fatalf("Read after reset = %q, %v", got, err)
	}
	if err := c.CloseHandle(ctx, h); err != nil {
		t.Fatalf("CloseHandle: %v", err)
	}
	if _, err := c.Read(ctx, h, 1); !errors.Is(err, domain.ErrHandleNotFound) {
		t.Errorf("Read on closed handle error = %v", err)
	}
}

func TestClient_Inspect(t *testing.T) {
	target, _ := startServer(t)
	c := dial(t, target)
	ctx := context.Background()

	devs, err := c.Devices(ctx)
	if err != nil || len(devs) != 2 {
		t.Fatalf("Devices = %+v, %v", devs, err)
	}
	st, err := c.Stat(ctx, "memdev1")
	if err != nil || st.ID != 1 || st.Size != 4096 {
		t.Fatalf("Stat = %+v, %v", st, err)
	}
	sum, err := c.Sum(ctx, "memdev1")
	if err != nil || len(sum) != 32 {
		t.Fatalf("Sum = %q, %v", sum, err)
	}
	if _, err := c.Stat(ctx, "memdev9"); !errors.Is(err, domain.ErrDeviceNotFound) {
		t.Errorf("Stat(memdev9) error = %v", err)
	}
}

func TestClient_ServerErrors(t *testing.T) {
	target, _ := startServer(t)
	c := dial(t, target)
	ctx := context.Background()

	h, err := c.Open(ctx, "0")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Ioctl(ctx, h, "0x1234"); !errors.Is(err, domain.ErrNotSupported) {
		t.Errorf("Ioctl error = %v", err)
	}
	if _, err := c.Seek(ctx, h, 0, "sideways"); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Seek error = %v", err)
	}
	// The local-only commands are unknown over TCP.
	if err := c.Shutdown(ctx); err == nil {
		t.Error("SHUTDOWN over TCP succeeded")
	}
}

func TestClient_Close(t *testing.T) {
	target, svc := startServer(t)
	c := dial(t, target)
	ctx := context.Background()

	if _, err := c.Open(ctx, "0"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := c.Do(ctx, "PING"); !errors.Is(err, ErrClosed) {
		t.Errorf("Do after Close error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(svc.ListHandles("")) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("handles not released after disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestClient_ContextCancel(t *testing.T) {
	target, _ := startServer(t)
	c := dial(t, target)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Do(ctx, "PING"); !errors.Is(err, context.Canceled) {
		t.Errorf("Do with cancelled ctx error = %v", err)
	}
}

func TestDial_Refused(t *testing.T) {
	_, err := Dial(context.Background(), Target{Network: "unix", Address: "/nonexistent/memdev.sock"})
	if err == nil {
		t.Fatal("Dial to missing socket succeeded")
	}
}

func TestParseError(t *testing.T) {
	tests := []struct {
		in      string
		code    string
		msg     string
		details string
	}{
		{"ERR MD-DEV-4040 device not found: memdev9", "MD-DEV-4040", "device not found", "memdev9"},
		{"ERR MD-SYS-4290 too many requests", "MD-SYS-4290", "too many requests", ""},
		{"ERR unknown command 'FOO'", "", "unknown command 'FOO'", ""},
		{"ERR max number of clients reached", "", "max number of clients reached", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			err := ParseError(tt.in)
			var de *domain.DomainError
			if tt.code == "" {
				if errors.As(err, &de) {
					t.Fatalf("ParseError(%q) = %#v, want plain error", tt.in, de)
				}
				if err.Error() != tt.msg {
					t.Errorf("message = %q, want %q", err.Error(), tt.msg)
				}
				return
			}
			if !errors.As(err, &de) {
				t.Fatalf("ParseError(%q) = %v, want DomainError", tt.in, err)
			}
			if de.Code != tt.code || de.Message != tt.msg || de.Details != tt.details {
				t.Errorf("ParseError(%q) = %+v", tt.in, de)
			}
		})
	}
}
