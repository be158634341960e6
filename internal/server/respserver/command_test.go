package respserver

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/memdev-go/internal/core/domain"
	"github.com/yndnr/memdev-go/internal/core/service"
	"github.com/yndnr/memdev-go/internal/storage/memory"
	"github.com/yndnr/memdev-go/internal/telemetry/metric"
)

const testPage = 4096

var discard = slog.New(slog.DiscardHandler)

// ============================================================
// Test Helpers
// ============================================================

type fixture struct {
	svc     *service.DeviceService
	metrics *metric.Registry
	server  *Server
}

func newFixture(t *testing.T, cfg *Config) *fixture {
	t.Helper()

	nodes := memory.NewNodeRegistry()
	table, err := memory.NewTable(memory.Config{
		MaxDevices:  3,
		InitialSize: 2 * testPage,
		PageSize:    testPage,
	}, memory.WithRegistrar(nodes), memory.WithLogger(discard))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	t.Cleanup(table.Close)

	m := metric.NewRegistry()
	svc := service.NewDeviceService(table, nodes, service.WithLogger(discard), service.WithMetrics(m))
	h := NewCommandHandler(svc, discard, WithMetrics(m))
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &fixture{
		svc:     svc,
		metrics: m,
		server:  New(cfg, h, discard, WithOnClose(h.Release)),
	}
}

type testClient struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
	bw   *bufio.Writer
}

// dial connects a client to f.server through an in-memory pipe.
func (f *fixture) dial(t *testing.T) *testClient {
	t.Helper()
	server, client := net.Pipe()
	go f.server.ServeConn(server)
	t.Cleanup(func() { _ = client.Close() })
	return &testClient{t: t, conn: client, br: bufio.NewReader(client), bw: bufio.NewWriter(client)}
}

func (c *testClient) do(args ...string) Reply {
	c.t.Helper()
	raw := make([][]byte, len(args))
	for i, a := range args {
		raw[i] = []byte(a)
	}
	_ = c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := WriteCommand(c.bw, raw...); err != nil {
		c.t.Fatalf("write %v: %v", args, err)
	}
	if err := c.bw.Flush(); err != nil {
		c.t.Fatalf("flush %v: %v", args, err)
	}
	r, err := ReadReply(c.br)
	if err != nil {
		c.t.Fatalf("read reply to %v: %v", args, err)
	}
	return r
}

func (c *testClient) open(dev string) string {
	c.t.Helper()
	r := c.do("DEV.OPEN", dev)
	if r.Kind != ReplyBulk || !domain.ValidateHandleID(string(r.Bulk)) {
		c.t.Fatalf("DEV.OPEN %s = %+v", dev, r)
	}
	return string(r.Bulk)
}

func expectInt(t *testing.T, r Reply, want int64) {
	t.Helper()
	if r.Kind != ReplyInteger || r.Int != want {
		t.Fatalf("reply = %+v, want :%d", r, want)
	}
}

func expectOK(t *testing.T, r Reply) {
	t.Helper()
	if r.Kind != ReplyStatus || r.Str != "OK" {
		t.Fatalf("reply = %+v, want +OK", r)
	}
}

func expectBulk(t *testing.T, r Reply, want string) {
	t.Helper()
	if r.Kind != ReplyBulk || string(r.Bulk) != want {
		t.Fatalf("reply = %+v, want bulk %q", r, want)
	}
}

func expectErr(t *testing.T, r Reply, code string) {
	t.Helper()
	if r.Kind != ReplyError || !strings.HasPrefix(r.Str, "ERR "+code) {
		t.Fatalf("reply = %+v, want ERR %s", r, code)
	}
}

// ============================================================
// Test: formatError
// ============================================================

func TestFormatError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"domain error", domain.ErrDeviceNotFound, "ERR MD-DEV-4040 device not found"},
		{"with details", domain.ErrOutOfBounds.WithDetails("offset 5"), "ERR MD-DEV-4160 write out of bounds: offset 5"},
		{"plain error", errors.New("boom"), "ERR boom"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := formatError(tt.err); got != tt.want {
				t.Errorf("formatError() = %q, want %q", got, tt.want)
			}
		})
	}
}

// ============================================================
// Test: Connection Commands
// ============================================================

func TestCommandHandler_Ping(t *testing.T) {
	c := newFixture(t, nil).dial(t)

	if r := c.do("PING"); r.Kind != ReplyStatus || r.Str != "PONG" {
		t.Errorf("PING = %+v", r)
	}
	expectBulk(t, c.do("ping", "hello"), "hello")
}

func TestCommandHandler_Quit(t *testing.T) {
	c := newFixture(t, nil).dial(t)

	expectOK(t, c.do("QUIT"))
	if _, err := ReadReply(c.br); !errors.Is(err, io.EOF) {
		t.Errorf("read after QUIT error = %v, want EOF", err)
	}
}

func TestCommandHandler_UnknownAndArity(t *testing.T) {
	c := newFixture(t, nil).dial(t)

	tests := []struct {
		args []string
		want string
	}{
		{[]string{"GET", "k"}, "ERR unknown command 'GET'"},
		{[]string{"DEV.OPEN"}, "ERR wrong number of arguments for 'DEV.OPEN' command"},
		{[]string{"DEV.READ", "h"}, "ERR wrong number of arguments for 'DEV.READ' command"},
		{[]string{"DEV.LIST", "x"}, "ERR wrong number of arguments for 'DEV.LIST' command"},
		{[]string{"DEV.SEEK", "h"}, "ERR wrong number of arguments for 'DEV.SEEK' command"},
	}
	for _, tt := range tests {
		r := c.do(tt.args...)
		if r.Kind != ReplyError || r.Str != tt.want {
			t.Errorf("%v = %+v, want -%s", tt.args, r, tt.want)
		}
	}
}

// ============================================================
// Test: Device Commands
// ============================================================

func TestCommandHandler_EndToEnd(t *testing.T) {
	c := newFixture(t, nil).dial(t)
	h := c.open("memdev0")

	expectInt(t, c.do("DEV.WRITE", h, "hello"), 5)
	expectInt(t, c.do("DEV.SEEK", h, "0"), 0)
	expectBulk(t, c.do("DEV.READ", h, "5"), "hello")

	// Reads clamp at the end of the device.
	expectInt(t, c.do("DEV.SEEK", h, "-2", "end"), 2*testPage-2)
	expectBulk(t, c.do("DEV.READ", h, "10"), "\x00\x00")

	// Seeking past the end grows the device to the next page boundary.
	expectInt(t, c.do("DEV.SEEK", h, "10000", "set"), 10000)
	var info domain.DeviceInfo
	r := c.do("DEV.STAT", "memdev0")
	if err := json.Unmarshal(r.Bulk, &info); err != nil {
		t.Fatalf("DEV.STAT json: %v (%+v)", err, r)
	}
	if info.Size != 3*testPage || info.Reset || info.OpenHandles != 1 {
		t.Errorf("DEV.STAT = %+v", info)
	}

	// Reset zeroes the device and reads return nothing until the next write.
	expectOK(t, c.do("DEV.RESET", h))
	expectBulk(t, c.do("DEV.READ", h, "5"), "")
	expectInt(t, c.do("DEV.SEEK", h, "0", "cur"), 0)
	expectInt(t, c.do("DEV.WRITE", h, "x"), 1)
	expectInt(t, c.do("DEV.SEEK", h, "0"), 0)
	expectBulk(t, c.do("DEV.READ", h, "2"), "x\x00")

	expectOK(t, c.do("DEV.IOCTL", h, "0x3700"))
	expectErr(t, c.do("DEV.IOCTL", h, "0x1234"), "MD-DEV-4050")

	expectOK(t, c.do("DEV.CLOSE", h))
	expectErr(t, c.do("DEV.READ", h, "1"), "MD-HDL-4040")
	expectErr(t, c.do("DEV.CLOSE", h), "MD-HDL-4040")
}

func TestCommandHandler_WriteOutOfBounds(t *testing.T) {
	c := newFixture(t, nil).dial(t)
	h := c.open("1")

	expectInt(t, c.do("DEV.SEEK", h, "-2", "end"), 2*testPage-2)
	expectErr(t, c.do("DEV.WRITE", h, "abcde"), "MD-DEV-4160")

	// Nothing was written and the cursor did not move.
	expectInt(t, c.do("DEV.SEEK", h, "0", "cur"), 2*testPage-2)
	expectBulk(t, c.do("DEV.READ", h, "2"), "\x00\x00")
}

func TestCommandHandler_BadArguments(t *testing.T) {
	c := newFixture(t, nil).dial(t)
	h := c.open("memdev2")

	tests := []struct {
		args []string
		code string
	}{
		{[]string{"DEV.OPEN", "memdev9"}, "MD-DEV-4040"},
		{[]string{"DEV.OPEN", "disk0"}, "MD-DEV-4040"},
		{[]string{"DEV.READ", h, "abc"}, "MD-ARG-4000"},
		{[]string{"DEV.READ", h, "-1"}, "MD-ARG-4000"},
		{[]string{"DEV.SEEK", h, "1.5"}, "MD-ARG-4000"},
		{[]string{"DEV.SEEK", h, "0", "middle"}, "MD-ARG-4000"},
		{[]string{"DEV.SEEK", h, "0", "7"}, "MD-ARG-4000"},
		{[]string{"DEV.SEEK", h, "0", "start", "extra"}, "MD-ARG-4000"},
		{[]string{"DEV.IOCTL", h, "zz"}, "MD-ARG-4000"},
		{[]string{"DEV.STAT", "memdev7"}, "MD-DEV-4040"},
		{[]string{"DEV.SUM", "nope"}, "MD-DEV-4040"},
		{[]string{"DEV.WRITE", "mdh-unknown", "x"}, "MD-HDL-4040"},
	}
	for _, tt := range tests {
		expectErr(t, c.do(tt.args...), tt.code)
	}
}

func TestCommandHandler_List(t *testing.T) {
	c := newFixture(t, nil).dial(t)
	c.open("memdev1")

	var devs []domain.DeviceInfo
	if err := json.Unmarshal(c.do("DEV.LIST").Bulk, &devs); err != nil {
		t.Fatalf("DEV.LIST json: %v", err)
	}
	if len(devs) != 3 {
		t.Fatalf("DEV.LIST returned %d devices, want 3", len(devs))
	}
	for i, d := range devs {
		if d.ID != i || d.Name != "memdev"+strconv.Itoa(i) || d.Size != 2*testPage {
			t.Errorf("device %d = %+v", i, d)
		}
	}
	if !devs[0].Reset || devs[1].Reset {
		t.Errorf("reset flags = %v %v, want true false", devs[0].Reset, devs[1].Reset)
	}
}

func TestCommandHandler_HandlesArePerConnection(t *testing.T) {
	f := newFixture(t, nil)
	a, b := f.dial(t), f.dial(t)

	ha := a.open("memdev0")
	b.open("memdev0")
	b.open("memdev1")

	var got []domain.HandleInfo
	if err := json.Unmarshal(a.do("DEV.HANDLES").Bulk, &got); err != nil {
		t.Fatalf("DEV.HANDLES json: %v", err)
	}
	if len(got) != 1 || got[0].ID != ha {
		t.Errorf("DEV.HANDLES = %+v, want only %s", got, ha)
	}

	// A handle ID is usable from any connection.
	expectInt(t, b.do("DEV.WRITE", ha, "shared"), 6)
}

func TestCommandHandler_Sum(t *testing.T) {
	c := newFixture(t, nil).dial(t)

	s0 := c.do("DEV.SUM", "memdev0")
	s1 := c.do("DEV.SUM", "memdev1")
	if len(s0.Bulk) != 32 || string(s0.Bulk) != string(s1.Bulk) {
		t.Fatalf("sums of identical devices differ: %q %q", s0.Bulk, s1.Bulk)
	}

	h := c.open("memdev0")
	c.do("DEV.WRITE", h, "data")
	if s := c.do("DEV.SUM", "memdev0"); string(s.Bulk) == string(s0.Bulk) {
		t.Error("sum unchanged after write")
	}
}

func TestCommandHandler_RateLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit = 0.001
	cfg.RateBurst = 1
	f := newFixture(t, cfg)
	c := f.dial(t)

	if r := c.do("DEV.LIST"); r.Kind != ReplyBulk {
		t.Fatalf("first DEV.LIST = %+v", r)
	}
	expectErr(t, c.do("DEV.LIST"), "MD-SYS-4290")

	// Connection commands are not limited.
	if r := c.do("PING"); r.Str != "PONG" {
		t.Errorf("PING = %+v", r)
	}

	// Each connection has its own bucket.
	if r := f.dial(t).do("DEV.LIST"); r.Kind != ReplyBulk {
		t.Errorf("DEV.LIST on second connection = %+v", r)
	}

	if got := counterValue(t, f.metrics, "memdev_rate_limited_total"); got != 1 {
		t.Errorf("rate limited counter = %v, want 1", got)
	}
}

func TestCommandHandler_DisconnectReleasesHandles(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)
	c.open("memdev0")
	c.open("memdev0")

	if n := len(f.svc.ListHandles("")); n != 2 {
		t.Fatalf("open handles = %d, want 2", n)
	}

	_ = c.conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for len(f.svc.ListHandles("")) != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("handles not released after disconnect: %+v", f.svc.ListHandles(""))
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCommandHandler_ProtocolErrorClosesConnection(t *testing.T) {
	c := newFixture(t, nil).dial(t)

	_ = c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := c.conn.Write([]byte("*1\r\n$abc\r\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	r, err := ReadReply(c.br)
	if err != nil || r.Kind != ReplyError || !strings.HasPrefix(r.Str, "ERR protocol error") {
		t.Fatalf("reply = %+v, %v", r, err)
	}
	if _, err := ReadReply(c.br); !errors.Is(err, io.EOF) {
		t.Errorf("read after protocol error = %v, want EOF", err)
	}
}

func TestCommandHandler_RecordsRequests(t *testing.T) {
	f := newFixture(t, nil)
	c := f.dial(t)

	c.do("DEV.LIST")
	c.do("DEV.STAT", "memdev9")
	c.do("NOPE")

	if got := counterValue(t, f.metrics, "memdev_requests_total"); got != 3 {
		t.Errorf("requests = %v, want 3", got)
	}
}

// counterValue sums every series of the named counter.
func counterValue(t *testing.T, m *metric.Registry, name string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var sum float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, s := range mf.GetMetric() {
			sum += s.GetCounter().GetValue()
		}
	}
	return sum
}
