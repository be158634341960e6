package command

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/memdev-go/internal/cli/output"
	"github.com/yndnr/memdev-go/internal/server/localserver"
)

// PingResult is the output of ping.
type PingResult struct {
	Target    string  `json:"target" yaml:"target"`
	LatencyMS float64 `json:"latency_ms" yaml:"latency_ms"`
}

// PingCommand checks that the server answers.
func PingCommand() *cli.Command {
	return &cli.Command{
		Name:  "ping",
		Usage: "Check that the server answers",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context, s *session) error {
				start := time.Now()
				if err := s.client.Ping(ctx); err != nil {
					return err
				}
				elapsed := time.Since(start)
				if s.format == output.FormatTable {
					return s.print(fmt.Sprintf("PONG from %s in %s", s.client.Target(), elapsed.Round(time.Microsecond)))
				}
				return s.print(PingResult{
					Target:    s.client.Target().String(),
					LatencyMS: float64(elapsed.Microseconds()) / 1000,
				})
			})
		},
	}
}

// InfoCommand shows server status. It needs the local socket.
func InfoCommand() *cli.Command {
	return &cli.Command{
		Name:  "info",
		Usage: "Show server status (local socket only)",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context, s *session) error {
				raw, err := s.client.Info(ctx)
				if err != nil {
					return err
				}
				var st localserver.Status
				if err := json.Unmarshal(raw, &st); err != nil {
					return fmt.Errorf("decode INFO reply: %w", err)
				}
				if s.format == output.FormatTable {
					return s.print(statusView(st))
				}
				return s.print(st)
			})
		},
	}
}

// ShutdownCommand asks the server to stop. It needs the local socket.
func ShutdownCommand() *cli.Command {
	return &cli.Command{
		Name:  "shutdown",
		Usage: "Stop the server gracefully (local socket only)",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context, s *session) error {
				if err := s.client.Shutdown(ctx); err != nil {
					return err
				}
				return s.print("OK")
			})
		},
	}
}

type statusView localserver.Status

func (v statusView) Table(bool) *output.Table {
	t := &output.Table{Headers: []string{"FIELD", "VALUE"}}
	t.AddRow("version", v.Build.Version)
	t.AddRow("commit", v.Build.Commit)
	t.AddRow("go_version", v.Build.GoVersion)
	t.AddRow("started_at", output.FormatValue(v.StartedAt))
	t.AddRow("uptime", (time.Duration(v.UptimeSeconds) * time.Second).String())
	t.AddRow("devices", strconv.Itoa(v.Devices))
	t.AddRow("open_handles", strconv.Itoa(v.OpenHandles))
	t.AddRow("total_bytes", output.FormatBytes(v.TotalBytes))
	return t
}
