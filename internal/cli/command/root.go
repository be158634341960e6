// Package command defines the memdev-cli command tree.
//
// Every command opens one connection, runs its requests and closes the
// connection again, so handles never outlive a command.
package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/memdev-go/internal/cli/config"
	"github.com/yndnr/memdev-go/internal/cli/connection"
	"github.com/yndnr/memdev-go/internal/cli/output"
	"github.com/yndnr/memdev-go/internal/infra/buildinfo"
)

const configKey = "config"

// App creates the CLI application.
func App() *cli.App {
	return &cli.App{
		Name:    "memdev-cli",
		Usage:   "Inspect and drive memdev-server devices",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			PingCommand(),
			ListCommand(),
			StatCommand(),
			SumCommand(),
			ReadCommand(),
			WriteCommand(),
			SeekCommand(),
			ResetCommand(),
			IoctlCommand(),
			InfoCommand(),
			ShutdownCommand(),
		},
		Before: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			if c.App.Metadata == nil {
				c.App.Metadata = map[string]any{}
			}
			c.App.Metadata[configKey] = cfg
			return nil
		},
	}
}

// globalFlags returns the global CLI flags.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Usage:   "CLI settings file (default ~/.memdev/cli.yaml)",
			EnvVars: []string{"MEMDEV_CLI_CONFIG"},
		},
		&cli.StringFlag{
			Name:    "server",
			Aliases: []string{"s"},
			Usage:   "RESP server address, host:port or unix:///path",
			EnvVars: []string{"MEMDEV_SERVER"},
		},
		&cli.StringFlag{
			Name:    "socket",
			Usage:   "Local management socket path; overrides --server",
			EnvVars: []string{"MEMDEV_SOCKET"},
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Output format: table, json, yaml",
		},
		&cli.BoolFlag{
			Name:    "wide",
			Aliases: []string{"w"},
			Usage:   "Show wide output (more columns)",
		},
		&cli.DurationFlag{
			Name:  "timeout",
			Usage: "Timeout for the whole command",
		},
	}
}

// GlobalFlags holds the resolved connection and output settings.
type GlobalFlags struct {
	Server  string
	Socket  string
	Output  output.Format
	Wide    bool
	Timeout time.Duration
}

// ParseGlobalFlags merges flags and environment over the settings file.
func ParseGlobalFlags(c *cli.Context) (*GlobalFlags, error) {
	cfg, ok := c.App.Metadata[configKey].(*config.CLIConfig)
	if !ok {
		cfg = config.Default()
	}
	flags := &GlobalFlags{
		Server:  cfg.Server,
		Socket:  cfg.Socket,
		Timeout: cfg.Timeout,
		Wide:    c.Bool("wide"),
	}
	format := cfg.Output
	if c.IsSet("server") {
		flags.Server = c.String("server")
		// An explicit server beats a socket from the settings file.
		if !c.IsSet("socket") {
			flags.Socket = ""
		}
	}
	if c.IsSet("socket") {
		flags.Socket = c.String("socket")
	}
	if c.IsSet("output") {
		format = c.String("output")
	}
	if c.IsSet("timeout") {
		flags.Timeout = c.Duration("timeout")
	}

	f, err := output.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	flags.Output = f
	return flags, nil
}

// session is the state one command runs with.
type session struct {
	client *connection.Client
	out    io.Writer
	format output.Format
	fmt    output.Formatter
}

// print renders v in the selected format.
func (s *session) print(v any) error {
	return s.fmt.Format(s.out, v)
}

// run connects, calls fn and disconnects.
func run(c *cli.Context, fn func(ctx context.Context, s *session) error) (err error) {
	flags, err := ParseGlobalFlags(c)
	if err != nil {
		return err
	}
	target, err := connection.ParseTarget(flags.Server, flags.Socket)
	if err != nil {
		return err
	}

	parent := c.Context
	if parent == nil {
		parent = context.Background()
	}
	ctx := parent
	if flags.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, flags.Timeout)
		defer cancel()
	}

	client, err := connection.Dial(ctx, target, connection.WithTimeout(flags.Timeout))
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, client.Close())
	}()

	out := c.App.Writer
	if out == nil {
		out = os.Stdout
	}
	return fn(ctx, &session{
		client: client,
		out:    out,
		format: flags.Output,
		fmt:    output.NewFormatter(flags.Output, flags.Wide),
	})
}

// withHandle opens a handle on device for the duration of fn.
func withHandle(ctx context.Context, s *session, device string, fn func(h string) error) (err error) {
	h, err := s.client.Open(ctx, device)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.client.CloseHandle(ctx, h))
	}()
	return fn(h)
}

// requireArgs checks the positional argument count.
func requireArgs(c *cli.Context, n int) error {
	if c.NArg() != n {
		return fmt.Errorf("%s: expected %d argument(s), got %d (usage: %s %s)",
			c.Command.Name, n, c.NArg(), c.Command.Name, c.Command.ArgsUsage)
	}
	return nil
}
