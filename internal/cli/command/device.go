package command

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/memdev-go/internal/cli/output"
	"github.com/yndnr/memdev-go/internal/core/domain"
)

// DefaultReadCount is the byte count read when --count is not given.
const DefaultReadCount = 256

// ListCommand lists devices.
func ListCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "List devices",
		Action: func(c *cli.Context) error {
			return run(c, func(ctx context.Context, s *session) error {
				devs, err := s.client.Devices(ctx)
				if err != nil {
					return err
				}
				return s.print(deviceList(devs))
			})
		},
	}
}

// StatCommand describes one device.
func StatCommand() *cli.Command {
	return &cli.Command{
		Name:      "stat",
		Usage:     "Show one device",
		ArgsUsage: "<device>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			return run(c, func(ctx context.Context, s *session) error {
				info, err := s.client.Stat(ctx, c.Args().First())
				if err != nil {
					return err
				}
				if s.format == output.FormatTable {
					return s.print(deviceList{info})
				}
				return s.print(info)
			})
		},
	}
}

// SumResult is the output of sum.
type SumResult struct {
	Device    string `json:"device" yaml:"device"`
	Algorithm string `json:"algorithm" yaml:"algorithm"`
	Sum       string `json:"sum" yaml:"sum"`
}

// SumCommand prints a device checksum.
func SumCommand() *cli.Command {
	return &cli.Command{
		Name:      "sum",
		Usage:     "Print the murmur3 checksum of a device's contents",
		ArgsUsage: "<device>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			return run(c, func(ctx context.Context, s *session) error {
				dev := c.Args().First()
				sum, err := s.client.Sum(ctx, dev)
				if err != nil {
					return err
				}
				if s.format == output.FormatTable {
					return s.print(sum + "  " + dev)
				}
				return s.print(SumResult{Device: dev, Algorithm: "murmur3-128", Sum: sum})
			})
		},
	}
}

// ReadResult is the output of read.
type ReadResult struct {
	Device string `json:"device" yaml:"device"`
	Offset int64  `json:"offset" yaml:"offset"`
	Count  int    `json:"count" yaml:"count"`
	Data   []byte `json:"data" yaml:"data"`
}

// ReadCommand reads bytes from a device.
func ReadCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "Read bytes from a device",
		ArgsUsage: "<device>",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "offset", Usage: "Byte offset to read from"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: DefaultReadCount, Usage: "Bytes to read"},
			&cli.BoolFlag{Name: "hex", Usage: "Print a hex dump instead of raw bytes"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			dev := c.Args().First()
			offset := c.Int64("offset")
			return run(c, func(ctx context.Context, s *session) error {
				return withHandle(ctx, s, dev, func(h string) error {
					if offset != 0 {
						if _, err := s.client.Seek(ctx, h, offset, "start"); err != nil {
							return err
						}
					}
					data, err := s.client.Read(ctx, h, c.Int("count"))
					if err != nil {
						return err
					}

					switch {
					case s.format != output.FormatTable:
						return s.print(ReadResult{Device: dev, Offset: offset, Count: len(data), Data: data})
					case c.Bool("hex"):
						_, err = io.WriteString(s.out, hex.Dump(data))
					default:
						_, err = s.out.Write(data)
					}
					return err
				})
			})
		},
	}
}

// WriteResult is the output of write.
type WriteResult struct {
	Device  string `json:"device" yaml:"device"`
	Offset  int64  `json:"offset" yaml:"offset"`
	Written int    `json:"written" yaml:"written"`
}

// WriteCommand writes bytes to a device.
func WriteCommand() *cli.Command {
	return &cli.Command{
		Name:      "write",
		Usage:     "Write bytes to a device",
		ArgsUsage: "<device> [data]",
		Flags: []cli.Flag{
			&cli.Int64Flag{Name: "offset", Usage: "Byte offset to write at"},
			&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "Read data from `FILE` (- for stdin)"},
		},
		Action: func(c *cli.Context) error {
			data, err := writeData(c)
			if err != nil {
				return err
			}
			dev := c.Args().First()
			offset := c.Int64("offset")
			return run(c, func(ctx context.Context, s *session) error {
				return withHandle(ctx, s, dev, func(h string) error {
					if offset != 0 {
						if _, err := s.client.Seek(ctx, h, offset, "start"); err != nil {
							return err
						}
					}
					n, err := s.client.Write(ctx, h, data)
					if err != nil {
						return err
					}
					if s.format == output.FormatTable {
						return s.print(fmt.Sprintf("wrote %d bytes to %s at offset %d", n, dev, offset))
					}
					return s.print(WriteResult{Device: dev, Offset: offset, Written: n})
				})
			})
		},
	}
}

func writeData(c *cli.Context) ([]byte, error) {
	file := c.String("file")
	switch {
	case file != "" && c.NArg() == 1:
		if file == "-" {
			in := c.App.Reader
			if in == nil {
				in = os.Stdin
			}
			return io.ReadAll(in)
		}
		return os.ReadFile(file)
	case file != "":
		return nil, fmt.Errorf("write: with --file, give only the device")
	default:
		if err := requireArgs(c, 2); err != nil {
			return nil, err
		}
		return []byte(c.Args().Get(1)), nil
	}
}

// SeekResult is the output of seek.
type SeekResult struct {
	Device   string `json:"device" yaml:"device"`
	Position int64  `json:"position" yaml:"position"`
}

// SeekCommand moves a fresh handle's cursor. Seeking past the end grows
// the device.
func SeekCommand() *cli.Command {
	return &cli.Command{
		Name:      "seek",
		Usage:     "Seek on a device; seeking past the end grows it",
		ArgsUsage: "<device> <offset>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "whence", Value: "start", Usage: "start, cur or end"},
		},
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			dev := c.Args().Get(0)
			offset, err := strconv.ParseInt(c.Args().Get(1), 10, 64)
			if err != nil {
				return fmt.Errorf("seek: invalid offset %q", c.Args().Get(1))
			}
			return run(c, func(ctx context.Context, s *session) error {
				return withHandle(ctx, s, dev, func(h string) error {
					pos, err := s.client.Seek(ctx, h, offset, c.String("whence"))
					if err != nil {
						return err
					}
					if s.format == output.FormatTable {
						return s.print(strconv.FormatInt(pos, 10))
					}
					return s.print(SeekResult{Device: dev, Position: pos})
				})
			})
		},
	}
}

// ResetCommand clears a device.
func ResetCommand() *cli.Command {
	return &cli.Command{
		Name:      "reset",
		Usage:     "Clear a device; it reads as empty until the next write",
		ArgsUsage: "<device>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 1); err != nil {
				return err
			}
			return run(c, func(ctx context.Context, s *session) error {
				return withHandle(ctx, s, c.Args().First(), func(h string) error {
					if err := s.client.Reset(ctx, h); err != nil {
						return err
					}
					return s.print("OK")
				})
			})
		},
	}
}

// IoctlCommand issues a raw control command.
func IoctlCommand() *cli.Command {
	return &cli.Command{
		Name:      "ioctl",
		Usage:     "Issue a control command (\"clear\", decimal or 0x hex)",
		ArgsUsage: "<device> <command>",
		Action: func(c *cli.Context) error {
			if err := requireArgs(c, 2); err != nil {
				return err
			}
			return run(c, func(ctx context.Context, s *session) error {
				return withHandle(ctx, s, c.Args().Get(0), func(h string) error {
					if err := s.client.Ioctl(ctx, h, c.Args().Get(1)); err != nil {
						return err
					}
					return s.print("OK")
				})
			})
		},
	}
}

// deviceList renders devices as a table.
type deviceList []domain.DeviceInfo

func (l deviceList) Table(wide bool) *output.Table {
	t := &output.Table{Headers: []string{"NAME", "SIZE", "HANDLES", "RESET"}}
	if wide {
		t.Headers = append([]string{"ID"}, append(t.Headers, "BYTES")...)
	}
	for _, d := range l {
		row := []string{d.Name, output.FormatBytes(d.Size), strconv.Itoa(d.OpenHandles), strconv.FormatBool(d.Reset)}
		if wide {
			row = append([]string{strconv.Itoa(d.ID)}, append(row, strconv.FormatInt(d.Size, 10))...)
		}
		t.AddRow(row...)
	}
	return t
}
