package connection

import (
	"fmt"
	"net"
	"strings"
)

// DefaultPort is the RESP port assumed when the server address has none.
const DefaultPort = "6380"

// Target is a server address.
type Target struct {
	Network string // "tcp" or "unix"
	Address string
}

func (t Target) String() string {
	if t.Network == "unix" {
		return "unix://" + t.Address
	}
	return t.Address
}

// ParseTarget resolves the CLI's --server and --socket values. A socket
// path wins over the server address. The server may be given as
// host[:port], tcp://host[:port] or unix:///path.
func ParseTarget(server, socket string) (Target, error) {
	if socket != "" {
		return Target{Network: "unix", Address: socket}, nil
	}

	server = strings.TrimSpace(server)
	if path, ok := strings.CutPrefix(server, "unix://"); ok {
		if path == "" {
			return Target{}, fmt.Errorf("empty socket path in %q", server)
		}
		return Target{Network: "unix", Address: path}, nil
	}
	server = strings.TrimPrefix(server, "tcp://")
	if server == "" {
		return Target{}, fmt.Errorf("no server address")
	}

	host, port, err := net.SplitHostPort(server)
	if err != nil {
		// No port: the whole string is the host.
		host, port = strings.Trim(server, "[]"), DefaultPort
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return Target{Network: "tcp", Address: net.JoinHostPort(host, port)}, nil
}
