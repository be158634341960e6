package config

import "time"

// CLIConfig is the configuration for memdev-cli.
type CLIConfig struct {
	// Server is the RESP address, host:port or unix:///path.
	Server string `yaml:"server"`
	// Socket is the local management socket. It wins over Server.
	Socket string `yaml:"socket"`
	// Output is the default format: table, json or yaml.
	Output string `yaml:"output"`
	// Timeout bounds each command.
	Timeout time.Duration `yaml:"timeout"`
}

// Default returns the default CLI configuration.
func Default() *CLIConfig {
	return &CLIConfig{
		Server:  "127.0.0.1:6380",
		Output:  "table",
		Timeout: 10 * time.Second,
	}
}
