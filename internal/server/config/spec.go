package config

import "time"

// ServerConfig is the root configuration for memdev-server.
type ServerConfig struct {
	Device DeviceSection `koanf:"device" yaml:"device"`
	Server ServerSection `koanf:"server" yaml:"server"`
	Log    LogSection    `koanf:"log" yaml:"log"`
}

// DeviceSection configures the device table.
type DeviceSection struct {
	// Count is the number of devices created at startup.
	Count int `koanf:"count" yaml:"count"`
	// SizeBytes is each device's initial size, rounded up to whole pages.
	SizeBytes int64 `koanf:"size_bytes" yaml:"size_bytes"`
	// PageBytes is the unit by which devices grow.
	PageBytes int64 `koanf:"page_bytes" yaml:"page_bytes"`
	// MaxBytes caps how large a single device may grow. It must be set.
	MaxBytes int64 `koanf:"max_bytes" yaml:"max_bytes"`
	// MaxIOBytes bounds a single read or write request.
	MaxIOBytes int `koanf:"max_io_bytes" yaml:"max_io_bytes"`
}

// ServerSection configures server endpoints.
type ServerSection struct {
	HTTP  HTTPConfig  `koanf:"http" yaml:"http"`
	RESP  RESPConfig  `koanf:"resp" yaml:"resp"`
	Local LocalConfig `koanf:"local" yaml:"local"`
}

// HTTPConfig configures the HTTP admin server.
type HTTPConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
}

// RESPConfig configures the RESP protocol server.
type RESPConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Addr    string `koanf:"addr" yaml:"addr"`
	// RateLimit is the per-connection command rate. 0 disables limiting.
	RateLimit float64 `koanf:"rate_limit" yaml:"rate_limit"`
	// RateBurst is the per-connection burst size.
	RateBurst      int           `koanf:"rate_burst" yaml:"rate_burst"`
	MaxConnections int           `koanf:"max_connections" yaml:"max_connections"`
	IdleTimeout    time.Duration `koanf:"idle_timeout" yaml:"idle_timeout"`
}

// LocalConfig configures the local management socket.
type LocalConfig struct {
	Enabled bool   `koanf:"enabled" yaml:"enabled"`
	Path    string `koanf:"path" yaml:"path"`
}

// LogSection configures logging.
type LogSection struct {
	Level  string `koanf:"level" yaml:"level"`
	Format string `koanf:"format" yaml:"format"`
}
