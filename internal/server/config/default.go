package config

import "time"

// Default configuration values.
const (
	DefaultDeviceCount = 3
	DefaultPageBytes   = 4096
	DefaultSizeBytes   = 16 * DefaultPageBytes
	DefaultMaxBytes    = 64 << 20
	DefaultMaxIOBytes  = 1 << 20

	DefaultHTTPAddr    = "127.0.0.1:5380"
	DefaultRESPAddr    = "127.0.0.1:6380"
	DefaultLocalSocket = "/var/run/memdev-server/memdev-server.sock"

	DefaultRateLimit      = 0
	DefaultRateBurst      = 100
	DefaultMaxConnections = 1000
	DefaultIdleTimeout    = 5 * time.Minute

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"
)

// Default returns the default server configuration.
func Default() *ServerConfig {
	return &ServerConfig{
		Device: DeviceSection{
			Count:      DefaultDeviceCount,
			SizeBytes:  DefaultSizeBytes,
			PageBytes:  DefaultPageBytes,
			MaxBytes:   DefaultMaxBytes,
			MaxIOBytes: DefaultMaxIOBytes,
		},
		Server: ServerSection{
			HTTP: HTTPConfig{
				Enabled: true,
				Addr:    DefaultHTTPAddr,
			},
			RESP: RESPConfig{
				Enabled:        true,
				Addr:           DefaultRESPAddr,
				RateLimit:      DefaultRateLimit,
				RateBurst:      DefaultRateBurst,
				MaxConnections: DefaultMaxConnections,
				IdleTimeout:    DefaultIdleTimeout,
			},
			Local: LocalConfig{
				Enabled: false,
				Path:    DefaultLocalSocket,
			},
		},
		Log: LogSection{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// DefaultMap returns Default as a flat map of dotted keys, suitable for
// confloader.WithDefaults. Every key of the configuration is present, which
// lets environment variables resolve to snake-case keys.
func DefaultMap() map[string]any {
	d := Default()
	return map[string]any{
		"device.count":                d.Device.Count,
		"device.size_bytes":           d.Device.SizeBytes,
		"device.page_bytes":           d.Device.PageBytes,
		"device.max_bytes":            d.Device.MaxBytes,
		"device.max_io_bytes":         d.Device.MaxIOBytes,
		"server.http.enabled":         d.Server.HTTP.Enabled,
		"server.http.addr":            d.Server.HTTP.Addr,
		"server.resp.enabled":         d.Server.RESP.Enabled,
		"server.resp.addr":            d.Server.RESP.Addr,
		"server.resp.rate_limit":      d.Server.RESP.RateLimit,
		"server.resp.rate_burst":      d.Server.RESP.RateBurst,
		"server.resp.max_connections": d.Server.RESP.MaxConnections,
		"server.resp.idle_timeout":    d.Server.RESP.IdleTimeout.String(),
		"server.local.enabled":        d.Server.Local.Enabled,
		"server.local.path":           d.Server.Local.Path,
		"log.level":                   d.Log.Level,
		"log.format":                  d.Log.Format,
	}
}
