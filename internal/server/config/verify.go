package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/yndnr/memdev-go/internal/telemetry/logger"
)

// Verify validates the configuration and returns every problem found.
func Verify(cfg *ServerConfig) error {
	return errors.Join(
		verifyDevice(&cfg.Device),
		verifyServer(&cfg.Server),
		verifyLog(&cfg.Log),
	)
}

func verifyDevice(cfg *DeviceSection) error {
	var errs []error
	if cfg.Count < 1 {
		errs = append(errs, fmt.Errorf("device.count must be at least 1, got %d", cfg.Count))
	}
	if cfg.PageBytes < 1 {
		errs = append(errs, fmt.Errorf("device.page_bytes must be positive, got %d", cfg.PageBytes))
	}
	if cfg.SizeBytes < 1 {
		errs = append(errs, fmt.Errorf("device.size_bytes must be positive, got %d", cfg.SizeBytes))
	}
	if cfg.MaxBytes < 1 {
		errs = append(errs, fmt.Errorf("device.max_bytes must be positive, got %d", cfg.MaxBytes))
	}
	if cfg.MaxBytes > 0 && cfg.MaxBytes < cfg.SizeBytes {
		errs = append(errs, fmt.Errorf("device.max_bytes %d is below device.size_bytes %d", cfg.MaxBytes, cfg.SizeBytes))
	}
	if cfg.MaxIOBytes < 0 {
		errs = append(errs, fmt.Errorf("device.max_io_bytes must not be negative, got %d", cfg.MaxIOBytes))
	}
	return errors.Join(errs...)
}

func verifyServer(cfg *ServerSection) error {
	var errs []error
	if cfg.HTTP.Enabled {
		if err := verifyAddr("server.http.addr", cfg.HTTP.Addr); err != nil {
			errs = append(errs, err)
		}
	}
	if cfg.RESP.Enabled {
		if err := verifyAddr("server.resp.addr", cfg.RESP.Addr); err != nil {
			errs = append(errs, err)
		}
		if cfg.RESP.RateLimit < 0 {
			errs = append(errs, fmt.Errorf("server.resp.rate_limit must not be negative"))
		}
		if cfg.RESP.RateLimit > 0 && cfg.RESP.RateBurst < 1 {
			errs = append(errs, fmt.Errorf("server.resp.rate_burst must be at least 1 when rate limiting"))
		}
	}
	if cfg.Local.Enabled && cfg.Local.Path == "" {
		errs = append(errs, errors.New("server.local.path is required when the local socket is enabled"))
	}
	if cfg.HTTP.Enabled && cfg.RESP.Enabled && cfg.HTTP.Addr == cfg.RESP.Addr {
		errs = append(errs, fmt.Errorf("server.http.addr and server.resp.addr are both %s", cfg.HTTP.Addr))
	}
	return errors.Join(errs...)
}

func verifyAddr(key, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", key)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q: %w", key, addr, err)
	}
	return nil
}

func verifyLog(cfg *LogSection) error {
	var errs []error
	if !logger.ValidLevel(cfg.Level) {
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", cfg.Level))
	}
	switch strings.ToLower(cfg.Format) {
	case "json", "text", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not json or text", cfg.Format))
	}
	return errors.Join(errs...)
}
