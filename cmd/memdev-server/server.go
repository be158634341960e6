package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/yndnr/memdev-go/internal/core/domain"
	"github.com/yndnr/memdev-go/internal/core/service"
	"github.com/yndnr/memdev-go/internal/infra/buildinfo"
	"github.com/yndnr/memdev-go/internal/infra/confloader"
	"github.com/yndnr/memdev-go/internal/infra/shutdown"
	"github.com/yndnr/memdev-go/internal/server/config"
	"github.com/yndnr/memdev-go/internal/server/httpserver"
	"github.com/yndnr/memdev-go/internal/server/localserver"
	"github.com/yndnr/memdev-go/internal/server/respserver"
	"github.com/yndnr/memdev-go/internal/storage/memory"
	"github.com/yndnr/memdev-go/internal/telemetry/logger"
	"github.com/yndnr/memdev-go/internal/telemetry/metric"
)

const shutdownTimeout = 30 * time.Second

// errShutdownRequested is the cancel cause when SHUTDOWN arrives on the
// local socket.
var errShutdownRequested = errors.New("shutdown requested over local socket")

// loadConfig loads defaults, the optional file and MEMDEV_* variables, then
// validates the result.
func loadConfig(configFile string) (*config.ServerConfig, error) {
	cfg := &config.ServerConfig{}
	loader := confloader.NewLoader(
		confloader.WithDefaults(config.DefaultMap()),
		confloader.WithConfigFile(configFile),
	)
	if err := loader.Load(cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.Verify(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(ctx context.Context, configFile string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(configFile)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)

	info := buildinfo.Get()
	log.Info("starting memdev-server",
		"version", info.Version,
		"commit", info.Commit,
		"config", configFile)

	metrics := metric.NewRegistry()
	table, nodes, err := initTable(cfg, metrics, log)
	if err != nil {
		return err
	}

	svc := service.NewDeviceService(table, nodes,
		service.WithMetrics(metrics),
		service.WithLogger(log),
		service.WithMaxIOSize(cfg.Device.MaxIOBytes))
	if err := metrics.Register(metric.NewDeviceCollector(svc)); err != nil {
		table.Close()
		return fmt.Errorf("register device collector: %w", err)
	}

	// Hooks run newest first: readiness, servers, handles, then the table.
	sh := shutdown.NewHandler(shutdownTimeout, log)
	sh.OnShutdown("device table", func(context.Context) error {
		table.Close()
		return nil
	})
	sh.OnShutdown("open handles", func(context.Context) error {
		if n := svc.CloseAll(); n > 0 {
			log.Info("closed remaining handles", "count", n)
		}
		return nil
	})

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	g, gctx := errgroup.WithContext(ctx)

	// /ready reports false until every listener is up and again once
	// shutdown starts.
	var ready atomic.Bool
	if err := startServers(cfg, svc, metrics, log, sh, g, ready.Load, cancel); err != nil {
		_ = sh.Shutdown()
		_ = g.Wait()
		return err
	}
	ready.Store(true)
	sh.OnShutdown("readiness", func(context.Context) error {
		ready.Store(false)
		return nil
	})

	if configFile != "" {
		w, err := watchConfig(configFile, log)
		if err != nil {
			log.Warn("config watcher disabled", "error", err)
		} else {
			sh.OnShutdown("config watcher", func(context.Context) error { return w.Stop() })
		}
	}

	log.Info("server started")
	shutdownErr := sh.Wait(gctx)
	serveErr := g.Wait()
	if cause := context.Cause(gctx); cause != nil && !errors.Is(cause, errShutdownRequested) && !errors.Is(cause, context.Canceled) {
		log.Error("server failed", "error", cause)
	}
	if err := errors.Join(serveErr, shutdownErr); err != nil {
		return err
	}
	log.Info("server stopped gracefully")
	return nil
}

// initTable builds the device table. A setup failure is counted by phase.
func initTable(cfg *config.ServerConfig, metrics *metric.Registry, log *slog.Logger) (*memory.Table, *memory.NodeRegistry, error) {
	nodes := memory.NewNodeRegistry()
	table, err := memory.NewTable(cfg.Device.TableConfig(),
		memory.WithAllocator(cfg.Device.Allocator()),
		memory.WithRegistrar(nodes),
		memory.WithLogger(log),
		memory.WithGrowHook(service.GrowHook(metrics, log)))
	if err != nil {
		var ie *domain.InitError
		if errors.As(err, &ie) {
			metrics.RecordInitFailure(string(ie.Phase))
		}
		return nil, nil, fmt.Errorf("init devices: %w", err)
	}
	return table, nodes, nil
}

// startServers binds and serves each enabled server. A bind failure aborts
// startup; servers already started are stopped by the caller's hooks.
func startServers(cfg *config.ServerConfig, svc *service.DeviceService, metrics *metric.Registry,
	log *slog.Logger, sh *shutdown.Handler, g *errgroup.Group, ready func() bool, cancel context.CancelCauseFunc) error {
	// Serve contexts are never cancelled; the shutdown hooks stop the
	// servers so that draining is bounded by the shutdown timeout.
	serveCtx := context.Background()

	if rc := cfg.Server.RESP; rc.Enabled {
		rcfg := respserver.DefaultConfig()
		rcfg.Address = rc.Addr
		rcfg.RateLimit = rc.RateLimit
		rcfg.RateBurst = rc.RateBurst
		rcfg.MaxConnections = rc.MaxConnections
		rcfg.IdleTimeout = rc.IdleTimeout

		cmds := respserver.NewCommandHandler(svc, log, respserver.WithMetrics(metrics))
		rs := respserver.New(rcfg, cmds, log, respserver.WithOnClose(cmds.Release))
		if err := rs.Listen(); err != nil {
			return fmt.Errorf("resp server: %w", err)
		}
		sh.OnShutdown("resp server", rs.Shutdown)
		g.Go(func() error { return rs.Serve(serveCtx) })
		log.Info("resp server ready", "addr", rs.Addr().String())
	}

	if lc := cfg.Server.Local; lc.Enabled {
		cmds := respserver.NewCommandHandler(svc, log,
			respserver.WithMetrics(metrics),
			respserver.WithProtocol(localserver.ProtocolLocal))
		h := localserver.NewHandler(cmds, svc, func() { cancel(errShutdownRequested) })
		ls := localserver.New(lc.Path, h, log, respserver.WithOnClose(cmds.Release))
		if err := ls.Listen(); err != nil {
			return fmt.Errorf("local server: %w", err)
		}
		sh.OnShutdown("local server", ls.Shutdown)
		g.Go(func() error { return ls.ListenAndServe(serveCtx) })
	}

	if hc := cfg.Server.HTTP; hc.Enabled {
		router := httpserver.NewRouter(&httpserver.RouterConfig{
			Service: svc,
			Metrics: metrics,
			Ready:   ready,
			Logger:  log,
		})
		hs := httpserver.New(hc.Addr, router, log)
		if err := hs.Listen(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		sh.OnShutdown("http server", hs.Shutdown)
		g.Go(hs.ListenAndServe)
	}
	return nil
}

// watchConfig re-applies log.level whenever the config file changes.
// Other settings need a restart.
func watchConfig(path string, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		_ = w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		cfg, err := loadConfig(path)
		if err != nil {
			log.Warn("config reload rejected", "error", err)
			return
		}
		if old := logger.GetLevel(); !strings.EqualFold(old, cfg.Log.Level) {
			logger.SetLevel(cfg.Log.Level)
			log.Info("log level changed", "from", old, "to", cfg.Log.Level)
		}
	})
	w.StartAsync()
	return w, nil
}
