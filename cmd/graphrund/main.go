// Command graphrund runs the graph run server as a standalone daemon: it
// loads config.yaml, wires the store, bus, executor, scheduler, and gateway,
// serves HTTP until a shutdown signal arrives, and flushes state before
// exiting. Bootstrap follows the reference pack's listener-bind, serve-in-
// goroutine, select-on-signal-or-serve-error idiom.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/graphrun/internal/audit"
	"github.com/basket/graphrun/internal/bus"
	"github.com/basket/graphrun/internal/checkpoint"
	"github.com/basket/graphrun/internal/config"
	"github.com/basket/graphrun/internal/executor"
	"github.com/basket/graphrun/internal/gateway"
	"github.com/basket/graphrun/internal/graphs"
	"github.com/basket/graphrun/internal/graphs/echo"
	"github.com/basket/graphrun/internal/policy"
	"github.com/basket/graphrun/internal/scheduler"
	"github.com/basket/graphrun/internal/store"
	"github.com/basket/graphrun/internal/telemetry"
	"github.com/basket/graphrun/internal/waiter"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "bind_addr", cfg.BindAddr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(cfg.Persistence.Path,
		store.WithFlushInterval(cfg.FlushInterval()),
		store.WithFatalThreshold(cfg.Persistence.FatalThreshold),
		store.WithLogger(logger),
		store.WithOnFatal(func(err error) {
			fatalStartup(logger, "E_PERSISTENCE_FATAL", err)
		}),
	)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	st.Start(ctx)
	defer func() {
		if err := st.Stop(); err != nil {
			logger.Error("final flush failed", "error", err)
		}
	}()
	logger.Info("startup phase", "phase", "store_opened", "path", cfg.Persistence.Path)

	eventBus := bus.New(logger)

	registry := graphs.NewRegistry()
	registry.Register("echo", echo.New)
	for _, g := range cfg.Graphs {
		if g.GraphID != "" && g.GraphID != "echo" {
			logger.Warn("config names a graph_id with no compiled factory, skipping", "graph_id", g.GraphID)
		}
	}

	checkpoints := checkpoint.NewProxy(checkpoint.NewMemStore())
	pol := policy.NewApplier(st, eventBus)
	w := waiter.New(eventBus, st)

	var auditLog *audit.Log
	if cfg.Audit.Enabled {
		auditLog, err = audit.Open(cfg.Audit.Path)
		if err != nil {
			fatalStartup(logger, "E_AUDIT_OPEN", err)
		}
		defer func() { _ = auditLog.Close() }()
	}

	provider, err := telemetry.Init(ctx, cfg.Telemetry, nil)
	if err != nil {
		fatalStartup(logger, "E_TELEMETRY_INIT", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	exec := executor.New(st, eventBus, checkpoints, registry, logger, cfg.Retry.MaxAttempts, auditLog, provider.Metrics, provider)

	sched := scheduler.New(scheduler.Config{
		Store:          st,
		Bus:            eventBus,
		Executor:       exec,
		Logger:         logger,
		Metrics:        provider.Metrics,
		DispatchSpec:   cfg.Scheduler.DispatchSpec,
		LeaseSweepSpec: cfg.Scheduler.LeaseSweepSpec,
		LeaseGrace:     cfg.LeaseGrace(),
	})
	sched.Start(ctx)
	defer sched.Stop()
	logger.Info("startup phase", "phase", "scheduler_started")

	gw := gateway.New(gateway.Config{
		Store:       st,
		Bus:         eventBus,
		Waiter:      w,
		Policy:      pol,
		Graphs:      registry,
		Checkpoints: checkpoints,
		Telemetry:   provider,
		Logger:      logger,
		Auth:        cfg.Auth,
		CORS:        cfg.CORS,
	})

	var handler http.Handler = gw.Handler()
	handler = gateway.RequestSizeLimitMiddleware(cfg.RequestMaxBytes)(handler)

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: handler,
	}
	serverErr := make(chan error, 1)

	lc := &net.ListenConfig{
		Control: func(_, _ string, c syscall.RawConn) error {
			return c.Control(func(fd uintptr) {
				_ = syscall.SetsockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_REUSEADDR, 1)
			})
		},
	}
	ln, err := lc.Listen(ctx, "tcp", cfg.BindAddr)
	if err != nil {
		if isAddrInUse(err) {
			fatalStartup(logger, "E_LISTENER_BIND", fmt.Errorf("%w (is another instance already bound to %s?)", err, cfg.BindAddr))
		}
		fatalStartup(logger, "E_LISTENER_BIND", err)
	}
	logger.Info("startup phase", "phase", "listener_bound", "addr", cfg.BindAddr)

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	logger.Info("gateway listening", "addr", cfg.BindAddr)

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown did not complete in time", "error", err)
	}
	logger.Info("shutdown complete")
}

// newLogger builds the server's slog.Logger: JSON handler, level parsed
// from cfg.LogLevel with "info" as the fallback for an unrecognized value.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}

// fatalStartup logs (or, if logger is nil, prints) a structured startup
// failure and exits non-zero. logger is nil only when the failure happened
// before the logger itself could be constructed.
func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", err)
	} else {
		fmt.Fprintf(os.Stderr, `{"level":"ERROR","msg":"startup failure","reason_code":%q,"error":%q}`+"\n", reasonCode, err.Error())
	}
	os.Exit(1)
}

func isAddrInUse(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) {
			return sysErr.Err == syscall.EADDRINUSE
		}
	}
	return strings.Contains(err.Error(), "address already in use")
}
