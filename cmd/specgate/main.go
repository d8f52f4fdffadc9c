// Package main implements the specgate gateway. Requests matching an
// operation of the assembled Swagger document are forwarded to backend
// workers over NATS request/reply.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/c360/specgate/api"
	"github.com/c360/specgate/api/modules"
	"github.com/c360/specgate/config"
	"github.com/c360/specgate/health"
	"github.com/c360/specgate/logging"
	"github.com/c360/specgate/metric"
	"github.com/c360/specgate/natsclient"
	"github.com/c360/specgate/pkg/retry"
	"github.com/c360/specgate/rpc"
	"github.com/c360/specgate/server"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "specgate"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

// gateway holds what shutdown has to stop
type gateway struct {
	cfg     *config.Config
	logger  *slog.Logger
	nats    *natsclient.Client
	metrics *metric.Server
	srv     *server.Server
	caller  rpc.Caller
	apiLog  *logging.Logger
	control *control
	health  *health.Monitor
}

func run() error {
	cliCfg, logger, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPaths)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	g := &gateway{cfg: cfg, logger: logger, control: newControl(logger), health: health.NewMonitor(cfg.Instance())}
	if err := g.start(signalCtx); err != nil {
		_ = g.stop(context.Background(), "startup failure")
		return err
	}

	var msg string
	select {
	case <-signalCtx.Done():
		msg = "signal"
		logger.Info("Received shutdown signal")
	case msg = <-g.control.Done():
		logger.Info("Received shutdown message", "subject", cfg.NATS.ControlSubject)
	}

	timeout := cliCfg.ShutdownTimeout
	if timeout == 0 {
		timeout = cfg.HTTP.ShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := g.stop(shutdownCtx, msg); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("specgate shutdown complete")
	return nil
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, *slog.Logger, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting specgate",
		"version", Version,
		"build_time", BuildTime,
		"config_paths", cliCfg.ConfigPaths)

	return cliCfg, logger, false, nil
}

// loadConfig merges the configuration layers and validates the result
func loadConfig(paths []string) (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range paths {
		loader.AddLayer(p)
	}
	loader.EnableValidation(true)

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (g *gateway) start(ctx context.Context) error {
	cfg := g.cfg
	registry := metric.NewMetricsRegistry()

	if err := g.connectNATS(ctx, registry); err != nil {
		return err
	}

	g.caller = rpc.NewNATSCaller(g.nats,
		rpc.WithSubject(cfg.RPC.Subject),
		rpc.WithCallTimeout(cfg.RPC.Timeout),
		rpc.WithCallerLogger(g.logger),
		rpc.WithCallerMetrics(registry))

	if cfg.Metrics.Enabled {
		g.metrics = metric.NewServer(cfg.Metrics.Addr, cfg.Metrics.Path, registry, cfg.Security.TLS.Server)
		if err := g.metrics.Start(); err != nil {
			return fmt.Errorf("start metrics server: %w", err)
		}
		g.logger.Info("Metrics server started", "addr", g.metrics.Address(), "path", cfg.Metrics.Path)
	}

	g.srv = server.New(g.logger)
	g.srv.Mount("/version", server.Terminal(versionHandler(cfg)))
	g.srv.Mount("/health", server.Terminal(g.health.Handler()))

	if err := g.composeAPI(ctx, registry); err != nil {
		return err
	}

	if cfg.NATS.ControlSubject != "" {
		sub, err := g.nats.Subscribe(ctx, cfg.NATS.ControlSubject, g.control.handle)
		if err != nil {
			return fmt.Errorf("subscribe to control subject: %w", err)
		}
		g.control.attach(sub.Unsubscribe)
	}

	handle, err := g.srv.Start(ctx, server.Options{
		Host:              cfg.HTTP.Host,
		Port:              cfg.HTTP.Port,
		Secure:            cfg.Security.TLS.Server,
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("start server: %w", err)
	}

	g.logger.Info("specgate started", "url", handle.URL(), "instance", cfg.Instance())
	return nil
}

// connectNATS establishes the NATS connection and waits for it to be ready
func (g *gateway) connectNATS(ctx context.Context, registry *metric.MetricsRegistry) error {
	cfg := g.cfg
	g.health.Update("nats", health.NewUnhealthy("nats", "connecting"))
	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Instance()),
		natsclient.WithLogger(g.logger),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTLS(cfg.Security.TLS.Client),
		natsclient.WithMetrics(registry),
		natsclient.WithHealthChangeCallback(g.health.Tracker("nats")),
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.NATS.URLs, ","), opts...)
	if err != nil {
		return fmt.Errorf("create NATS client: %w", err)
	}
	g.nats = client

	slog.Info("Connecting to NATS")
	if err := retry.Do(ctx, retry.Startup(), client.Connect); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		return fmt.Errorf("NATS connection timeout: %w", err)
	}
	return nil
}

// composeAPI builds the API surface from the built-in modules
func (g *gateway) composeAPI(ctx context.Context, registry *metric.MetricsRegistry) error {
	cfg := g.cfg

	modulesRegistry := api.NewRegistry()
	if err := modules.Register(modulesRegistry); err != nil {
		return fmt.Errorf("register modules: %w", err)
	}
	if cfg.API.OAuth2 != nil {
		if err := modules.RegisterOAuth2(modulesRegistry); err != nil {
			return fmt.Errorf("register modules: %w", err)
		}
	}
	slog.Info("api modules registered", "modules", modulesRegistry.Names())

	a, err := api.New(g.srv, cfg.API.Namespace,
		api.WithRegistry(modulesRegistry),
		api.WithCaller(g.caller),
		api.WithMetrics(registry),
		api.WithLogger(g.logger))
	if err != nil {
		return fmt.Errorf("create api: %w", err)
	}

	res, err := a.Config(ctx, cfg.API.Config)
	if err != nil {
		return fmt.Errorf("configure api: %w", err)
	}
	g.apiLog = res.Logger

	piped := a.Pipe()
	if a.Namespaced() {
		g.srv.Mount(cfg.API.MountPath, a.Surface().Middleware())
	}
	g.logger.Info("api composed", "namespace", cfg.API.Namespace, "mount_path", cfg.API.MountPath, "modules", piped)
	return nil
}

// stop closes the listener, the backend caller, then confirms the stop
// through the api logger before closing it.
func (g *gateway) stop(ctx context.Context, msg string) error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if g.srv != nil {
		if err := g.srv.Close(ctx); err != nil && !server.IsNotRunning(err) {
			g.logger.Error("Error stopping server", "error", err)
			keep(err)
		}
	}

	if g.caller != nil {
		keep(g.caller.Close(ctx))
	} else if g.nats != nil {
		keep(g.nats.Close(ctx))
	}

	if g.metrics != nil {
		keep(g.metrics.Stop(ctx))
	}

	text := "servers stopped on message: " + msg
	if g.apiLog == nil {
		g.logger.Info(text)
		return firstErr
	}

	completion, err := g.apiLog.Confirm("info", text)
	if err != nil {
		keep(err)
	} else if err := completion.Wait(ctx); err != nil {
		keep(fmt.Errorf("confirm stop: %w", err))
	}
	keep(g.apiLog.Close(ctx))
	return firstErr
}

// versionHandler answers the configured application version
func versionHandler(cfg *config.Config) server.Handler {
	body := map[string]string{
		"name":    cfg.Service.Name,
		"version": cfg.Version,
		"build":   Version,
	}
	return server.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
		return server.WriteJSON(w, http.StatusOK, body)
	})
}
