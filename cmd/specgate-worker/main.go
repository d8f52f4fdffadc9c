// Package main implements a demo backend worker answering the operations
// the gateway forwards over NATS.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/c360/specgate/config"
	"github.com/c360/specgate/natsclient"
	"github.com/c360/specgate/pkg/retry"
	"github.com/c360/specgate/rpc"
)

func main() {
	configPath := flag.String("config", "configs/specgate.yaml", "Configuration file path")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	level := slog.LevelInfo
	_ = level.UnmarshalText([]byte(*logLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
		With("service", "specgate-worker", "pid", os.Getpid())
	slog.SetDefault(logger)

	if err := run(*configPath, logger); err != nil {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, logger *slog.Logger) error {
	loader := config.NewLoader()
	loader.AddLayer(configPath)
	loader.EnableValidation(true)
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	opts := []natsclient.ClientOption{
		natsclient.WithName(cfg.Instance() + "-worker"),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithReconnectWait(cfg.NATS.ReconnectWait),
		natsclient.WithTLS(cfg.Security.TLS.Client),
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
	if err := retry.Do(ctx, retry.Startup(), client.Connect); err != nil {
		return fmt.Errorf("connect to NATS: %w", err)
	}

	responder := rpc.NewResponder(client, cfg.RPC.Subject, logger)
	responder.SetQueue(cfg.RPC.Queue)
	register(responder)
	if err := responder.Start(ctx); err != nil {
		_ = client.Close(context.Background())
		return err
	}

	<-ctx.Done()
	logger.Info("Worker stopping")

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := responder.Stop(); err != nil {
		logger.Warn("Unsubscribe failed", "error", err)
	}
	return client.Close(shutdownCtx)
}
