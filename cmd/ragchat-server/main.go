package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ragchat/internal/bootstrap"
	"ragchat/internal/chat"
	"ragchat/internal/config"
	"ragchat/internal/observability"
	"ragchat/internal/server"
)

func main() {
	config.LoadEnv()

	var cfgPath, addr string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/ragchat/config.yaml if not provided)")
	flag.StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	flag.Parse()

	if err := run(cfgPath, addr); err != nil {
		fmt.Fprintln(os.Stderr, "ragchat-server:", err)
		os.Exit(1)
	}
}

func run(cfgPath, addr string) error {
	var cfg *config.AppConfig
	var err error
	if cfgPath == "" {
		cfg, _, err = config.LoadDefault()
	} else {
		cfg, err = config.Load(cfgPath)
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if addr == "" {
		addr = cfg.Server.Addr
	}

	apiKey, err := config.Credential(cfg)
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	factory := func(id string) chat.Builder {
		return bootstrap.NewBuilder(cfg, apiKey, bootstrap.Options{
			Namespace: id,
			Logger:    logger.With(zap.String("session", id)),
		})
	}
	srv := server.New(factory, server.WithLogger(logger))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return srv.Run(ctx, addr)
}
