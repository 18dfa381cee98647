package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"ragchat/internal/bootstrap"
	"ragchat/internal/chat"
	"ragchat/internal/config"
	"ragchat/internal/observability"
	"ragchat/internal/tui"
)

func main() {
	config.LoadEnv()

	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file (optional; uses ./config.yaml or ~/.config/ragchat/config.yaml if not provided)")
	flag.Parse()

	if err := run(cfgPath); err != nil {
		fmt.Fprintln(os.Stderr, "ragchat:", err)
		os.Exit(1)
	}
}

func run(cfgPath string) error {
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

	// No UI without a credential.
	apiKey, err := config.Credential(cfg)
	if err != nil {
		return err
	}

	// The terminal belongs to the UI; logs go to a file.
	logFile := cfg.Log.File
	if logFile == "" {
		logFile = "ragchat.log"
	}
	logger, err := observability.NewLogger(cfg.Log.Level, logFile)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()
	session := chat.NewSession(
		bootstrap.NewBuilder(cfg, apiKey, bootstrap.Options{Logger: logger}),
		chat.WithLogger(logger),
	)
	logger.Info("starting chat", zap.String("source", config.DefaultSourceURL))

	m := tui.New(ctx, session, config.DefaultSourceURL)
	if _, err := tea.NewProgram(m, tea.WithAltScreen()).Run(); err != nil {
		return err
	}
	return nil
}
