package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/quantarena/arena/internal/app"
	"github.com/quantarena/arena/internal/config"
	"github.com/quantarena/arena/internal/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.json", "path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logCfg := logger.DefaultConfig()
	logCfg.LogFile = cfg.LogFile
	logCfg.Development = cfg.DebugLogging
	log, err := logger.New(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	appLog := log.WithComponent("main")
	appLog.Info("Starting arena", zap.String("listen_addr", cfg.ListenAddr))

	runner, err := app.NewRunner(cfg, log)
	if err != nil {
		appLog.Fatal("Failed to initialize", zap.Error(err))
	}

	if err := runner.Run(context.Background()); err != nil {
		appLog.Fatal("Arena terminated with error", zap.Error(err))
	}
}
