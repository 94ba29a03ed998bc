package main

import (
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/wudi/cachelayer/internal/config"
	"github.com/wudi/cachelayer/internal/logging"
	"github.com/wudi/cachelayer/internal/server"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/cachelayer.yaml", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	validateOnly := flag.Bool("validate", false, "Validate configuration and exit")
	watch := flag.Bool("watch", true, "Reload rate limits and logging when the config file changes")
	flag.Parse()

	if *showVersion {
		fmt.Printf("cachelayer %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	loader := config.NewLoader()
	cfg, err := loader.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *validateOnly {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	logger, err := logging.NewWithOptions(cfg.Logging.LoggerOptions())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)
	defer logging.Sync()

	logging.Info("Starting cachelayer",
		zap.String("version", version),
		zap.String("config", *configPath),
		zap.Int("max_size", cfg.Cache.MaxSize),
		zap.Duration("ttl", cfg.Cache.TTL),
		zap.String("durable", cfg.Cache.Durable.Backend),
		zap.String("rate_limit_mode", cfg.RateLimit.Mode),
	)

	watchPath := ""
	if *watch {
		watchPath = *configPath
	}
	srv, err := server.NewServer(cfg, watchPath)
	if err != nil {
		logging.Error("Failed to create server", zap.Error(err))
		os.Exit(1)
	}

	if err := srv.Run(); err != nil {
		logging.Error("Server error", zap.Error(err))
		os.Exit(1)
	}
}
