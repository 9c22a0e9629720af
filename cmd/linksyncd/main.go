// Package main is the entry point for the linksyncd relay daemon.
// linksyncd stores accounts and messages and fans new messages out to
// every connected device.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tOgg1/linksync/internal/config"
	"github.com/tOgg1/linksync/internal/linksyncd"
	"github.com/tOgg1/linksync/internal/logging"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	listen := flag.String("listen", "", "address to listen on (default from server.listen_addr)")
	dbPath := flag.String("db", "", "SQLite database path (default is <data_dir>/relay.db)")
	configFile := flag.String("config", "", "config file (default is $HOME/.config/linksync/config.yaml)")
	logLevel := flag.String("log-level", "", "override logging level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "override logging format (json, console)")
	flag.Parse()

	cfg, loader, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	logging.Init(logging.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		EnableCaller: cfg.Logging.EnableCaller,
	})
	logger := logging.Component("linksyncd")

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Warn().Err(err).Msg("failed to create directories")
	}

	if cfgUsed := loader.ConfigFileUsed(); cfgUsed != "" {
		logger.Debug().Str("config_file", cfgUsed).Msg("loaded config file")
	}

	logger.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Msg("linksyncd starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	daemon, err := linksyncd.New(ctx, cfg, logger, linksyncd.Options{
		ListenAddr:   *listen,
		DatabasePath: *dbPath,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to initialize linksyncd")
		os.Exit(1)
	}

	runErr := daemon.Run(ctx)
	if err := daemon.Close(); err != nil {
		logger.Warn().Err(err).Msg("failed to close database")
	}
	if runErr != nil {
		logger.Error().Err(runErr).Msg("linksyncd exited with error")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, *config.Loader, error) {
	loader := config.NewLoader()
	if path != "" {
		loader.SetConfigFile(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, loader, nil
}
