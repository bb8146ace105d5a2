// KrishiConnect - contract farming marketplace API
package main

import (
	"context"
	"os"

	"github.com/mbd888/krishiconnect/internal/config"
	"github.com/mbd888/krishiconnect/internal/logging"
	"github.com/mbd888/krishiconnect/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Bootstrap logger until the configured one exists
	logger := logging.New("info", "text")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, closer := logging.NewWithFile(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	defer func() { _ = closer.Close() }()

	logger.Info("starting krishiconnect",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
		"env", cfg.Env,
	)

	srv, err := server.New(cfg, server.WithLogger(logger), server.WithVersion(Version))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		_ = closer.Close()
		os.Exit(1)
	}
}
