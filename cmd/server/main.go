// Package main is the entry point for the vidshare server.
//
// MAIN PACKAGE IN GO:
// main() is kept minimal. Its job is to:
// 1. Read configuration (environment variables, see internal/config)
// 2. Create the logger
// 3. Build and start the server
//
// All actual logic lives in imported packages (internal/server, internal/service, etc.).
package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/sakif/vidshare/internal/config"
	"github.com/sakif/vidshare/internal/server"
)

func main() {
	// === 1. BOOTSTRAP LOGGER ===
	// Used only until the configuration (and with it LOG_LEVEL and
	// LOG_FORMAT) is known.
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	// === 2. READ CONFIGURATION ===
	cfg, err := config.Load(logger)
	if err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// === 3. SET UP LOGGING ===
	// Text is easier to read in a terminal; JSON is easier to ship to a
	// log aggregator.
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if strings.EqualFold(cfg.LogFormat, "json") {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
	} else {
		logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(logger)

	// === 4. CREATE AND START THE SERVER ===
	srv, err := server.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start() blocks until the server is shut down (via Ctrl+C or SIGTERM)
	if err := srv.Start(); err != nil {
		logger.Error("server error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
