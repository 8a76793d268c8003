package main

import (
	"context"
	"os"

	"github.com/wing199901/live-translated-captioning/internal/config"
	"github.com/wing199901/live-translated-captioning/internal/logging"
	"github.com/wing199901/live-translated-captioning/internal/version"
	"github.com/wing199901/live-translated-captioning/internal/worker"
)

func main() {
	// Initialize logging
	logging.Init()
	defer logging.Shutdown(context.Background())

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to load configuration: %v", err)
		os.Exit(1)
	}

	logging.Info(logging.CategoryApp, "starting live-translated-captioning version=%s", version.Version)

	// Create worker
	w, err := worker.NewWorker(cfg)
	if err != nil {
		logging.Fail(logging.CategoryApp, "failed to create worker: %v", err)
		os.Exit(1)
	}

	// Start worker (blocks until shutdown)
	if err := w.Start(); err != nil {
		logging.Fail(logging.CategoryApp, "worker failed: %v", err)
		os.Exit(1)
	}

	logging.Info(logging.CategoryApp, "worker shutdown complete")
}
