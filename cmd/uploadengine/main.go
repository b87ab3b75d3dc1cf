package main

import (
	"context"
	"os"
	"os/signal"

	"uploadengine/internal/config"
	"uploadengine/internal/engine"
	"uploadengine/internal/httpapi"
	"uploadengine/internal/logging"
)

func main() {
	logger := logging.New(logging.ModeDevelopment)
	defer logger.Sync()

	cfg := config.FromFlags()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	eng, err := engine.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("build engine: %v", err)
	}
	defer eng.Close()

	logger.Infow("uploadengine starting", "db", cfg.DBPath, "workers", cfg.WorkerConcurrency, "http_addr", cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- eng.Start(ctx)
	}()

	router := httpapi.New(eng, logger)
	srv := &httpServer{addr: cfg.HTTPAddr, handler: router, logger: logger}
	go srv.runUntil(ctx)

	if err := <-errCh; err != nil {
		logger.Fatalf("engine stopped with error: %v", err)
	}
	logger.Info("uploadengine shut down cleanly")
}
