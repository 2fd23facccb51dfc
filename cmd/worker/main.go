// Package main provides the entry point for the inference worker. The
// worker serves POST /run for the queue and owns the pipeline handle for
// its whole lifetime.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/wan-ti2v-api/internal/bootstrap"
	"github.com/maauso/wan-ti2v-api/internal/config"
	"github.com/maauso/wan-ti2v-api/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadWorker()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting inference worker",
		slog.Int("port", cfg.Port),
		slog.String("model_id", cfg.ModelID),
		slog.Int("default_num_frames", cfg.DefaultNumFrames),
		slog.Int("default_fps", cfg.DefaultFPS),
	)

	deps, err := bootstrap.NewWorkerDependencies(cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := deps.Pipeline.Ping(pingCtx); err != nil {
		// The model server may still be loading weights.
		logger.Warn("model server not ready yet", slog.String("error", err.Error()))
	}
	cancel()

	handlers := server.NewWorkerHandlers(deps.Handler, logger,
		server.WithPinger(deps.Pipeline, deps.Pipeline.ModelID()),
	)
	router := server.NewWorkerRouter(handlers, logger, server.DefaultConfig())

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 20 * time.Minute, // a run blocks for the whole generation
		IdleTimeout:  60 * time.Second,
	}

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	select {
	case sig := <-shutdownCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	// Let an in-flight generation finish.
	ctx, stop := context.WithTimeout(context.Background(), 15*time.Minute)
	defer stop()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("worker stopped gracefully")
	return nil
}
