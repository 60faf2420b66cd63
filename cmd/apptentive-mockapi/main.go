// Package main runs the fake backend API used for local development and
// end-to-end runs of apptentivectl.
//
// It is the composition root for the mock server: configuration, logging,
// the API listener, the admin server and graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rafaeljc/apptentivekit/internal/config"
	"github.com/rafaeljc/apptentivekit/internal/logger"
	"github.com/rafaeljc/apptentivekit/internal/mockapi"
	"github.com/rafaeljc/apptentivekit/internal/observability"
)

func main() {
	if err := run(); err != nil {
		log.Printf("Fatal error: %v", err)
		os.Exit(1)
	}
}

func run() error {
	// -------------------------------------------------------------------------
	// 1. Configuration
	// -------------------------------------------------------------------------
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	// -------------------------------------------------------------------------
	// 2. Logging
	// -------------------------------------------------------------------------
	lg := logger.New(&cfg.App)
	slog.SetDefault(lg)
	cfg.LogConfig(lg)

	// -------------------------------------------------------------------------
	// 3. Wiring
	// -------------------------------------------------------------------------
	mockCfg, err := mockapi.ConfigFrom(cfg.MockAPI)
	if err != nil {
		return err
	}
	mock := mockapi.New(logger.Component(lg, "mockapi"), mockCfg)

	var admin *observability.Server
	if cfg.Observability.Enabled {
		admin = observability.NewServer(logger.Component(lg, "observability"), &cfg.Observability)
		if err := admin.Start(); err != nil {
			return fmt.Errorf("start observability server: %w", err)
		}
	}

	// -------------------------------------------------------------------------
	// 4. HTTP Server
	// -------------------------------------------------------------------------
	srv := &http.Server{
		Addr:              cfg.MockAPI.Address(),
		Handler:           mock,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		lg.Info("mock api listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("failed to serve mock api: %w", err)
		}
	}()

	// -------------------------------------------------------------------------
	// 5. Graceful Shutdown
	// -------------------------------------------------------------------------
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		lg.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown mock api: %w", err)
	}
	if err := admin.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown observability server: %w", err)
	}

	lg.Info("mock api exited")
	return nil
}
