// Command pumpstream-ingest runs the real-time token-creation and trade
// ingestion pipeline: it wires config, logging, metrics, the Supervisor
// (the upstream WebSocket/store engine) and the read-only HTTP API
// together, then blocks until SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pumpstream/ingest/internal/config"
	"github.com/pumpstream/ingest/internal/httpapi"
	"github.com/pumpstream/ingest/internal/logging"
	"github.com/pumpstream/ingest/internal/metrics"
	"github.com/pumpstream/ingest/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pumpstream-ingest:", err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", "", "optional YAML config file overriding defaults")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel)
	mtr := metrics.New()

	sup, err := supervisor.New(cfg, logger, mtr, supervisor.GorillaDialer{})
	if err != nil {
		return fmt.Errorf("build supervisor: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpSrv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: httpapi.New(sup, sup.Registry()),
	}

	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", "addr", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErrCh <- err
			return
		}
		httpErrCh <- nil
	}()

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- sup.Run(ctx)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case runErr = <-runErrCh:
		if runErr != nil {
			logger.Error("supervisor exited", "error", runErr)
		}
		stop()
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("http api exited", "error", err)
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http api shutdown", "error", err)
	}

	if runErr == nil {
		select {
		case runErr = <-runErrCh:
		case <-time.After(10 * time.Second):
			logger.Warn("supervisor did not exit within shutdown grace period")
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("supervisor: %w", runErr)
	}
	return nil
}
