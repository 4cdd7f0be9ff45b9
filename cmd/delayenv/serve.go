package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/cartridge/delayenv/internal/health"
	httpServer "github.com/cartridge/delayenv/internal/http"
	"github.com/cartridge/delayenv/internal/metrics"
	"github.com/cartridge/delayenv/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve delayed environment sessions over HTTP and websockets",
	RunE:  runServer,
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	publisher, closePublisher, err := newPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closePublisher()

	collector := metrics.NewCollector(logger)
	sessions := service.NewManager(cfg.MaxSessions, publisher, collector, &logger)
	h := httpServer.NewServer(sessions, collector, &logger)
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	monitor := health.NewMonitor(sessions, health.Config{
		CheckInterval: cfg.SweepInterval,
		IdleTimeout:   cfg.SessionIdleTimeout,
	}, logger)
	go monitor.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("delayenv HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
			return err
		}
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	<-errCh
	logger.Info().Msg("delayenv server stopped")
	return nil
}
