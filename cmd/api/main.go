package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardsight/cardsight/internal/app"
	"github.com/cardsight/cardsight/internal/config"
	"github.com/cardsight/cardsight/internal/observability"
	"github.com/cardsight/cardsight/internal/platform/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	}))
	appLogger := logging.NewJSON(cfg.LogLevel)
	logging.SetDefault(appLogger)
	defer func() { _ = appLogger.Sync() }()

	shutdownUptrace, err := observability.InitUptrace(cfg, logger)
	if err != nil {
		logger.Error("init uptrace", "error", err)
		os.Exit(1)
	}

	stopPyroscope, err := observability.InitPyroscope(cfg, logger)
	if err != nil {
		logger.Error("init pyroscope", "error", err)
		os.Exit(1)
	}

	pprofSrv, err := observability.StartPprofServer(cfg, logger)
	if err != nil {
		logger.Error("start pprof server", "error", err)
		os.Exit(1)
	}

	application, err := app.New(cfg, logger, appLogger)
	if err != nil {
		logger.Error("build app", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("http server starting", "addr", cfg.HTTPAddr)
		if err := application.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	if cfg.RefreshTickEnabled {
		go runRefreshTicker(ctx, application, cfg.RefreshTickInterval, logger)
	}
	if cfg.RefreshFullInterval > 0 {
		go runFullRefreshTicker(ctx, application, cfg.RefreshFullInterval, logger)
	}

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := application.Server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if err := observability.StopPprofServer(pprofSrv, logger, 5*time.Second); err != nil {
		logger.Error("stop pprof server", "error", err)
	}
	if err := stopPyroscope(); err != nil {
		logger.Error("stop pyroscope", "error", err)
	}
	if err := shutdownUptrace(shutdownCtx); err != nil {
		logger.Error("shutdown uptrace", "error", err)
	}
	if err := application.DB.Close(); err != nil {
		logger.Error("close database", "error", err)
	}

	logger.Info("http server stopped")
}

func runRefreshTicker(ctx context.Context, application *app.App, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("refresh ticker starting", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := application.Refresh.Tick(ctx)
			if err != nil {
				logger.Warn("refresh tick failed", "error", err)
				continue
			}
			if report.RefreshedCount > 0 || report.FailedCount > 0 {
				logger.Info("refresh tick completed",
					"aggregates", report.AggregateCount,
					"refreshed", report.RefreshedCount,
					"fresh", report.FreshCount,
					"skipped", report.SkippedCount,
					"failed", report.FailedCount,
				)
			}
		}
	}
}

func runFullRefreshTicker(ctx context.Context, application *app.App, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("full refresh ticker starting", "interval", interval.String())
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := application.Refresh.FullRefresh(ctx)
			if err != nil {
				logger.Warn("full refresh failed", "error", err)
				continue
			}
			logger.Info("full refresh completed",
				"aggregates", report.AggregateCount,
				"refreshed", report.RefreshedCount,
				"skipped", report.SkippedCount,
				"failed", report.FailedCount,
			)
		}
	}
}

func slogLevel(level logging.Level) slog.Level {
	switch level {
	case logging.LevelDebug:
		return slog.LevelDebug
	case logging.LevelWarn:
		return slog.LevelWarn
	case logging.LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
