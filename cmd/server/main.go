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

	"go.uber.org/zap"

	"github.com/curiouslearning/cl-dashboard/internal/app"
	"github.com/curiouslearning/cl-dashboard/internal/config"
	"github.com/curiouslearning/cl-dashboard/internal/utils"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("DASH_CONFIG"), "path to YAML config")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.IsDevelopment())
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("server exited", zap.Error(err))
		logger.Sync()
		stop()
		os.Exit(1)
	}
}

// run owns every handle it opens and closes them before returning.
func run(ctx context.Context, stop context.CancelFunc, cfg *config.Config, logger *zap.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("startup: %w", err)
	}
	defer a.Close()

	if cfg.Refresh.Enabled {
		c, err := a.ETL.Schedule(cfg.Refresh.Cron)
		if err != nil {
			return fmt.Errorf("refresh schedule %q: %w", cfg.Refresh.Cron, err)
		}
		c.Start()
		defer c.Stop()
	}

	// The API answers 503 until the first load lands.
	go func() {
		if _, err := a.ETL.Run(ctx, nil); err != nil {
			logger.Error("initial load failed", zap.Error(err))
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("addr", cfg.Server.Addr), zap.String("env", cfg.Server.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}
