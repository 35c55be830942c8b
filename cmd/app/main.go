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

	"github.com/PhiFever/devanagari-ocr-server/internal/config"
	"github.com/PhiFever/devanagari-ocr-server/internal/logger"
	"github.com/PhiFever/devanagari-ocr-server/internal/monitor"
	"github.com/PhiFever/devanagari-ocr-server/internal/recognizer"
	"github.com/PhiFever/devanagari-ocr-server/internal/server"
	"github.com/PhiFever/devanagari-ocr-server/pkg/utils"
	"github.com/PhiFever/devanagari-ocr-server/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: $CONFIG_PATH or data/config.yaml)")
	flag.Parse()

	fmt.Printf("Starting %s...\n", version.GetFullName())

	// Load configuration
	cfg, err := config.Get(config.ResolvePath(*configPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := setupLogger(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to setup logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Infof("Application: %s", version.GetFullName())
	logger.Infof("Version: %s", version.Version)
	logger.Infof("Engine: %s, language: %s, tesseract compiled in: %v", cfg.OCR.Engine, cfg.OCR.Language, recognizer.OCRAvailable)

	tempDir, err := utils.GetTempDir(cfg.Server.TempDir)
	if err != nil {
		logger.Errorf("Failed to prepare temp dir: %v", err)
		os.Exit(1)
	}
	cfg.Server.TempDir = tempDir

	engine, err := recognizer.DefaultRegistry().Build(cfg)
	if err != nil {
		logger.Errorf("Failed to configure engine: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OCR.Preload {
		go func() {
			start := time.Now()
			if err := engine.Warmup(ctx); err != nil {
				logger.ErrorNoTracef("Preload failed, will retry on first request: %v", err)
				return
			}
			logger.Infof("Model loaded in %s", utils.GetReadableTimeDelta(time.Since(start)))
		}()
	} else {
		logger.Info("Model will be loaded on first request")
	}

	mon := monitor.NewMonitor(cfg.Monitor, engine)
	if cfg.Monitor.Interval > 0 {
		if err := mon.Start(ctx); err != nil {
			logger.Errorf("Failed to start monitor: %v", err)
			os.Exit(1)
		}
	}

	handler, err := server.NewHandler(engine, server.NewResultCache(cfg.Cache.TTL, cfg.Cache.CleanupInterval), cfg)
	if err != nil {
		logger.Errorf("Failed to create handler: %v", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.NewRouter(handler),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Listening on http://%s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Infof("Received signal: %v", sig)
	case err := <-errCh:
		if err != nil {
			logger.Errorf("Server failed: %v", err)
		}
	}

	logger.Info("Shutting down gracefully...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.ErrorNoTracef("Error shutting down server: %v", err)
	}

	if mon.IsRunning() {
		if err := mon.Stop(); err != nil {
			logger.ErrorNoTracef("Error stopping monitor: %v", err)
		}
	}

	if err := engine.Close(); err != nil {
		logger.ErrorNoTracef("Error closing engine: %v", err)
	}

	stats := engine.Stats()
	logger.Infof("Served %d recognition requests", stats.Requests)
	logger.Info("Application stopped")
}

func setupLogger(cfg config.LogConfig) error {
	level, err := logger.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	format, err := logger.ParseFormat(cfg.Format)
	if err != nil {
		return err
	}
	if cfg.File {
		_, err = logger.Setup(level, format)
		return err
	}
	logger.SetupWithWriters(level, format, os.Stdout)
	return nil
}
