// Package main provides the entry point for the autonomous trading
// system: market simulation, strategy ensemble, risk management, and
// execution behind an HTTP/WebSocket API.
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

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantrel/autotrader/internal/alert"
	"github.com/quantrel/autotrader/internal/api"
	"github.com/quantrel/autotrader/internal/config"
	"github.com/quantrel/autotrader/internal/controller"
	"github.com/quantrel/autotrader/internal/events"
	"github.com/quantrel/autotrader/internal/market"
	"github.com/quantrel/autotrader/internal/metrics"
	"github.com/quantrel/autotrader/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Config file path (optional)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	// .env is optional; real env vars win either way.
	_ = godotenv.Load()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	logger.Info("Starting autotrader",
		zap.String("mode", string(cfg.Mode)),
		zap.Strings("symbols", cfg.Symbols),
		zap.String("initialCapital", cfg.InitialCapital.String()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Checkpoint store.
	var st store.Store
	switch cfg.Store.Backend {
	case "memory":
		st = store.NewMemoryStore()
	default:
		st, err = store.NewFileStore(logger, cfg.Store.DataDir)
		if err != nil {
			logger.Fatal("Failed to initialize store", zap.Error(err))
		}
	}
	defer st.Close()

	bus := events.NewBus(logger, events.DefaultBusConfig())
	defer bus.Close()

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	provider := market.NewSimulator(logger, market.DefaultSimulatorConfig(cfg.Symbols))

	ctrl := controller.New(logger, cfg, controller.Options{
		Provider: provider,
		Store:    st,
		Alerts:   alert.Multi{alert.NewLogSink(logger)},
		Bus:      bus,
		Metrics:  m,
	})

	var server *api.Server
	if cfg.Server.Enabled {
		server = api.NewServer(logger, cfg.Server, ctrl, bus, registry)
		go func() {
			if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("API server error", zap.Error(err))
			}
		}()
		logger.Info("API server listening",
			zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", cfg.Server.Host, cfg.Server.Port)),
			zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", cfg.Server.Host, cfg.Server.Port)),
		)
	}

	runErr := make(chan error, 1)
	go func() {
		runErr <- ctrl.Run(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-runErr:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Trading loop exited", zap.Error(err))
		}
	}

	cancel()
	ctrl.Stop(context.Background())

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Stop(shutdownCtx); err != nil {
			logger.Error("Error during server shutdown", zap.Error(err))
		}
	}

	logger.Info("Stopped")
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}
