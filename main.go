package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	clts "whalewatch/clients"
	"whalewatch/config"
	"whalewatch/internal/app"
	"whalewatch/internal/metrics"
	"whalewatch/internal/store"
)

const (
	// storeOpenTimeout bounds connecting to and migrating the store
	storeOpenTimeout = 30 * time.Second
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if !cfg.IsProd {
		zc = zap.NewDevelopmentConfig()
	}
	if level, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	return zc.Build()
}

func main() {
	// Load config from environment variables and the optional YAML overlay
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if err := cfg.Validate().Err(); err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}
	logger.Info("starting whale watcher", zap.Bool("isProd", cfg.IsProd))

	m := metrics.New()

	openCtx, openCancel := context.WithTimeout(context.Background(), storeOpenTimeout)
	st, err := store.Open(openCtx, logger, cfg.Store)
	openCancel()
	if err != nil {
		logger.Fatal("failed to initialize store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer st.Close()

	logger.Info("instantiating clients")
	clients := clts.NewClients(logger, cfg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	runner := app.NewRunner(cfg, clients, st, m)
	if err := runner.Run(ctx); err != nil {
		logger.Error("runner failed", zap.Error(err))
	}
}
