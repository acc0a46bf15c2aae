package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/rexbrahh/irma-engine/logging"
	"github.com/rexbrahh/irma-engine/sinks/parquet"
)

func main() {
	logger, err := logging.New(os.Getenv("IRMA_LOG_LEVEL"), os.Getenv("IRMA_LOG_DEVELOPMENT") == "true")
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck
	logger = logger.Named("sink-parquet")

	cfg, err := parquet.ServiceConfigFromEnv()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	svc, err := parquet.NewService(ctx, cfg, parquet.WithLogger(logger))
	if err != nil {
		logger.Fatal("init service", zap.Error(err))
	}

	logger.Info("consuming engine events", zap.String("subject", cfg.Subject()), zap.String("bucket", cfg.Writer.Bucket))
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("service run failed", zap.Error(err))
	}
}
