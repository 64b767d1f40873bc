package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"campusmarket/internal/config"
	"campusmarket/internal/db"
	"campusmarket/internal/logging"
	"campusmarket/internal/notify"
	"campusmarket/internal/payments"
	"campusmarket/internal/pricing"
	"campusmarket/internal/store"
	"campusmarket/internal/worker"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := logging.New(cfg.Server.Env)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	// The worker has no websocket clients; notifications are stored and
	// delivered when users next fetch them.
	notifier := &notify.Service{Log: logger.Named("notify")}
	if cfg.Mongo.URI != "" {
		client, err := notify.Connect(ctx, cfg.Mongo.URI)
		if err != nil {
			logger.Fatal("mongo connect failed", zap.Error(err))
		}
		defer client.Disconnect(context.Background())
		notifier.Store = notify.NewMongoStore(client.Database(cfg.Mongo.Database))
	}

	w := &worker.Worker{
		Store:       store.New(pool),
		Payouter:    payments.SimulatedPayouter{Log: logger.Named("payout")},
		Pricing:     pricing.Service{FeePercent: cfg.FeePercent()},
		Notifier:    notifier,
		Log:         logger.Named("worker"),
		Interval:    cfg.WorkerInterval(),
		BatchSize:   cfg.Worker.BatchSize,
		MaxAttempts: cfg.Payout.MaxAttempts,
	}

	logger.Info("worker started",
		zap.Duration("interval", cfg.WorkerInterval()),
		zap.Int("batchSize", cfg.Worker.BatchSize))
	w.Run(ctx)
	logger.Info("worker stopped")
}
