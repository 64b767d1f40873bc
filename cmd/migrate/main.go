package main

import (
	"context"
	"log"

	"campusmarket/internal/config"
	"campusmarket/internal/db"
	"campusmarket/internal/logging"
	"campusmarket/migrations"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	logger := logging.New(cfg.Server.Env)
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
	if err != nil {
		logger.Fatal("db connect failed", zap.Error(err))
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, migrations.FS)
	for _, file := range applied {
		logger.Info("applied migration", zap.String("file", file))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.Error(err))
	}
	if len(applied) == 0 {
		logger.Info("schema up to date")
	}
}
