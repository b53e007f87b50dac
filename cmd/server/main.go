package main

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"canvas-backend/internal/config"
	"canvas-backend/internal/database"
	"canvas-backend/internal/logging"
	"canvas-backend/internal/server"
)

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.Server.Env)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	db, err := database.ConnectDB()
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer database.Close()

	if err := database.Ping(); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("database connected")

	// Redis is optional: without it presence stays in-process.
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Warn("redis unreachable, presence limited to this server", zap.Error(err))
		rdb.Close()
		rdb = nil
	} else {
		logger.Info("redis connected", zap.String("addr", cfg.Redis.Addr))
		defer rdb.Close()
	}
	cancel()

	srv := server.New(cfg, db, rdb, logger)
	srv.SetupMiddleware()
	srv.SetupRoutes()

	if err := srv.Start(); err != nil {
		logger.Fatal("server failed to start", zap.Error(err))
	}
}
