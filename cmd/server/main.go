package main

import (
	"context"
	"net/http"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tschew72/gameblitz-sub001/internal/config"
	"github.com/tschew72/gameblitz-sub001/internal/httpapi"
	"github.com/tschew72/gameblitz-sub001/internal/hub"
	"github.com/tschew72/gameblitz-sub001/internal/pin"
	"github.com/tschew72/gameblitz-sub001/internal/store"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	var quizzes store.QuizStore
	var results store.ResultStore
	if cfg.DatabaseDSN != "" {
		pg, err := store.NewPostgresStore(cfg.DatabaseDSN)
		if err != nil {
			logger.Fatal("failed to open postgres", zap.Error(err))
		}
		quizzes = pg
		results = pg
	} else {
		logger.Warn("DATABASE_DSN not set, running without quiz/result persistence")
	}

	var pins pin.Registry
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pins = store.NewRedisPins(client, cfg.PinTTL)
	} else {
		logger.Warn("REDIS_ADDR not set, pin uniqueness is process-local")
		pins = store.NewMemoryPins()
	}

	ctx := context.Background()
	h := hub.NewHub(ctx, hub.Deps{
		Logger:      logger,
		Results:     results,
		Pins:        pins,
		IdleTimeout: cfg.IdleTimeout,
	})

	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:     h,
		Quizzes: quizzes,
		Pins:    pins,
		Cfg:     cfg,
		Logger:  logger,
	})

	logger.Info("listening", zap.String("addr", cfg.Addr))
	if err := http.ListenAndServe(cfg.Addr, handler); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
