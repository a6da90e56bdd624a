package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/SheetWithoutShit/sws-collector/config"
	"github.com/SheetWithoutShit/sws-collector/internal/cache"
	"github.com/SheetWithoutShit/sws-collector/internal/handlers"
	"github.com/SheetWithoutShit/sws-collector/internal/limits"
	"github.com/SheetWithoutShit/sws-collector/internal/logger"
	"github.com/SheetWithoutShit/sws-collector/internal/mcc"
	"github.com/SheetWithoutShit/sws-collector/internal/notify"
	"github.com/SheetWithoutShit/sws-collector/internal/queue"
	"github.com/SheetWithoutShit/sws-collector/internal/realtime"
	"github.com/SheetWithoutShit/sws-collector/internal/routes"
	"github.com/SheetWithoutShit/sws-collector/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	log := logger.New()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := config.ConnectDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}

	var cacheClient cache.Cache
	redisCache, err := cache.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Warn().Err(err).Msg("redis is unavailable, falling back to in-process cache")
		cacheClient = cache.NewMemory()
	} else {
		defer redisCache.Close()
		cacheClient = redisCache
	}

	var publisher queue.Publisher
	if cfg.QueueURL != "" {
		publisher, err = queue.NewSQSPublisher(ctx, cfg.QueueURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sqs publisher")
		}
	} else {
		log.Warn().Msg("SQS_NOTIFICATIONS_QUEUE_URL is not set, notifications stay in process")
		publisher = queue.NewMemory(cfg.DispatcherBuffer)
	}

	store := storage.New(db)
	validator := mcc.NewValidator(cacheClient, store, log)
	evaluator := limits.NewEvaluator(store, log)

	if err := validator.Refresh(ctx); err != nil {
		log.Warn().Err(err).Msg("mcc codes cache warm-up failed")
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc("@hourly", func() {
		if err := validator.Refresh(context.Background()); err != nil {
			log.Warn().Err(err).Msg("mcc codes cache refresh failed")
		}
	}); err != nil {
		log.Fatal().Err(err).Msg("failed to schedule mcc cache refresh")
	}
	scheduler.Start()

	hub := realtime.NewHub([]byte(cfg.JWTSecret), log)
	go hub.Run()

	dispatcher := notify.NewDispatcher(
		store, validator, evaluator, hub, publisher,
		cfg.DispatcherWorkers, cfg.DispatcherBuffer, log,
	)

	collector := handlers.NewCollector(
		[]byte(cfg.WebhookSecret), store, validator, dispatcher, hub, log,
	)

	router := gin.Default()
	routes.Setup(router, collector)

	server := &http.Server{Addr: cfg.Addr, Handler: router}
	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("collector is listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	scheduler.Stop()
	dispatcher.Close()
	if err := publisher.Close(); err != nil {
		log.Error().Err(err).Msg("publisher close failed")
	}
}
