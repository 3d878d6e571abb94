package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"kiosk/internal/cloudinary"
	"kiosk/internal/config"
	"kiosk/internal/directory"
	"kiosk/internal/logger"
	"kiosk/internal/photosync"
	"kiosk/internal/queue"
	"kiosk/internal/store"
)

// Worker mirrors uploaded profile pictures to Cloudinary and clears
// attendance flags left over from previous days.
func main() {
	cfg := config.Load()
	logger.Init(cfg.Production(), cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := directory.OpenStore(ctx, directory.OpenOptions{
		URL:             cfg.DatabaseURL,
		MongoDatabase:   cfg.MongoDatabase,
		MongoCollection: cfg.MongoCollection,
		Location:        cfg.Location(),
		MaxRetries:      cfg.StoreMaxRetries,
		RetryDelay:      cfg.StoreRetryDelay,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("store connect failed")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = st.Close(closeCtx)
	}()

	dir := directory.New(st, directory.WithLocation(cfg.Location()))
	go dir.RunSweeper(ctx, cfg.SweepInterval)

	if cfg.QueueBackend != "redis" || !cfg.CloudinaryEnabled() {
		log.Info().
			Str("queue_backend", cfg.QueueBackend).
			Bool("cloudinary", cfg.CloudinaryEnabled()).
			Msg("photo mirroring disabled, running attendance sweeps only")
		<-ctx.Done()
		log.Info().Msg("worker stopped")
		return
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()
	if !redisClient.Healthy(ctx) {
		log.Warn().Str("addr", cfg.RedisAddr).Msg("redis not reachable yet, consumer will keep retrying")
	}

	q := queue.NewRedisQueue(redisClient.Client, "")
	cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	if err := photosync.New(dir, cdn).Run(ctx, q); err != nil {
		log.Error().Err(err).Msg("queue consume failed")
	}
	log.Info().Msg("worker stopped")
}
