package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"kiosk/internal/cloudinary"
	"kiosk/internal/config"
	"kiosk/internal/directory"
	"kiosk/internal/handler"
	"kiosk/internal/httpmiddleware"
	"kiosk/internal/logger"
	"kiosk/internal/photosync"
	"kiosk/internal/queue"
	"kiosk/internal/store"
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.Production(), cfg.LogLevel)

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App) error {
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
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			log.Warn().Err(err).Msg("store close failed")
		}
	}()

	dir := directory.New(st, directory.WithLocation(cfg.Location()))

	opts := handler.Options{
		Limiter:             httpmiddleware.NewTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin),
		MaxUploadBytes:      cfg.MaxUploadBytes,
		ProfilePicMaxDim:    cfg.ProfilePicMaxDim,
		ProfilePicMaxPixels: cfg.ProfilePicMaxPixels,
	}

	var redisClient *store.Redis
	if cfg.QueueBackend == "redis" || cfg.RateLimitBackend == "redis" {
		redisClient = store.NewRedis(cfg.RedisAddr)
		defer redisClient.Close()
		opts.Redis = redisClient
	}
	if cfg.RateLimitBackend == "redis" {
		opts.Limiter = httpmiddleware.NewRedisWindow(redisClient.Client, cfg.RateLimitPerMin)
	}

	switch {
	case !cfg.CloudinaryEnabled():
		log.Info().Msg("cloudinary not configured, profile pictures are kept in the store only")
	case cfg.QueueBackend == "redis":
		opts.Queue = queue.NewRedisQueue(redisClient.Client, "")
	default:
		mem := queue.NewInMemory(64)
		opts.Queue = mem
		cdn := cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
		go func() { _ = photosync.New(dir, cdn).Run(ctx, mem) }()
	}

	// Without a separate worker the API owns the daily flag reset.
	if cfg.QueueBackend != "redis" {
		go dir.RunSweeper(ctx, cfg.SweepInterval)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      handler.New(dir, opts).Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("env", cfg.Env).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}
