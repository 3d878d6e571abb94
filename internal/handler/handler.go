// Package handler exposes the kiosk directory over HTTP.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"kiosk/internal/apperr"
	"kiosk/internal/directory"
	"kiosk/internal/httpmiddleware"
	"kiosk/internal/metrics"
	"kiosk/internal/queue"
)

// HealthChecker reports whether an optional dependency is reachable.
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// Options configures a Handler. Zero values disable the optional parts.
type Options struct {
	// Queue receives profile_pic messages after each upload.
	Queue queue.Queue
	// Redis is reported by /healthz when set.
	Redis               HealthChecker
	Limiter             httpmiddleware.Limiter
	MaxUploadBytes      int64
	ProfilePicMaxDim    int
	ProfilePicMaxPixels int
}

type Handler struct {
	dir    *directory.Directory
	opts   Options
	now    func() time.Time
	logger zerolog.Logger
}

func New(dir *directory.Directory, opts Options) *Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	if opts.ProfilePicMaxPixels <= 0 {
		opts.ProfilePicMaxPixels = 40_000_000
	}
	registerValidators()
	return &Handler{
		dir:    dir,
		opts:   opts,
		now:    time.Now,
		logger: log.Logger.With().Str("component", "http").Logger(),
	}
}

// Router builds the gin engine with middleware and every route.
func (h *Handler) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestIDMiddleware())
	r.Use(httpmiddleware.AccessLog("/healthz", "/metrics"))
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", httpmiddleware.RequestIDHeader},
		ExposeHeaders:   []string{httpmiddleware.RequestIDHeader},
		MaxAge:          12 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())
	r.Use(metrics.GinMiddleware())

	r.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Chess club sign-in kiosk API")
	})
	r.GET("/healthz", h.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/")
	if h.opts.Limiter != nil {
		api.Use(httpmiddleware.RateLimit(h.opts.Limiter))
	}
	api.POST("/signup", h.signup)
	api.POST("/signin", h.signin)
	api.GET("/lookup", h.lookup)
	api.POST("/upload_profile_pic", h.uploadProfilePic)
	api.GET("/today_logins", h.todayLogins)
	api.POST("/update_signin", h.updateSignin)
	api.GET("/users", h.listUsers)
	api.GET("/users/:user_id", h.getUser)
	return r
}

func (h *Handler) health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	storeState := "ok"
	if err := h.dir.Ping(ctx); err != nil {
		h.logger.Warn().Err(err).Msg("store health check failed")
		storeState, status, code = "down", "degraded", http.StatusServiceUnavailable
	}
	redisState := "disabled"
	if h.opts.Redis != nil {
		redisState = "ok"
		if !h.opts.Redis.Healthy(ctx) {
			redisState, status, code = "down", "degraded", http.StatusServiceUnavailable
		}
	}
	c.JSON(code, gin.H{"status": status, "store": storeState, "redis": redisState})
}

// fail writes err as a JSON error. Internal errors are logged and masked.
func (h *Handler) fail(c *gin.Context, err error) {
	code := http.StatusInternalServerError
	switch apperr.KindOf(err) {
	case apperr.KindValidation, apperr.KindDuplicate:
		code = http.StatusBadRequest
	case apperr.KindNotFound:
		code = http.StatusNotFound
	}
	if code == http.StatusInternalServerError {
		h.logger.Error().Err(err).
			Str("request_id", httpmiddleware.RequestID(c)).
			Str("route", c.FullPath()).
			Msg("request failed")
	}
	_ = c.Error(err)
	c.JSON(code, gin.H{"success": false, "error": apperr.Message(err)})
}
