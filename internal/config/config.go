package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// App holds the runtime configuration loaded from environment variables.
type App struct {
	Env         string
	HTTPPort    string
	LogLevel    string
	DatabaseURL string

	MongoDatabase   string
	MongoCollection string

	RedisAddr        string
	QueueBackend     string
	RateLimitBackend string
	RateLimitPerMin  int

	CivilTimezone    string
	MaxUploadBytes   int64
	ProfilePicMaxDim int
	// ProfilePicMaxPixels caps width*height read from the image header.
	ProfilePicMaxPixels int

	StoreMaxRetries int
	StoreRetryDelay time.Duration

	SweepInterval time.Duration

	CloudinaryCloudName string
	CloudinaryAPIKey    string
	CloudinaryAPISecret string
	CloudinaryFolder    string
}

// Load reads an optional .env file and returns application config populated
// from environment variables with sensible defaults.
func Load() App {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("could not read .env file")
	}
	return App{
		Env:                 getEnv("APP_ENV", "dev"),
		HTTPPort:            getEnv("HTTP_PORT", "8080"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		DatabaseURL:         getEnv("DATABASE_URL", getEnv("MONGO_URI", "memory://")),
		MongoDatabase:       getEnv("MONGO_DATABASE", "chessschool"),
		MongoCollection:     getEnv("MONGO_COLLECTION", "snap_capture"),
		RedisAddr:           getEnv("REDIS_ADDR", "localhost:6379"),
		QueueBackend:        getEnv("QUEUE_BACKEND", "memory"),
		RateLimitBackend:    getEnv("RATE_LIMIT_BACKEND", "memory"),
		RateLimitPerMin:     intEnv("RATE_LIMIT_PER_MIN", 120),
		CivilTimezone:       getEnv("CIVIL_TIMEZONE", "Asia/Kolkata"),
		MaxUploadBytes:      int64(intEnv("MAX_UPLOAD_BYTES", 5<<20)),
		ProfilePicMaxDim:    intEnv("PROFILE_PIC_MAX_DIM", 512),
		ProfilePicMaxPixels: intEnv("PROFILE_PIC_MAX_PIXELS", 40_000_000),
		StoreMaxRetries:     intEnv("STORE_MAX_RETRIES", 3),
		StoreRetryDelay:     durationEnv("STORE_RETRY_DELAY", time.Second),
		SweepInterval:       durationEnv("SWEEP_INTERVAL", 15*time.Minute),
		CloudinaryCloudName: getEnv("CLOUDINARY_CLOUD_NAME", ""),
		CloudinaryAPIKey:    getEnv("CLOUDINARY_API_KEY", ""),
		CloudinaryAPISecret: getEnv("CLOUDINARY_API_SECRET", ""),
		CloudinaryFolder:    getEnv("CLOUDINARY_FOLDER", "kiosk/profile_pics"),
	}
}

// Production reports whether the app runs in a production environment.
func (a App) Production() bool {
	return a.Env == "production" || a.Env == "prod"
}

// CloudinaryEnabled reports whether all Cloudinary credentials are present.
func (a App) CloudinaryEnabled() bool {
	return a.CloudinaryCloudName != "" && a.CloudinaryAPIKey != "" && a.CloudinaryAPISecret != ""
}

// Location resolves CivilTimezone, falling back to a fixed +05:30 zone when
// the tz database is unavailable on the host.
func (a App) Location() *time.Location {
	loc, err := time.LoadLocation(a.CivilTimezone)
	if err != nil {
		log.Warn().Err(err).Str("tz", a.CivilTimezone).Msg("unknown time zone, using IST offset")
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Dur("fallback", fallback).Msg("invalid duration")
			return fallback
		}
		return d
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		log.Warn().Str("key", key).Int("fallback", fallback).Msg("invalid int")
	}
	return fallback
}
