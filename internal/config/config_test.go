package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MONGO_URI", "")
	t.Setenv("STORE_MAX_RETRIES", "")

	cfg := Load()
	assert.Equal(t, "memory://", cfg.DatabaseURL)
	assert.Equal(t, "chessschool", cfg.MongoDatabase)
	assert.Equal(t, "snap_capture", cfg.MongoCollection)
	assert.Equal(t, 3, cfg.StoreMaxRetries)
	assert.Equal(t, time.Second, cfg.StoreRetryDelay)
	assert.Equal(t, 40_000_000, cfg.ProfilePicMaxPixels)
	assert.False(t, cfg.CloudinaryEnabled())
}

func TestLoadMongoURIAlias(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")

	assert.Equal(t, "mongodb://localhost:27017", Load().DatabaseURL)
}

func TestLoadInvalidValuesFallBack(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MIN", "lots")
	t.Setenv("STORE_RETRY_DELAY", "soon")

	cfg := Load()
	assert.Equal(t, 120, cfg.RateLimitPerMin)
	assert.Equal(t, time.Second, cfg.StoreRetryDelay)
}

func TestLocation(t *testing.T) {
	cfg := App{CivilTimezone: "Not/AZone"}
	loc := cfg.Location()
	_, offset := time.Date(2024, 5, 1, 0, 0, 0, 0, loc).Zone()
	assert.Equal(t, 5*3600+1800, offset)

	assert.True(t, App{Env: "prod"}.Production())
	assert.False(t, App{Env: "dev"}.Production())
}
