package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	assert := assert.New(t)
	for _, k := range []string{"PORT", "DB_DSN", "REDIS_URL", "CACHE_TTL", "MAX_ACTIVE_LISTINGS", "RUN_WORKERS"} {
		t.Setenv(k, "")
	}
	cfg := Load()
	assert.Equal("8080", cfg.Port)
	assert.Equal("tradepost.db", cfg.DBDSN)
	assert.Empty(cfg.RedisURL)
	assert.Equal(5*time.Minute, cfg.CacheTTL)
	assert.Equal(20, cfg.MaxActiveListings)
	assert.Equal(7*24*time.Hour, cfg.ListingTTL)
	assert.True(cfg.RunWorkers)
}

func TestLoadOverrides(t *testing.T) {
	assert := assert.New(t)
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE_TTL", "30s")
	t.Setenv("MAX_ACTIVE_LISTINGS", "5")
	t.Setenv("BUMP_COOLDOWN", "not-a-duration")
	t.Setenv("RUN_WORKERS", "false")

	cfg := Load()
	assert.Equal("9090", cfg.Port)
	assert.Equal(30*time.Second, cfg.CacheTTL)
	assert.Equal(5, cfg.MaxActiveListings)
	assert.Equal(24*time.Hour, cfg.BumpCooldown, "bad values fall back to the default")
	assert.False(cfg.RunWorkers)
}
