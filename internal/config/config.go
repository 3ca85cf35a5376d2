package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DBDSN       string
	LogFile     string
	TemplateDir string

	// RedisURL switches the cache and the notification sink to redis when set.
	RedisURL     string
	NotifyStream string
	CacheSize    int
	CacheTTL     time.Duration

	RunWorkers     bool
	SweepInterval  time.Duration
	WorkerInterval time.Duration

	MaxActiveListings int
	ListingTTL        time.Duration
	BumpCooldown      time.Duration
	AppealWindow      time.Duration
}

// Load reads .env (if present) and the process environment.
func Load() Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("[config] .env not loaded: %v", err)
	}

	cfg := Config{
		Port:        str("PORT", "8080"),
		DBDSN:       str("DB_DSN", "tradepost.db"), // sqlite file in working dir
		LogFile:     str("LOG_FILE", "./tradepost.log"),
		TemplateDir: str("TEMPLATE_DIR", "./web/templates"),

		RedisURL:     os.Getenv("REDIS_URL"),
		NotifyStream: str("NOTIFY_STREAM", "tradepost.notifications"),
		CacheSize:    num("CACHE_SIZE", 10_000),
		CacheTTL:     dur("CACHE_TTL", 5*time.Minute),

		RunWorkers:     flag("RUN_WORKERS", true),
		SweepInterval:  dur("SWEEP_INTERVAL", 5*time.Minute),
		WorkerInterval: dur("WORKER_INTERVAL", 5*time.Second),

		MaxActiveListings: num("MAX_ACTIVE_LISTINGS", 20),
		ListingTTL:        dur("LISTING_TTL", 7*24*time.Hour),
		BumpCooldown:      dur("BUMP_COOLDOWN", 24*time.Hour),
		AppealWindow:      dur("APPEAL_WINDOW", 7*24*time.Hour),
	}
	log.Printf("[config] PORT=%s DB_DSN=%s LOG_FILE=%s REDIS=%t SWEEP=%s WORKER=%s",
		cfg.Port, cfg.DBDSN, cfg.LogFile, cfg.RedisURL != "", cfg.SweepInterval, cfg.WorkerInterval)
	return cfg
}

func str(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func num(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("[config] ignoring %s=%q", key, v)
		return def
	}
	return n
}

func dur(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Printf("[config] ignoring %s=%q", key, v)
		return def
	}
	return d
}

func flag(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] ignoring %s=%q", key, v)
		return def
	}
	return b
}
