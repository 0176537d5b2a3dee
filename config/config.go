package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"notes-pricing/internal/model"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Server
	PricingAddr   string
	MetricsAddr   string
	AllowedOrigin string

	// Pricing
	Instruments     string // comma-separated ISINs; empty means the default universe
	TickMinInterval time.Duration
	TickMaxInterval time.Duration
	TickFallback    time.Duration
	TickMaxBatch    int

	// Redis relay; empty RedisAddr keeps delivery in-process
	RedisAddr     string
	RedisPassword string
	RedisChannel  string

	// Client
	ClientMetricsAddr string
	HubURL            string
	ReconnectDelay    time.Duration
	NotesDB           string
	AlertWebhook      string

	LogLevel string
}

// Load reads a .env file if one exists, then the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] .env not loaded: %v", err)
	}
	return FromEnv()
}

// FromEnv reads configuration from environment variables with defaults.
func FromEnv() *Config {
	return &Config{
		PricingAddr:   getEnv("PRICING_ADDR", ":5001"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		AllowedOrigin: getEnv("ALLOWED_ORIGIN", "http://localhost:4200"),

		Instruments:     getEnv("INSTRUMENTS", ""),
		TickMinInterval: getEnvMillis("TICK_MIN_INTERVAL_MS", 2000),
		TickMaxInterval: getEnvMillis("TICK_MAX_INTERVAL_MS", 5000),
		TickFallback:    getEnvMillis("TICK_FALLBACK_DELAY_MS", 5000),
		TickMaxBatch:    getEnvInt("TICK_MAX_BATCH", 3),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisChannel:  getEnv("REDIS_CHANNEL", "pub:prices"),

		ClientMetricsAddr: getEnv("CLIENT_METRICS_ADDR", ":9091"),
		HubURL:            getEnv("HUB_URL", "ws://localhost:5001/ws"),
		ReconnectDelay:    getEnvMillis("RECONNECT_DELAY_MS", 5000),
		NotesDB:           getEnv("NOTES_DB", "data/notes.db"),
		AlertWebhook:      getEnv("ALERT_WEBHOOK_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// Universe returns the configured instrument ids, or the default universe.
func (c *Config) Universe() []model.InstrumentID {
	if c.Instruments == "" {
		return model.DefaultUniverse
	}
	return model.ParseUniverse(c.Instruments)
}

// Validate rejects settings the pipeline cannot run with.
func (c *Config) Validate() error {
	if len(c.Universe()) == 0 {
		return errors.New("config: INSTRUMENTS lists no instruments")
	}
	if c.TickMinInterval > c.TickMaxInterval {
		return fmt.Errorf("config: TICK_MIN_INTERVAL_MS (%s) exceeds TICK_MAX_INTERVAL_MS (%s)",
			c.TickMinInterval, c.TickMaxInterval)
	}
	if c.TickMaxBatch < 1 {
		return fmt.Errorf("config: TICK_MAX_BATCH must be at least 1, got %d", c.TickMaxBatch)
	}
	return nil
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvMillis(key string, fallbackMs int) time.Duration {
	ms := getEnvInt(key, fallbackMs)
	if ms < 0 {
		log.Printf("[config] negative %s=%d, using %d", key, ms, fallbackMs)
		ms = fallbackMs
	}
	return time.Duration(ms) * time.Millisecond
}
