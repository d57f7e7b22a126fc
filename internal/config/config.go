// Package config provides centralized configuration loaded from environment
// variables. Shared by cmd/api and cmd/engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/freshroute/expiry-engine/internal/scoring"
)

// --------------------------------------------------------------------------
// Config is populated from environment variables.
// --------------------------------------------------------------------------

type Config struct {
	// Database
	DatabaseURL    string
	DBPoolMinConns int
	DBPoolMaxConns int
	DBPoolMaxLife  time.Duration

	// API server
	APIHost     string
	APIPort     int
	Environment string // development, staging, production
	Debug       bool

	// CORS
	CORSAllowOrigins []string

	// Rate limiting
	RateLimitEnabled  bool
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Cache
	CacheEnabled bool

	// Run lock (empty RedisAddr = in-process lock)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Telemetry (empty endpoint = disabled)
	OTLPEndpoint string
	ServiceName  string

	Engine EngineConfig
}

// EngineConfig tunes the four pipeline stages.
type EngineConfig struct {
	TopRetailers          int
	DedupWindow           time.Duration
	FrequencyWindow       time.Duration
	SellThroughWindow     time.Duration
	RecencyDecay          float64
	ScoringConcurrency    int
	AnalyticsDeadline     time.Duration
	ScoringDeadline       time.Duration
	RunInterval           time.Duration // 0 disables periodic runs
	RunLockTTL            time.Duration
	NotificationRetention time.Duration
	Weights               scoring.Weights
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	dbURL := envOr("DATABASE_URL", "")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL must be set")
	}

	engine, err := loadEngine()
	if err != nil {
		return nil, err
	}

	return &Config{
		DatabaseURL:    dbURL,
		DBPoolMinConns: envInt("DB_POOL_MIN_CONNS", 2),
		DBPoolMaxConns: envInt("DB_POOL_MAX_CONNS", 10),
		DBPoolMaxLife:  time.Duration(envInt("DB_POOL_MAX_LIFE_MINUTES", 30)) * time.Minute,

		APIHost:     envOr("API_HOST", "0.0.0.0"),
		APIPort:     envInt("API_PORT", envInt("PORT", 8000)),
		Environment: envOr("ENVIRONMENT", "development"),
		Debug:       envBool("DEBUG", false),

		CORSAllowOrigins: envList("CORS_ALLOW_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:5173",
		}),

		RateLimitEnabled:  envBool("RATE_LIMIT_ENABLED", true),
		RateLimitRequests: envInt("RATE_LIMIT_REQUESTS", 100),
		RateLimitWindow:   time.Duration(envInt("RATE_LIMIT_WINDOW", 60)) * time.Second,

		CacheEnabled: envBool("CACHE_ENABLED", true),

		RedisAddr:     envOr("REDIS_ADDR", ""),
		RedisPassword: envOr("REDIS_PASSWORD", ""),
		RedisDB:       envInt("REDIS_DB", 0),

		OTLPEndpoint: envOr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		ServiceName:  envOr("SERVICE_NAME", "expiry-engine"),

		Engine: engine,
	}, nil
}

func loadEngine() (EngineConfig, error) {
	defaults := scoring.DefaultWeights()
	weights := scoring.Weights{
		Frequency:   envFloat("SCORE_WEIGHT_FREQUENCY", defaults.Frequency),
		Volume:      envFloat("SCORE_WEIGHT_VOLUME", defaults.Volume),
		Recency:     envFloat("SCORE_WEIGHT_RECENCY", defaults.Recency),
		SellThrough: envFloat("SCORE_WEIGHT_SELL_THROUGH", defaults.SellThrough),
		Reliability: envFloat("SCORE_WEIGHT_RELIABILITY", defaults.Reliability),
	}
	if err := weights.Validate(); err != nil {
		return EngineConfig{}, fmt.Errorf("scoring weights: %w", err)
	}

	cfg := EngineConfig{
		TopRetailers:          envInt("ENGINE_TOP_RETAILERS", 5),
		DedupWindow:           envDuration("ENGINE_DEDUP_WINDOW", 24*time.Hour),
		FrequencyWindow:       time.Duration(envInt("ENGINE_FREQUENCY_WINDOW_DAYS", 180)) * 24 * time.Hour,
		SellThroughWindow:     time.Duration(envInt("ENGINE_SELL_THROUGH_WINDOW_DAYS", 60)) * 24 * time.Hour,
		RecencyDecay:          envFloat("ENGINE_RECENCY_DECAY", 0.05),
		ScoringConcurrency:    envInt("ENGINE_SCORING_CONCURRENCY", 8),
		AnalyticsDeadline:     envDuration("ENGINE_ANALYTICS_DEADLINE", 2*time.Minute),
		ScoringDeadline:       envDuration("ENGINE_SCORING_DEADLINE", 2*time.Minute),
		RunInterval:           envDuration("ENGINE_RUN_INTERVAL", 0),
		RunLockTTL:            envDuration("ENGINE_RUN_LOCK_TTL", 10*time.Minute),
		NotificationRetention: time.Duration(envInt("NOTIFICATION_RETENTION_DAYS", 90)) * 24 * time.Hour,
		Weights:               weights,
	}
	if cfg.TopRetailers < 1 {
		return EngineConfig{}, fmt.Errorf("ENGINE_TOP_RETAILERS must be at least 1, got %d", cfg.TopRetailers)
	}
	if cfg.DedupWindow <= 0 {
		return EngineConfig{}, fmt.Errorf("ENGINE_DEDUP_WINDOW must be positive, got %s", cfg.DedupWindow)
	}
	if cfg.ScoringConcurrency < 1 {
		cfg.ScoringConcurrency = 1
	}
	return cfg, nil
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// ScoringOptions maps the engine block onto the scorer's options.
func (c EngineConfig) ScoringOptions() scoring.Options {
	return scoring.Options{
		Weights:           c.Weights,
		FrequencyWindow:   c.FrequencyWindow,
		SellThroughWindow: c.SellThroughWindow,
		RecencyDecay:      c.RecencyDecay,
		Concurrency:       c.ScoringConcurrency,
	}
}

// --------------------------------------------------------------------------
// Env helpers
// --------------------------------------------------------------------------

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go duration syntax ("90s", "24h").
func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return fallback
}
