// Package config defines client configuration structures and loading hooks.
package config

import "time"

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// Score advance modes.
const (
	AdvanceConfirm    = "confirm"
	AdvanceOptimistic = "optimistic"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is text or json.
	LogFormat string `koanf:"log_format"`

	// BaseURL is the remote API root; endpoint paths are resolved against it.
	BaseURL string `koanf:"base_url"`
	// RequestTimeout bounds every remote call.
	RequestTimeout time.Duration `koanf:"request_timeout"`
	// RateLimitRPS and RateLimitBurst shape outgoing traffic. RPS <= 0 disables limiting.
	RateLimitRPS   float64 `koanf:"rate_limit_rps"`
	RateLimitBurst int     `koanf:"rate_limit_burst"`

	// StoreBackend selects the durable key-value store: memory, file, redis.
	StoreBackend  string `koanf:"store_backend"`
	StorePath     string `koanf:"store_path"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`

	TreatProfileFailureAsExpiry bool   `koanf:"treat_profile_failure_as_expiry"`
	ScoreAdvance                string `koanf:"score_advance"`

	LeaderboardTitle  string `koanf:"leaderboard_title"`
	SanitizeUsernames bool   `koanf:"sanitize_usernames"`

	// WorkerCount and QueueSize size the async dispatch pool.
	WorkerCount int `koanf:"worker_count"`
	QueueSize   int `koanf:"queue_size"`

	// Stub server settings.
	StubAddr      string        `koanf:"stub_addr"`
	StubJWTSecret string        `koanf:"stub_jwt_secret"`
	StubTokenTTL  time.Duration `koanf:"stub_token_ttl"`
}

// New creates a Config populated with defaults.
func New() *Config {
	return &Config{
		LogLevel:                    "info",
		LogFormat:                   "text",
		BaseURL:                     "https://sid-restapi.onrender.com/",
		RequestTimeout:              10 * time.Second,
		RateLimitRPS:                10,
		RateLimitBurst:              10,
		StoreBackend:                BackendFile,
		StorePath:                   "podium-state.yaml",
		RedisAddr:                   "localhost:6379",
		RedisPrefix:                 "podium:",
		TreatProfileFailureAsExpiry: true,
		ScoreAdvance:                AdvanceConfirm,
		LeaderboardTitle:            "🏆 Leaderboard 🏆",
		SanitizeUsernames:           true,
		WorkerCount:                 2,
		QueueSize:                   64,
		StubAddr:                    ":9081",
		StubJWTSecret:               "podium-stub-secret",
		StubTokenTTL:                24 * time.Hour,
	}
}
