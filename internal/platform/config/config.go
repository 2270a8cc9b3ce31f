package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

// Feed snapshot backends.
const (
	FeedStoreFile     = "file"
	FeedStoreRedis    = "redis"
	FeedStorePostgres = "postgres"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8088"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`
	AppURL    string `env:"APP_URL"`

	FeedStore        string `env:"FEED_STORE" default:"file"`
	StateFile        string `env:"STATE_FILE" default:"state.json"`
	RedisURL         string `env:"REDIS_URL"`
	RedisSnapshotKey string `env:"REDIS_SNAPSHOT_KEY" default:"promptfeed:feed"`
	DatabaseURL      string `env:"DATABASE_URL"`

	GeneratorURL     string        `env:"GENERATOR_URL" default:"https://backend.craiyon.com"`
	GeneratorTimeout time.Duration `env:"GENERATOR_TIMEOUT" default:"180s"`

	PromptRateLimit float64 `env:"PROMPT_RATE_LIMIT" default:"0.5"`
	PromptRateBurst int     `env:"PROMPT_RATE_BURST" default:"3"`

	MaxFeedSubscribers int           `env:"MAX_FEED_SUBSCRIBERS" default:"10000"`
	WSPingInterval     time.Duration `env:"WS_PING_INTERVAL" default:"15s"`
	WSReadLimit        int64         `env:"WS_READ_LIMIT" default:"1048576"`
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.FeedStore {
	case FeedStoreFile:
		if cfg.StateFile == "" {
			return errors.New("STATE_FILE is required when FEED_STORE=file")
		}
	case FeedStoreRedis:
		if cfg.RedisURL == "" {
			return errors.New("REDIS_URL is required when FEED_STORE=redis")
		}
		if cfg.RedisSnapshotKey == "" {
			return errors.New("REDIS_SNAPSHOT_KEY must not be empty")
		}
	case FeedStorePostgres:
		if cfg.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when FEED_STORE=postgres")
		}
		if cfg.AppEnv == "production" {
			if mode := sslMode(cfg.DatabaseURL); mode == "disable" || mode == "allow" {
				return fmt.Errorf("DATABASE_URL uses sslmode=%s which is not allowed in production", mode)
			}
		}
	default:
		return fmt.Errorf("FEED_STORE must be one of file, redis, postgres (got %q)", cfg.FeedStore)
	}

	if cfg.AppURL != "" {
		if _, err := url.ParseRequestURI(cfg.AppURL); err != nil {
			return fmt.Errorf("APP_URL is not a valid URL: %w", err)
		}
	}

	if cfg.GeneratorURL == "" {
		return errors.New("GENERATOR_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.GeneratorURL); err != nil {
		return fmt.Errorf("GENERATOR_URL is not a valid URL: %w", err)
	}
	if cfg.GeneratorTimeout <= 0 {
		return errors.New("GENERATOR_TIMEOUT must be positive")
	}

	if cfg.PromptRateLimit <= 0 || cfg.PromptRateBurst < 1 {
		return errors.New("PROMPT_RATE_LIMIT must be positive and PROMPT_RATE_BURST at least 1")
	}
	if cfg.MaxFeedSubscribers < 1 {
		return errors.New("MAX_FEED_SUBSCRIBERS must be at least 1")
	}
	if cfg.WSPingInterval <= 0 {
		return errors.New("WS_PING_INTERVAL must be positive")
	}
	if cfg.WSReadLimit < 1 {
		return errors.New("WS_READ_LIMIT must be positive")
	}

	return nil
}

func sslMode(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Query().Get("sslmode"))
}
