package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"workqueue/internal/log"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

type Config struct {
	DatabaseURL     string
	RedisAddr       string
	RedisPassword   string
	ListenAddr      string
	JWTSecret       string
	BootstrapSchema bool
	PollInterval    time.Duration
	SweepInterval   time.Duration
	RetryAfter      time.Duration
	ResetInProgress bool
}

func Load() (*Config, error) {
	logger := log.NewLogger()
	if err := godotenv.Load(); err != nil {
		// .env is optional when variables are set elsewhere
		logger.Warn("Failed to load .env file", zap.Error(err))
	}

	cfg := &Config{
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		ListenAddr:      os.Getenv("LISTEN_ADDR"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		BootstrapSchema: os.Getenv("BOOTSTRAP_SCHEMA") == "true",
		PollInterval:    2 * time.Second,
		SweepInterval:   time.Minute,
		RetryAfter:      5 * time.Minute,
		ResetInProgress: os.Getenv("RESET_IN_PROGRESS") == "true",
	}

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.JWTSecret == "" {
		logger.Warn("JWT_SECRET not set, API authentication disabled")
	}

	var err error
	if cfg.PollInterval, err = durationEnv("POLL_INTERVAL", cfg.PollInterval); err != nil {
		return nil, err
	}
	if cfg.SweepInterval, err = durationEnv("SWEEP_INTERVAL", cfg.SweepInterval); err != nil {
		return nil, err
	}
	if cfg.RetryAfter, err = durationEnv("RETRY_AFTER", cfg.RetryAfter); err != nil {
		return nil, err
	}

	logger.Info("Config loaded successfully")
	return cfg, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		// allow bare seconds
		if secs, serr := strconv.Atoi(raw); serr == nil {
			return time.Duration(secs) * time.Second, nil
		}
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
