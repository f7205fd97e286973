package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the engine reads from the environment. The
// database file path may also arrive as a CLI argument, which wins over the
// environment.
type Config struct {
	Env              string `mapstructure:"BEST_ENV"`
	DBPath           string `mapstructure:"BEST_DB_PATH"`
	LogPath          string `mapstructure:"BEST_LOG_PATH"`
	LogLevel         string `mapstructure:"BEST_LOG_LEVEL"`
	LogMaxSizeMB     int    `mapstructure:"BEST_LOG_MAX_SIZE_MB"`
	LogMaxBackups    int    `mapstructure:"BEST_LOG_MAX_BACKUPS"`
	BusyTimeoutMS    int    `mapstructure:"BEST_BUSY_TIMEOUT_MS"`
	TxTimeoutSeconds int    `mapstructure:"BEST_TX_TIMEOUT_SECONDS"`
	ImportBatchSize  int    `mapstructure:"BEST_IMPORT_BATCH_SIZE"`
	DuplicateStrat   string `mapstructure:"BEST_DUPLICATE_STRATEGY"`
	KeepUnknown      bool   `mapstructure:"BEST_KEEP_UNKNOWN_CONCEPTS"`
	NormalizeCodes   bool   `mapstructure:"BEST_NORMALIZE_CODES"`
	SourceSystem     string `mapstructure:"BEST_SOURCE_SYSTEM"`
}

// Load reads an optional .env file and the environment.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("BEST_ENV", "development")
	v.SetDefault("BEST_DB_PATH", "best.db")
	v.SetDefault("BEST_LOG_PATH", "best.log")
	v.SetDefault("BEST_LOG_LEVEL", "info")
	v.SetDefault("BEST_LOG_MAX_SIZE_MB", 10)
	v.SetDefault("BEST_LOG_MAX_BACKUPS", 3)
	v.SetDefault("BEST_BUSY_TIMEOUT_MS", 5000)
	v.SetDefault("BEST_TX_TIMEOUT_SECONDS", 30)
	v.SetDefault("BEST_IMPORT_BATCH_SIZE", 100)
	v.SetDefault("BEST_DUPLICATE_STRATEGY", "skip")
	v.SetDefault("BEST_KEEP_UNKNOWN_CONCEPTS", true)
	v.SetDefault("BEST_NORMALIZE_CODES", true)
	v.SetDefault("BEST_SOURCE_SYSTEM", "USER")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("BEST_ENV")
	v.BindEnv("BEST_DB_PATH")
	v.BindEnv("BEST_LOG_PATH")
	v.BindEnv("BEST_LOG_LEVEL")
	v.BindEnv("BEST_LOG_MAX_SIZE_MB")
	v.BindEnv("BEST_LOG_MAX_BACKUPS")
	v.BindEnv("BEST_BUSY_TIMEOUT_MS")
	v.BindEnv("BEST_TX_TIMEOUT_SECONDS")
	v.BindEnv("BEST_IMPORT_BATCH_SIZE")
	v.BindEnv("BEST_DUPLICATE_STRATEGY")
	v.BindEnv("BEST_KEEP_UNKNOWN_CONCEPTS")
	v.BindEnv("BEST_NORMALIZE_CODES")
	v.BindEnv("BEST_SOURCE_SYSTEM")

	// Try reading .env, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// BusyTimeout returns the SQLite busy timeout as a duration.
func (c *Config) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMS) * time.Millisecond
}

// TxTimeout returns the transaction deadline as a duration.
func (c *Config) TxTimeout() time.Duration {
	return time.Duration(c.TxTimeoutSeconds) * time.Second
}

// Validate checks that the configuration can actually run.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("BEST_DB_PATH must not be empty")
	}
	switch c.DuplicateStrat {
	case "skip", "update", "error":
	default:
		return fmt.Errorf("BEST_DUPLICATE_STRATEGY must be \"skip\", \"update\", or \"error\", got %q", c.DuplicateStrat)
	}
	if c.ImportBatchSize < 1 {
		return fmt.Errorf("BEST_IMPORT_BATCH_SIZE must be positive, got %d", c.ImportBatchSize)
	}
	if c.TxTimeoutSeconds < 1 {
		return fmt.Errorf("BEST_TX_TIMEOUT_SECONDS must be positive, got %d", c.TxTimeoutSeconds)
	}
	if c.BusyTimeoutMS < 0 {
		return fmt.Errorf("BEST_BUSY_TIMEOUT_MS must not be negative, got %d", c.BusyTimeoutMS)
	}
	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("BEST_LOG_LEVEL must be trace, debug, info, warn, or error, got %q", c.LogLevel)
	}
	return nil
}
