package config

import (
	"os"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	os.Unsetenv("BEST_DB_PATH")
	os.Unsetenv("BEST_DUPLICATE_STRATEGY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DBPath != "best.db" {
		t.Errorf("expected default db path best.db, got %s", cfg.DBPath)
	}
	if cfg.DuplicateStrat != "skip" {
		t.Errorf("expected default strategy skip, got %s", cfg.DuplicateStrat)
	}
	if cfg.ImportBatchSize != 100 {
		t.Errorf("expected default batch size 100, got %d", cfg.ImportBatchSize)
	}
	if !cfg.NormalizeCodes {
		t.Error("expected code normalisation on by default")
	}
	if cfg.TxTimeout() != 30*time.Second {
		t.Errorf("expected 30s transaction timeout, got %v", cfg.TxTimeout())
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	os.Setenv("BEST_DB_PATH", "/tmp/clinical.db")
	os.Setenv("BEST_DUPLICATE_STRATEGY", "error")
	defer os.Unsetenv("BEST_DB_PATH")
	defer os.Unsetenv("BEST_DUPLICATE_STRATEGY")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DBPath != "/tmp/clinical.db" {
		t.Errorf("expected BEST_DB_PATH to win, got %s", cfg.DBPath)
	}
	if cfg.DuplicateStrat != "error" {
		t.Errorf("expected strategy error, got %s", cfg.DuplicateStrat)
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() {
		t.Error("expected IsDev() to return false for production")
	}
}

func TestValidate(t *testing.T) {
	valid := &Config{
		DBPath:           "x.db",
		DuplicateStrat:   "skip",
		ImportBatchSize:  10,
		TxTimeoutSeconds: 5,
		LogLevel:         "info",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty db path", func(c *Config) { c.DBPath = "" }},
		{"bad strategy", func(c *Config) { c.DuplicateStrat = "merge" }},
		{"zero batch", func(c *Config) { c.ImportBatchSize = 0 }},
		{"zero timeout", func(c *Config) { c.TxTimeoutSeconds = 0 }},
		{"negative busy timeout", func(c *Config) { c.BusyTimeoutMS = -1 }},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *valid
			tt.mutate(&c)
			if err := c.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}
