package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewWritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, closeFn := New(Options{Path: path, Level: "info"})

	logger.Info().Str("component", "test").Msg("hello")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(body), `"component":"test"`) {
		t.Errorf("log file missing structured field: %s", body)
	}
}

func TestNewLevelFilter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, closeFn := New(Options{Path: path, Level: "warn"})

	logger.Info().Msg("dropped")
	logger.Warn().Msg("kept")
	_ = closeFn()

	body, _ := os.ReadFile(path)
	if strings.Contains(string(body), "dropped") {
		t.Error("info event should have been filtered at warn level")
	}
	if !strings.Contains(string(body), "kept") {
		t.Error("warn event missing")
	}
}

func TestNewBadLevelFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	logger, closeFn := New(Options{Path: path, Level: "shouty"})
	logger.Info().Msg("default level")
	_ = closeFn()

	body, _ := os.ReadFile(path)
	if !strings.Contains(string(body), "default level") {
		t.Error("expected info to pass at fallback level")
	}
}
