package logger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	for _, dev := range []bool{true, false} {
		log, err := New(dev, Options{})
		if err != nil {
			t.Fatalf("New(%v): %v", dev, err)
		}
		log.Debug("simulation started")
	}
}

func TestNew_LevelAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tradecore.log")

	log, err := New(false, Options{Level: "warn", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Info("dropped below level")
	log.Warn("position rejected")
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), "position rejected") {
		t.Errorf("expected warn entry in file, got %q", data)
	}
	if strings.Contains(string(data), "dropped below level") {
		t.Errorf("info entry should be filtered at warn level")
	}
}

func TestNew_DevelopmentIgnoresLevel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")

	log, err := New(true, Options{Level: "error", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log.Debug("warm-up bars loaded")
	_ = log.Sync()

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "warm-up bars loaded") {
		t.Errorf("development logger should keep debug entries, got %q", data)
	}
}

func TestNew_BadLevel(t *testing.T) {
	if _, err := New(false, Options{Level: "loud"}); err == nil {
		t.Error("expected error for unknown level")
	}
}
