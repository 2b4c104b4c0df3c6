package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.PageSize != 50 {
		t.Errorf("Expected page size 50, got %d", cfg.PageSize)
	}
	if cfg.BatchItemCap != 2000 {
		t.Errorf("Expected item cap 2000, got %d", cfg.BatchItemCap)
	}
	if cfg.MaxItemAttempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", cfg.MaxItemAttempts)
	}
	if cfg.LockExpiry != 30*time.Minute {
		t.Errorf("Expected 30m lock expiry, got %v", cfg.LockExpiry)
	}
	if cfg.SurrealDBNamespace != "syncwell" {
		t.Errorf("Unexpected namespace %q", cfg.SurrealDBNamespace)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SYNCWELL_PAGE_SIZE", "25")
	t.Setenv("SYNCWELL_LOCK_EXPIRY", "10m")
	t.Setenv("SYNCWELL_LOG_LEVEL", "debug")

	cfg := Load()
	if cfg.PageSize != 25 {
		t.Errorf("Expected page size 25, got %d", cfg.PageSize)
	}
	if cfg.LockExpiry != 10*time.Minute {
		t.Errorf("Expected 10m lock expiry, got %v", cfg.LockExpiry)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("Expected debug level, got %v", cfg.LogLevel)
	}
}

func TestLoadEnvIgnoresGarbage(t *testing.T) {
	t.Setenv("SYNCWELL_PAGE_SIZE", "not-a-number")

	cfg := Load()
	if cfg.PageSize != 50 {
		t.Errorf("Expected default page size on bad value, got %d", cfg.PageSize)
	}
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "syncwell.yaml")
	content := "page_size: 10\nmail_gateway_url: http://gw.internal:9000\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := Load()
	if err := cfg.LoadFile(path); err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if cfg.PageSize != 10 {
		t.Errorf("Expected page size 10 from file, got %d", cfg.PageSize)
	}
	if cfg.MailGatewayURL != "http://gw.internal:9000" {
		t.Errorf("Unexpected gateway URL %q", cfg.MailGatewayURL)
	}
	// Fields absent from the file keep env/default values.
	if cfg.BatchItemCap != 2000 {
		t.Errorf("Expected untouched item cap, got %d", cfg.BatchItemCap)
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg := Load()
	if err := cfg.LoadFile("/nonexistent/syncwell.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}
