package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "3000" {
		t.Errorf("default port = %s, want 3000", cfg.Port)
	}
	if cfg.AMQPQueue != "ingest_receipts" {
		t.Errorf("default queue = %s, want ingest_receipts", cfg.AMQPQueue)
	}
	if len(cfg.ImageExtensions) != 4 {
		t.Errorf("default extensions = %v, want jpg/jpeg/png/webp", cfg.ImageExtensions)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("IMAGE_EXTENSIONS", "jpg, png")
	t.Setenv("GEMINI_MODEL", "gemini-2.5-pro")

	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("port = %s, want 8080", cfg.Port)
	}
	if len(cfg.ImageExtensions) != 2 || cfg.ImageExtensions[1] != "png" {
		t.Errorf("extensions = %v, want [jpg png]", cfg.ImageExtensions)
	}
	if cfg.GeminiModel != "gemini-2.5-pro" {
		t.Errorf("model = %s, want gemini-2.5-pro", cfg.GeminiModel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid defaults", func(c *Config) {}, ""},
		{"bad port", func(c *Config) { c.Port = "http" }, "invalid port"},
		{"port out of range", func(c *Config) { c.Port = "70000" }, "invalid port"},
		{"empty db path", func(c *Config) { c.SQLiteDBPath = "" }, "database path"},
		{"bad amqp scheme", func(c *Config) { c.AMQPURL = "http://localhost" }, "AMQP URL scheme"},
		{"empty queue with amqp", func(c *Config) { c.AMQPQueue = "" }, "queue name"},
		{"empty model", func(c *Config) { c.GeminiModel = "" }, "model name"},
		{"dotted extension", func(c *Config) { c.ImageExtensions = []string{".jpg"} }, "image extension"},
		{"no extensions", func(c *Config) { c.ImageExtensions = nil }, "image extension"},
		{"zero concurrency", func(c *Config) { c.BackupConcurrency = 0 }, "backup concurrency"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			cfg.SQLiteDBPath = t.TempDir() + "/kakeibo.db"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestSupportsImage(t *testing.T) {
	cfg := Load()

	tests := []struct {
		path string
		want bool
	}{
		{"photos/receipt.jpg", true},
		{"photos/RECEIPT.JPG", true},
		{"photos/receipt.webp", true},
		{"photos/receipt.pdf", false},
		{"photos/receipt", false},
	}

	for _, tt := range tests {
		if got := cfg.SupportsImage(tt.path); got != tt.want {
			t.Errorf("SupportsImage(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
