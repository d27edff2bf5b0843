package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWritesDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg, resolved, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if resolved != path {
		t.Fatalf("resolved path = %q, want %q", resolved, path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default config not written: %v", err)
	}

	def := Default()
	if cfg.Addr != def.Addr || cfg.DefaultLanguage != def.DefaultLanguage {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.Language.Timeout != def.Language.Timeout {
		t.Fatalf("language timeout = %v, want %v", cfg.Language.Timeout, def.Language.Timeout)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("addr: \":9000\"\ndefault_language: hi\nspeech:\n  fallback_language: es\n")
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("MEDRELAY_ADDR", ":9100")
	t.Setenv("MEDRELAY_LANGUAGE_API_KEY", "secret")
	t.Setenv("MEDRELAY_TRANSCRIBE_TIMEOUT", "3s")

	cfg, _, err := Load(nil, path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9100" {
		t.Fatalf("addr = %q, want env override", cfg.Addr)
	}
	if cfg.DefaultLanguage != "hi" {
		t.Fatalf("default_language = %q, want file value", cfg.DefaultLanguage)
	}
	if cfg.Speech.FallbackLanguage != "es" {
		t.Fatalf("speech.fallback_language = %q, want es", cfg.Speech.FallbackLanguage)
	}
	if cfg.Language.APIKey != "secret" {
		t.Fatalf("language.api_key not read from env")
	}
	if cfg.TranscribeTimeout != 3*time.Second {
		t.Fatalf("transcribe_timeout = %v, want 3s", cfg.TranscribeTimeout)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"s3 without bucket", func(c *Config) { c.Media.Backend = MediaBackendS3 }, true},
		{"s3 with bucket", func(c *Config) { c.Media.Backend = MediaBackendS3; c.Media.S3Bucket = "b" }, false},
		{"unknown backend", func(c *Config) { c.Media.Backend = "ftp" }, true},
		{"zero buffer", func(c *Config) { c.SessionBuffer = 0 }, true},
		{"rate limit disabled", func(c *Config) { c.SessionRateLimit = 0 }, false},
		{"negative rate limit", func(c *Config) { c.SessionRateLimit = -1 }, true},
		{"no default language", func(c *Config) { c.DefaultLanguage = "" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
