package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
	if cfg.MessagePageSize != 20 {
		t.Errorf("MessagePageSize = %d, want 20", cfg.MessagePageSize)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "*" {
		t.Errorf("AllowedOrigins = %v, want [*]", cfg.AllowedOrigins)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("CONTACT_SESSION_TTL", "1h30m")
	t.Setenv("MESSAGE_PAGE_SIZE", "50")
	t.Setenv("LLM_MODEL", "gpt-4o")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q", cfg.Port)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Errorf("AllowedOrigins = %v", cfg.AllowedOrigins)
	}
	if cfg.SessionTTL != 90*time.Minute {
		t.Errorf("SessionTTL = %v", cfg.SessionTTL)
	}
	if cfg.MessagePageSize != 50 {
		t.Errorf("MessagePageSize = %d", cfg.MessagePageSize)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Errorf("LLM.Model = %q", cfg.LLM.Model)
	}
}

func TestLoadBadValuesFallBack(t *testing.T) {
	t.Setenv("CONTACT_SESSION_TTL", "not-a-duration")
	t.Setenv("MESSAGE_PAGE_SIZE", "many")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want fallback", cfg.SessionTTL)
	}
	if cfg.MessagePageSize != 20 {
		t.Errorf("MessagePageSize = %d, want fallback", cfg.MessagePageSize)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Port:            "8080",
		DBPath:          "./x.db",
		BlobDir:         "./blobs",
		SessionTTL:      time.Hour,
		MessagePageSize: 20,
		Directory:       DirectoryConfig{BaseURL: "https://dir.example.com"},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate(valid) = %v", err)
	}

	broken := *cfg
	broken.Port = ""
	if err := broken.Validate(); err == nil {
		t.Error("empty port accepted")
	}

	broken = *cfg
	broken.SessionTTL = 0
	if err := broken.Validate(); err == nil {
		t.Error("zero session TTL accepted")
	}

	broken = *cfg
	broken.Directory.BaseURL = ""
	if err := broken.Validate(); err == nil {
		t.Error("empty directory URL accepted")
	}
}
