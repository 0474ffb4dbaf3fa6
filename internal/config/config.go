// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port            string
	AllowedOrigins  []string
	DBPath          string
	BlobDir         string
	SessionTTL      time.Duration // contact session lifetime
	MessagePageSize int
	Directory       DirectoryConfig
	LLM             LLMConfig
}

// DirectoryConfig points at the external organization/identity directory.
type DirectoryConfig struct {
	BaseURL   string
	SecretKey string
}

// LLMConfig configures the OpenAI-compatible inference endpoint.
type LLMConfig struct {
	APIKey  string
	APIBase string
	Model   string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:            getEnv("PORT", "8080"),
		AllowedOrigins:  splitOrigins(getEnv("ALLOWED_ORIGINS", "*")),
		DBPath:          getEnv("DB_PATH", "./data/echodesk.db"),
		BlobDir:         getEnv("BLOB_DIR", "./data/blobs"),
		SessionTTL:      getEnvDuration("CONTACT_SESSION_TTL", 24*time.Hour),
		MessagePageSize: getEnvInt("MESSAGE_PAGE_SIZE", 20),
		Directory: DirectoryConfig{
			BaseURL:   getEnv("DIRECTORY_URL", "https://api.directory.example.com"),
			SecretKey: getEnv("DIRECTORY_SECRET_KEY", ""),
		},
		LLM: LLMConfig{
			APIKey:  getEnv("LLM_API_KEY", ""),
			APIBase: getEnv("LLM_API_BASE", "https://api.openai.com/v1"),
			Model:   getEnv("LLM_MODEL", "gpt-4o-mini"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.BlobDir == "" {
		return fmt.Errorf("BLOB_DIR cannot be empty")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("CONTACT_SESSION_TTL must be > 0")
	}
	if c.MessagePageSize <= 0 {
		return fmt.Errorf("MESSAGE_PAGE_SIZE must be > 0")
	}
	if c.Directory.BaseURL == "" {
		return fmt.Errorf("DIRECTORY_URL cannot be empty")
	}
	return nil
}

func splitOrigins(s string) []string {
	parts := strings.Split(s, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			origins = append(origins, p)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}
