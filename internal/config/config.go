package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds the service configuration. Values come from an optional YAML
// file (READMARK_CONFIG) with environment variables taking precedence.
type Config struct {
	Port string `yaml:"port"`

	// Highlight store: "local" uses SQLite at DBPath, "remote" talks to a
	// backend highlight service.
	StoreMode    string `yaml:"store_mode"`
	DBPath       string `yaml:"db_path"`
	RemoteURL    string `yaml:"remote_url"`
	RemoteAPIKey string `yaml:"remote_api_key"`

	// Auth for this service's own API.
	APIKey string `yaml:"api_key"`

	// Upload limits.
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// PDF extraction.
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext"`
}

// Load builds the configuration from the optional YAML file and the
// environment.
func Load() Config {
	cfg := Config{
		Port:                 "8090",
		StoreMode:            "local",
		DBPath:               "readmark.db",
		MaxUploadBytes:       52428800, // 50MB
		PDFFallbackPdftotext: true,
	}

	if path := os.Getenv("READMARK_CONFIG"); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(data, &cfg)
		}
	}

	cfg.Port = envOr("PORT", cfg.Port)
	cfg.StoreMode = envOr("STORE_MODE", cfg.StoreMode)
	cfg.DBPath = envOr("DB_PATH", cfg.DBPath)
	cfg.RemoteURL = envOr("REMOTE_STORE_URL", cfg.RemoteURL)
	cfg.RemoteAPIKey = envOr("REMOTE_STORE_API_KEY", cfg.RemoteAPIKey)
	cfg.APIKey = envOr("READMARK_API_KEY", cfg.APIKey)
	cfg.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", cfg.MaxUploadBytes)
	cfg.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", cfg.PDFFallbackPdftotext)

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}

	return cfg
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("READMARK_API_KEY is required")
	}
	switch c.StoreMode {
	case "local":
		if c.DBPath == "" {
			return fmt.Errorf("DB_PATH is required in local store mode")
		}
	case "remote":
		if c.RemoteURL == "" {
			return fmt.Errorf("REMOTE_STORE_URL is required in remote store mode")
		}
	default:
		return fmt.Errorf("STORE_MODE must be local or remote, got %q", c.StoreMode)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
