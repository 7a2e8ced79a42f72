// Package config provides configuration management for the rule filter services.
package config

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"
	"time"
)

// Config is the complete service configuration.
type Config struct {
	Server    ServerConfig
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Cache     CacheConfig
	Catalogue CatalogueConfig
	Log       LogConfig
}

// ServerConfig holds configuration for the gRPC evaluation service.
type ServerConfig struct {
	Host           string
	Port           int
	RequestTimeout time.Duration
	MaxBatchSize   int
}

// HTTPConfig holds configuration for the HTTP surface. Port 0 disables it.
type HTTPConfig struct {
	Host string
	Port int
}

// DatabaseConfig holds the rule store connection.
type DatabaseConfig struct {
	URL string
}

// CacheConfig bounds the compiled predicate cache.
type CacheConfig struct {
	Size int
}

// CatalogueConfig points at a rule descriptor catalogue. An empty path
// selects the built-in catalogue.
type CatalogueConfig struct {
	Path string
}

// LogConfig selects logrus level and formatter.
type LogConfig struct {
	Level  string
	Format string
}

// DefaultConfig returns configuration with default values.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:           "0.0.0.0",
			Port:           50051,
			RequestTimeout: 30 * time.Second,
			MaxBatchSize:   1000,
		},
		HTTP: HTTPConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			URL: "sqlite://rulefilter.db",
		},
		Cache: CacheConfig{
			Size: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// HMACSecrets extracts API key secrets from environment variables.
// Supports RF_HMAC_SECRET (single) and RF_HMAC_SECRET_N (rotation).
// Returns map of secret_id -> decoded secret bytes.
func HMACSecrets() (map[string][]byte, error) {
	secrets := make(map[string][]byte)

	add := func(key, val string) error {
		secretID, decoded, err := ParseHMACSecretWithID(val)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if _, exists := secrets[secretID]; exists {
			return fmt.Errorf("duplicate secret_id '%s' found in environment variables (check RF_HMAC_SECRET and RF_HMAC_SECRET_* for conflicts)", secretID)
		}
		secrets[secretID] = decoded
		return nil
	}

	if val := os.Getenv("RF_HMAC_SECRET"); val != "" {
		if err := add("RF_HMAC_SECRET", val); err != nil {
			return nil, err
		}
	}

	// Numbered secrets keep old and new keys valid during rotation
	for i := 1; ; i++ {
		key := fmt.Sprintf("RF_HMAC_SECRET_%d", i)
		val := os.Getenv(key)
		if val == "" {
			break
		}
		if err := add(key, val); err != nil {
			return nil, err
		}
	}

	return secrets, nil
}

// ParseHMACSecretWithID parses secret_id:base64_secret format.
// Secret ID must be 32 hex chars (UUIDv7 without hyphens).
func ParseHMACSecretWithID(envValue string) (secretID string, secret []byte, err error) {
	parts := strings.SplitN(strings.TrimSpace(envValue), ":", 2)
	if len(parts) != 2 {
		return "", nil, fmt.Errorf("format must be <secret_id>:<base64_secret>")
	}

	secretID = parts[0]
	if len(secretID) != 32 {
		return "", nil, fmt.Errorf("secret_id must be 32 hex chars (UUIDv7 without hyphens)")
	}
	for _, c := range secretID {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			return "", nil, fmt.Errorf("secret_id must be hex chars only")
		}
	}

	secret, err = base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", nil, fmt.Errorf("invalid base64 encoding: %w", err)
	}
	if len(secret) < 32 {
		return "", nil, fmt.Errorf("secret must be at least 32 bytes, got %d", len(secret))
	}

	return secretID, secret, nil
}
