package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; flags are
// applied by the caller on the returned struct.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	d := DefaultConfig()
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.request_timeout", d.Server.RequestTimeout.String())
	v.SetDefault("server.max_batch_size", d.Server.MaxBatchSize)
	v.SetDefault("http.host", d.HTTP.Host)
	v.SetDefault("http.port", d.HTTP.Port)
	v.SetDefault("database.url", d.Database.URL)
	v.SetDefault("cache.size", d.Cache.Size)
	v.SetDefault("catalogue.path", d.Catalogue.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)

	// RF_SERVER_PORT, RF_DATABASE_URL, ...
	v.SetEnvPrefix("RF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := validateNoSecretsInConfig(v); err != nil {
			return nil, err
		}
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			RequestTimeout: v.GetDuration("server.request_timeout"),
			MaxBatchSize:   v.GetInt("server.max_batch_size"),
		},
		HTTP: HTTPConfig{
			Host: v.GetString("http.host"),
			Port: v.GetInt("http.port"),
		},
		Database:  DatabaseConfig{URL: v.GetString("database.url")},
		Cache:     CacheConfig{Size: v.GetInt("cache.size")},
		Catalogue: CatalogueConfig{Path: v.GetString("catalogue.path")},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks port ranges and positive limits.
func Validate(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be between 0 and 65535, got %d", cfg.HTTP.Port)
	}
	if cfg.Server.RequestTimeout <= 0 {
		return fmt.Errorf("server.request_timeout must be positive, got %v", cfg.Server.RequestTimeout)
	}
	if cfg.Server.MaxBatchSize <= 0 {
		return fmt.Errorf("server.max_batch_size must be positive, got %d", cfg.Server.MaxBatchSize)
	}
	if cfg.Cache.Size <= 0 {
		return fmt.Errorf("cache.size must be positive, got %d", cfg.Cache.Size)
	}
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	return nil
}

// validateNoSecretsInConfig keeps API key secrets environment-only.
func validateNoSecretsInConfig(v *viper.Viper) error {
	if v.InConfig("hmac_secret") || v.InConfig("server.hmac_secret") {
		return fmt.Errorf("HMAC secrets not allowed in config files (use RF_HMAC_SECRET environment variable)")
	}
	return nil
}
