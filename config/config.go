package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
// Values are loaded by Viper from a config file and/or environment variables.
type Config struct {
	DatabasePath     string `mapstructure:"DATABASE_PATH"`
	ArtifactDir      string `mapstructure:"ARTIFACT_DIR"`
	NotifyWebhookURL string `mapstructure:"NOTIFY_WEBHOOK_URL"`
	NotifyBuffer     int    `mapstructure:"NOTIFY_BUFFER"`
	CacheSize        int    `mapstructure:"CACHE_SIZE"`
	CascadeLimit     int    `mapstructure:"CASCADE_LIMIT"`
	BulkConcurrency  int    `mapstructure:"BULK_CONCURRENCY"`
	LogFile          string `mapstructure:"LOG_FILE"`
	Actor            string `mapstructure:"ACTOR"` // default acting user for CLI commands

	ConfigFileUsed string `mapstructure:"-"` // empty when only the environment was read
}

const (
	DefaultDatabasePath    = "catalog.db"
	DefaultArtifactDir     = "artifacts"
	DefaultLogFile         = "modcatalog.log"
	DefaultNotifyBuffer    = 256
	DefaultCacheSize       = 4096
	DefaultCascadeLimit    = 10000
	DefaultBulkConcurrency = 4
)

var envKeys = []string{
	"DATABASE_PATH",
	"ARTIFACT_DIR",
	"NOTIFY_WEBHOOK_URL",
	"NOTIFY_BUFFER",
	"CACHE_SIZE",
	"CASCADE_LIMIT",
	"BULK_CONCURRENCY",
	"LOG_FILE",
	"ACTOR",
}

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(path string) (config Config, err error) {
	v := viper.New()
	v.AddConfigPath(path)   // Path to look for the config file in
	v.SetConfigName(".env") // Name of config file (without extension)
	v.SetConfigType("env")  // REQUIRED if the config file does not have the extension in the name

	if vipErr := v.ReadInConfig(); vipErr != nil {
		if _, ok := vipErr.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("fatal error config file: %w", vipErr)
		}
	} else {
		config.ConfigFileUsed = v.ConfigFileUsed()
	}

	v.AutomaticEnv()
	for _, key := range envKeys {
		if vipErr := v.BindEnv(key); vipErr != nil {
			return Config{}, fmt.Errorf("unable to bind %s env var: %w", key, vipErr)
		}
	}

	if vipErr := v.Unmarshal(&config); vipErr != nil {
		return Config{}, fmt.Errorf("unable to decode into struct, %w", vipErr)
	}

	processConfigDefaults(&config)
	if err := validateAndEnsureDirectories(&config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// processConfigDefaults fills every unset value with its default.
func processConfigDefaults(cfg *Config) {
	if cfg.DatabasePath == "" {
		cfg.DatabasePath = DefaultDatabasePath
	}
	if cfg.ArtifactDir == "" {
		cfg.ArtifactDir = DefaultArtifactDir
	}
	if cfg.LogFile == "" {
		cfg.LogFile = DefaultLogFile
	}
	if cfg.NotifyBuffer == 0 {
		cfg.NotifyBuffer = DefaultNotifyBuffer
	}
	if cfg.CacheSize == 0 {
		cfg.CacheSize = DefaultCacheSize
	}
	if cfg.CascadeLimit == 0 {
		cfg.CascadeLimit = DefaultCascadeLimit
	}
	if cfg.BulkConcurrency == 0 {
		cfg.BulkConcurrency = DefaultBulkConcurrency
	}
}

// validateAndEnsureDirectories rejects impossible values and creates the
// directories the database and the artifact store write into.
func validateAndEnsureDirectories(cfg *Config) error {
	for name, n := range map[string]int{
		"NOTIFY_BUFFER":    cfg.NotifyBuffer,
		"CACHE_SIZE":       cfg.CacheSize,
		"CASCADE_LIMIT":    cfg.CascadeLimit,
		"BULK_CONCURRENCY": cfg.BulkConcurrency,
	} {
		if n <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, n)
		}
	}

	if cfg.NotifyWebhookURL != "" {
		u, err := url.Parse(cfg.NotifyWebhookURL)
		if err != nil {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL is invalid: %w", err)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return fmt.Errorf("NOTIFY_WEBHOOK_URL must be http or https, got %q", u.Scheme)
		}
	}

	if cfg.DatabasePath == "" {
		return fmt.Errorf("DATABASE_PATH is required")
	}
	for _, dir := range []string{filepath.Dir(cfg.DatabasePath), cfg.ArtifactDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory '%s': %w", dir, err)
		}
	}
	return nil
}
