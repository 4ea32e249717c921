package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Store-specific defaults are handled by store implementations
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applySyncDefaults(&cfg.Sync)
	applyStoreDefaults(&cfg.Store)
	applyEngineDefaults(&cfg.Engine)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applySyncDefaults sets synchronization timing defaults.
func applySyncDefaults(cfg *SyncConfig) {
	if cfg.Debounce == 0 {
		cfg.Debounce = 2 * time.Second
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 5 * time.Second
	}
}

// applyStoreDefaults sets share store defaults.
func applyStoreDefaults(cfg *StoreConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	// Initialize maps if nil
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	// Apply defaults for all store types (for config file generation)
	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = filepath.Join(getDataDir(), "shares")
	}
}

// applyEngineDefaults sets engine defaults.
func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.Type == "" {
		cfg.Type = "local"
	}

	if cfg.Local == nil {
		cfg.Local = make(map[string]any)
	}
	// download_limit is bytes per second, 0 = unlimited
	if _, ok := cfg.Local["download_limit"]; !ok {
		cfg.Local["download_limit"] = uint64(0)
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Store: StoreConfig{
			Badger: make(map[string]any),
			S3:     make(map[string]any),
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
