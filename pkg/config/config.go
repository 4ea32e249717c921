package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete swarmsync configuration.
//
// This structure captures all configurable aspects of the daemon including:
//   - Logging configuration
//   - Synchronization timing (debounce window, engine stop timeout)
//   - Share store selection and configuration (store-specific)
//   - Distribution engine selection
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (SWARMSYNC_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Store Configuration Pattern:
// Each store implementation defines its own configuration shape. The Config
// struct contains type-specific sections (e.g. store.badger, store.s3) and
// only the section matching the selected type is used.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Sync contains synchronization timing settings
	Sync SyncConfig `mapstructure:"sync" yaml:"sync"`

	// Store specifies the share store type and type-specific configuration
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Engine specifies the distribution engine
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// SyncConfig contains synchronization timing settings.
type SyncConfig struct {
	// Debounce is the quiet period after the last local filesystem event
	// before a share's content is republished
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce" validate:"required,gt=0"`

	// StopTimeout bounds engine stop calls during share removal and resync
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout" validate:"required,gt=0"`

	// DisableDefaultRules skips the built-in exclusion rules (VCS metadata,
	// editor swap files) when compiling each share's filter
	DisableDefaultRules bool `mapstructure:"disable_default_rules" yaml:"disable_default_rules"`
}

// StoreConfig specifies share store configuration.
//
// The Type field determines which store implementation is used.
// Only the corresponding type-specific configuration section is used.
type StoreConfig struct {
	// Type specifies which share store implementation to use
	// Valid values: memory, badger, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger s3"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`

	// S3 contains S3-specific configuration
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// EngineConfig specifies the distribution engine.
type EngineConfig struct {
	// Type specifies which engine implementation to use
	// Valid values: local
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=local"`

	// Local contains local-engine configuration
	// Only used when Type = "local"
	Local map[string]any `mapstructure:"local" yaml:"local"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (SWARMSYNC_*)
//  2. Configuration file
//  3. Default values
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: Configuration loading or validation error
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the SWARMSYNC_ prefix and underscores
	// Example: SWARMSYNC_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("SWARMSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Default location: $XDG_CONFIG_HOME/swarmsync/config.yaml
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found is acceptable, defaults apply
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "swarmsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "swarmsync")
}

// getDataDir returns the default data directory, used for the badger store
// when no db_path is configured.
//
// Uses XDG_DATA_HOME if set, otherwise ~/.local/share.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "swarmsync")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share", "swarmsync")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
