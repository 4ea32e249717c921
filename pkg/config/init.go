package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// InitConfig writes a commented default configuration file to the default
// location, creating the configuration directory if needed.
//
// Returns the path of the written file. Fails if a config file already
// exists unless force is true.
func InitConfig(force bool) (string, error) {
	configPath := GetDefaultConfigPath()
	if err := InitConfigToPath(configPath, force); err != nil {
		return "", err
	}
	return configPath, nil
}

// InitConfigToPath writes a commented default configuration file to an
// explicit path, creating parent directories if needed.
func InitConfigToPath(configPath string, force bool) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", configPath)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// yamlConfig mirrors Config for file generation, with durations rendered in
// their human form ("2s") instead of nanosecond integers.
type yamlConfig struct {
	Logging LoggingConfig  `yaml:"logging"`
	Sync    yamlSyncConfig `yaml:"sync"`
	Store   StoreConfig    `yaml:"store"`
	Engine  EngineConfig   `yaml:"engine"`
}

type yamlSyncConfig struct {
	Debounce            string `yaml:"debounce"`
	StopTimeout         string `yaml:"stop_timeout"`
	DisableDefaultRules bool   `yaml:"disable_default_rules"`
}

// sectionComments maps top-level YAML keys to the comment block emitted
// above them in generated config files.
var sectionComments = map[string]string{
	"logging": "Log output behavior",
	"sync":    "Synchronization timing: the debounce window coalesces bursts of\nlocal edits into a single republish",
	"store":   "Share store: where share records (secrets, paths, filter rules)\nare persisted across restarts",
	"engine":  "Distribution engine used to move share content between peers",
}

// generateYAMLWithComments renders a Config as YAML with a file header and
// a short comment above each top-level section.
func generateYAMLWithComments(cfg *Config) (string, error) {
	out := yamlConfig{
		Logging: cfg.Logging,
		Sync: yamlSyncConfig{
			Debounce:            cfg.Sync.Debounce.String(),
			StopTimeout:         cfg.Sync.StopTimeout.String(),
			DisableDefaultRules: cfg.Sync.DisableDefaultRules,
		},
		Store:  cfg.Store,
		Engine: cfg.Engine,
	}

	raw, err := yaml.Marshal(&out)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("# swarmsync Configuration File\n")
	b.WriteString("#\n")
	b.WriteString("# Environment variables with the SWARMSYNC_ prefix override any value\n")
	b.WriteString("# in this file, e.g. SWARMSYNC_LOGGING_LEVEL=DEBUG.\n")

	for _, line := range strings.Split(strings.TrimRight(string(raw), "\n"), "\n") {
		key, isSection := topLevelKey(line)
		if isSection {
			if comment, ok := sectionComments[key]; ok {
				b.WriteString("\n")
				for _, c := range strings.Split(comment, "\n") {
					b.WriteString("# " + c + "\n")
				}
			}
		}
		b.WriteString(line + "\n")
	}

	return b.String(), nil
}

// topLevelKey reports the key of an unindented "key:" YAML line.
func topLevelKey(line string) (string, bool) {
	if line == "" || line[0] == ' ' || line[0] == '#' {
		return "", false
	}
	idx := strings.IndexByte(line, ':')
	if idx <= 0 {
		return "", false
	}
	return line[:idx], true
}
