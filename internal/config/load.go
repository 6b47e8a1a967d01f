package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"
)

// Load loads configuration with priority: defaults < file < flags.
func Load() (*Config, error) {
	// Start with defaults
	cfg := Default()

	// Try to load from file (explicit path takes priority)
	configPath := ConfigPath()
	if configPath == "" {
		configPath = findConfigFile()
	}

	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
		}
	}

	// Apply CLI flags (highest priority)
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the skinning pipeline cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Skinning.Workers < 0:
		return fmt.Errorf("skinning.workers must not be negative, got %d", c.Skinning.Workers)
	case c.Skinning.MaxRedirects < 1:
		return fmt.Errorf("skinning.max_redirects must be at least 1, got %d", c.Skinning.MaxRedirects)
	case c.Skinning.MinPartition < 1:
		return fmt.Errorf("skinning.min_partition must be at least 1, got %d", c.Skinning.MinPartition)
	case c.Simulation.ChurnRate < 0 || c.Simulation.ChurnRate > 1:
		return fmt.Errorf("simulation.churn_rate must be within [0, 1], got %g", c.Simulation.ChurnRate)
	case c.Simulation.CullingRate < 0 || c.Simulation.CullingRate > 1:
		return fmt.Errorf("simulation.culling_rate must be within [0, 1], got %g", c.Simulation.CullingRate)
	case c.Logging.Format != "console" && c.Logging.Format != "json":
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	return nil
}

// findConfigFile looks for config in standard locations.
func findConfigFile() string {
	candidates := []string{
		"./config.yaml",
		DefaultPath(),
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// ConfigDir returns the OS-appropriate config directory.
func ConfigDir() string {
	switch runtime.GOOS {
	case "darwin":
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", "MidgardSkin")
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "MidgardSkin")
	default: // Linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "midgard-skin")
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "midgard-skin")
	}
}

// loadFromFile loads config from a YAML file, merging with existing values.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}
