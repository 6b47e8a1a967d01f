// Package config handles skinning configuration loading and management.
package config

import "time"

// Config holds all settings.
type Config struct {
	Skinning   SkinningConfig   `yaml:"skinning"`
	Simulation SimulationConfig `yaml:"simulation"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// SkinningConfig holds binding pipeline settings.
type SkinningConfig struct {
	Workers          int  `yaml:"workers"`           // 0 uses GOMAXPROCS
	MaxRedirects     int  `yaml:"max_redirects"`     // Redirect links followed per target
	ParallelBindings bool `yaml:"parallel_bindings"` // Apply skeleton batches concurrently
	MinPartition     int  `yaml:"min_partition"`     // Minimum records per discover worker
	Validate         bool `yaml:"validate"`          // Cross-check tables after every tick
}

// SimulationConfig drives the skintool churn simulation.
type SimulationConfig struct {
	Ticks        int           `yaml:"ticks"`
	Seed         int64         `yaml:"seed"`
	Skeletons    int           `yaml:"skeletons"`
	Meshes       int           `yaml:"meshes"`
	Bones        int           `yaml:"bones"`        // Bones per generated skeleton
	ChurnRate    float32       `yaml:"churn_rate"`   // Fraction of meshes changed per tick
	CullingRate  float32       `yaml:"culling_rate"` // Fraction of skeletons exposed to culling
	TickInterval time.Duration `yaml:"tick_interval"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"` // console or json, for the log file
	Quiet      bool   `yaml:"quiet"`  // Suppress console output
	LogFile    string `yaml:"log_file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		Skinning: SkinningConfig{
			Workers:          0,
			MaxRedirects:     999,
			ParallelBindings: true,
			MinPartition:     64,
			Validate:         false,
		},
		Simulation: SimulationConfig{
			Ticks:        100,
			Seed:         1,
			Skeletons:    32,
			Meshes:       512,
			Bones:        24,
			ChurnRate:    0.05,
			CullingRate:  0.5,
			TickInterval: 0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			LogFile:    "",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}
