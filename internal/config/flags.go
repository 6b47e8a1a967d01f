package config

import "flag"

var (
	flagConfig       = flag.String("config", "", "Path to config file")
	flagDebug        = flag.Bool("debug", false, "Enable debug logging")
	flagWorkers      = flag.Int("workers", 0, "Skinning worker count")
	flagMaxRedirects = flag.Int("max-redirects", 0, "Redirect links followed per target")
	flagValidate     = flag.Bool("validate", false, "Validate skinning tables after every tick")
	flagTicks        = flag.Int("ticks", 0, "Simulation ticks")
	flagSeed         = flag.Int64("seed", 0, "Simulation random seed")
)

// ParseFlags parses command-line flags. Call this early in main().
func ParseFlags() {
	flag.Parse()
}

// ConfigPath returns the explicit config path if provided via --config flag.
func ConfigPath() string {
	return *flagConfig
}

// applyFlags applies CLI flag overrides to the config.
func applyFlags(cfg *Config) {
	if *flagDebug {
		cfg.Logging.Level = "debug"
		cfg.Skinning.Validate = true
	}
	if *flagWorkers > 0 {
		cfg.Skinning.Workers = *flagWorkers
	}
	if *flagMaxRedirects > 0 {
		cfg.Skinning.MaxRedirects = *flagMaxRedirects
	}
	if *flagValidate {
		cfg.Skinning.Validate = true
	}
	if *flagTicks > 0 {
		cfg.Simulation.Ticks = *flagTicks
	}
	if *flagSeed != 0 {
		cfg.Simulation.Seed = *flagSeed
	}
}
