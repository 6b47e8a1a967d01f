// skintool is a CLI utility for exercising the skinning bookkeeping.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/Faultbox/midgard-skin/internal/config"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/asset"
	"github.com/Faultbox/midgard-skin/internal/engine/skinning/boneoffsets"
	"github.com/Faultbox/midgard-skin/internal/logger"
)

func main() {
	// Parse global flags first
	config.ParseFlags()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(loggerOptions(cfg.Logging)); err != nil {
		fmt.Fprintf(os.Stderr, "Logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	switch command {
	case "simulate", "sim":
		cmdSimulate(cfg, args)
	case "resolve":
		cmdResolve(args)
	case "config":
		cmdConfig(cfg, args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`skintool - skinned mesh binding utility

Usage:
  skintool [global flags] <command> [options]

Global flags:
  -config <path>        Config file
  -debug                Debug logging and per tick validation
  -workers <n>          Skinning worker count
  -max-redirects <n>    Redirect links followed per target
  -validate             Validate skinning tables after every tick
  -ticks <n>            Simulation ticks
  -seed <n>             Simulation random seed

Commands:
  simulate [-v]                         Run random churn and print footprints
  resolve <mesh paths> -- <bone paths>  Match bind paths against a skeleton
  config [-save [path]]                 Print or save the effective configuration

Examples:
  skintool -ticks 500 -workers 4 simulate -v
  skintool resolve Arm/Hand Root -- Root Root/Arm Root/Arm/Hand
  skintool -config skin.yaml config
  skintool -workers 2 config -save`)
}

func loggerOptions(c config.LoggingConfig) logger.Options {
	return logger.Options{
		Level:      c.Level,
		Format:     c.Format,
		Quiet:      c.Quiet,
		File:       c.LogFile,
		MaxSizeMB:  c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAgeDays: c.MaxAgeDays,
		Compress:   c.Compress,
	}
}

func cmdSimulate(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("simulate", flag.ExitOnError)
	verbose := fs.Bool("v", false, "Print a line per tick")
	fs.Parse(args)

	logger.Info("simulation starting",
		zap.Int("ticks", cfg.Simulation.Ticks),
		zap.Int64("seed", cfg.Simulation.Seed),
		zap.Int("workers", cfg.Skinning.Workers))
	sum, err := simulate(cfg, *verbose, os.Stdout)
	if err != nil {
		logger.Error("simulation failed", zap.Error(err))
		os.Exit(1)
	}
	if sum.Failed > 0 {
		logger.Warn("simulation produced failed bindings", zap.Int("failed", sum.Failed))
	}
	sum.print(os.Stdout)
}

func cmdResolve(args []string) {
	sep := -1
	for i, a := range args {
		if a == "--" {
			sep = i
			break
		}
	}
	if sep < 1 || sep == len(args)-1 {
		fmt.Fprintln(os.Stderr, "Usage: skintool resolve <mesh paths> -- <bone paths>")
		os.Exit(1)
	}

	remap, err := resolve(args[:sep], args[sep+1:])
	var noMatch *boneoffsets.NoMatchError
	switch {
	case errors.As(err, &noMatch):
		fmt.Printf("No match for mesh path %d: %s\n", noMatch.Index, asset.FormatPath(noMatch.Path))
		os.Exit(2)
	case err != nil:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	for i, bone := range remap {
		fmt.Printf("  %-24s -> %d (%s)\n", args[i], bone, args[sep+1+int(bone)])
	}
}

// resolve registers the mesh paths against the skeleton paths in a fresh
// bone offset table, the same way a binding would.
func resolve(meshPaths, bonePaths []string) ([]uint16, error) {
	table := boneoffsets.New(logger.Named("resolve"))
	id, err := table.ResolvePaths(asset.NewPathBlob(meshPaths...), asset.NewPathBlob(bonePaths...))
	if err != nil {
		return nil, err
	}
	return table.Indices(id), nil
}

func cmdConfig(cfg *config.Config, args []string) {
	fs := flag.NewFlagSet("config", flag.ExitOnError)
	save := fs.Bool("save", false, "Write the configuration instead of printing it")
	fs.Parse(args)

	if *save {
		path := config.DefaultPath()
		if fs.NArg() > 0 {
			path = fs.Arg(0)
		}
		if err := cfg.SaveTo(path); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		logger.Debug("config saved", zap.String("path", path))
		fmt.Printf("Saved %s\n", path)
		return
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Print(strings.TrimSpace(string(data)) + "\n")
}
