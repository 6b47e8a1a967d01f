// Package logger provides structured logging using zap.
package logger

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is the global logger instance. It discards everything until Init.
var Log = zap.NewNop()

// Options selects where log entries go and how they are encoded.
type Options struct {
	Level  string // debug, info, warn or error
	Format string // console or json; applies to the file sink
	Quiet  bool   // no console output

	File       string // rotated log file, empty for none
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// DefaultOptions returns console logging at info level with the rotation
// limits used when a file is set.
func DefaultOptions() Options {
	return Options{
		Level:      "info",
		Format:     "console",
		MaxSizeMB:  50,
		MaxBackups: 3,
		MaxAgeDays: 7,
		Compress:   true,
	}
}

// Init replaces the global logger.
func Init(opts Options) error {
	lvl, err := zapcore.ParseLevel(opts.Level)
	if err != nil {
		return err
	}

	var cores []zapcore.Core
	if !opts.Quiet {
		enc := encoderConfig()
		enc.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stdout), lvl))
	}
	if opts.File != "" {
		fileEnc, err := newEncoder(opts.Format)
		if err != nil {
			return err
		}
		cores = append(cores, zapcore.NewCore(fileEnc, zapcore.AddSync(rotator(opts)), lvl))
	}

	Log = zap.New(zapcore.NewTee(cores...), zap.AddCaller())
	return nil
}

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:          "time",
		LevelKey:         "level",
		NameKey:          "logger",
		MessageKey:       "msg",
		CallerKey:        "caller",
		EncodeTime:       zapcore.ISO8601TimeEncoder,
		EncodeLevel:      zapcore.CapitalLevelEncoder,
		EncodeCaller:     zapcore.ShortCallerEncoder,
		EncodeDuration:   zapcore.StringDurationEncoder,
		ConsoleSeparator: " ",
	}
}

func newEncoder(format string) (zapcore.Encoder, error) {
	switch format {
	case "", "console":
		return zapcore.NewConsoleEncoder(encoderConfig()), nil
	case "json":
		return zapcore.NewJSONEncoder(encoderConfig()), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

func rotator(opts Options) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   opts.Compress,
		LocalTime:  true,
	}
}

// Named returns a child of the global logger for one component.
func Named(name string) *zap.Logger {
	return Log.Named(name)
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = Log.Sync()
}

// Debug logs a debug message.
func Debug(msg string, fields ...zap.Field) {
	Log.Debug(msg, fields...)
}

// Info logs an info message.
func Info(msg string, fields ...zap.Field) {
	Log.Info(msg, fields...)
}

// Warn logs a warning message.
func Warn(msg string, fields ...zap.Field) {
	Log.Warn(msg, fields...)
}

// Error logs an error message.
func Error(msg string, fields ...zap.Field) {
	Log.Error(msg, fields...)
}
