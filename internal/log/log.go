// Package log provides structured, colored logging for the chain-state engine.
package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/jrick/logrotate/rotator"
	"github.com/rs/zerolog"
)

// Logger is the global logger instance.
var Logger zerolog.Logger

// Component loggers for different parts of the system.
var (
	Chain   zerolog.Logger
	Storage zerolog.Logger
	UTXO    zerolog.Logger
	Stats   zerolog.Logger
	Notify  zerolog.Logger
	Node    zerolog.Logger
)

// Rotation defaults for file output.
const (
	DefaultMaxSizeKB = 10 * 1024
	DefaultMaxRolls  = 3
)

// fileWriter is the active rotating log file, if any.
var fileWriter io.WriteCloser

func init() {
	// Default to colored console output
	Logger = NewConsoleLogger(os.Stdout, "info")
	initComponentLoggers()
}

// Options configures Init.
type Options struct {
	Level string
	JSON  bool
	// Console receives console output. Nil means os.Stdout.
	Console io.Writer
	// File enables a rotating JSON log file in addition to the console.
	File      string
	MaxSizeKB int64
	MaxRolls  int
}

// Init initializes the logger with the given configuration.
// When File is non-empty, logs are written to both the console (colored or
// JSON depending on JSON) and a rotated file (always JSON for machine parsing).
func Init(opts Options) error {
	console := opts.Console
	if console == nil {
		console = os.Stdout
	}
	var consoleWriter io.Writer
	if opts.JSON {
		consoleWriter = console
	} else {
		consoleWriter = zerolog.ConsoleWriter{
			Out:        console,
			TimeFormat: "15:04:05",
		}
	}

	out := consoleWriter
	if opts.File != "" {
		r, err := newRotator(opts.File, opts.MaxSizeKB, opts.MaxRolls)
		if err != nil {
			return err
		}
		if fileWriter != nil {
			_ = fileWriter.Close()
		}
		fileWriter = r
		out = zerolog.MultiLevelWriter(consoleWriter, r)
	}

	Logger = zerolog.New(out).
		Level(parseLevel(opts.Level)).
		With().
		Timestamp().
		Logger()

	initComponentLoggers()
	return nil
}

// Close flushes and closes the rotating log file, if one is open.
func Close() error {
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	return err
}

func newRotator(file string, maxSizeKB int64, maxRolls int) (*rotator.Rotator, error) {
	if maxSizeKB <= 0 {
		maxSizeKB = DefaultMaxSizeKB
	}
	if maxRolls <= 0 {
		maxRolls = DefaultMaxRolls
	}
	if dir := filepath.Dir(file); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
	}
	r, err := rotator.New(file, maxSizeKB, false, maxRolls)
	if err != nil {
		return nil, fmt.Errorf("create file rotator: %w", err)
	}
	return r, nil
}

// NewConsoleLogger creates a colored console logger.
func NewConsoleLogger(w io.Writer, level string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: "15:04:05",
		NoColor:    false,
	}

	lvl := parseLevel(level)
	return zerolog.New(output).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// NewJSONLogger creates a structured JSON logger.
func NewJSONLogger(w io.Writer, level string) zerolog.Logger {
	lvl := parseLevel(level)
	return zerolog.New(w).
		Level(lvl).
		With().
		Timestamp().
		Logger()
}

// parseLevel converts a string level to zerolog.Level.
func parseLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled", "off":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// ValidLevel reports whether level names a supported log level.
func ValidLevel(level string) bool {
	switch level {
	case "trace", "debug", "info", "warn", "error", "disabled", "off":
		return true
	}
	return false
}

// initComponentLoggers initializes loggers for each component.
func initComponentLoggers() {
	Chain = Logger.With().Str("component", "chain").Logger()
	Storage = Logger.With().Str("component", "storage").Logger()
	UTXO = Logger.With().Str("component", "utxo").Logger()
	Stats = Logger.With().Str("component", "blockstats").Logger()
	Notify = Logger.With().Str("component", "tipnotify").Logger()
	Node = Logger.With().Str("component", "node").Logger()
}

// WithComponent returns a logger with a component field.
func WithComponent(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}

// Benchmark helper for timing operations.
func Benchmark(name string) func() {
	start := time.Now()
	return func() {
		Logger.Debug().
			Str("operation", name).
			Dur("duration", time.Since(start)).
			Msg("benchmark")
	}
}
