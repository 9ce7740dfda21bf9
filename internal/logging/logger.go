// Package logging builds the categorized zap loggers used across fibhost.
// Each subsystem logs under its own category name; categories can be
// switched off in the logging section of .fibhost/config.yaml.
package logging

import (
	"fmt"
	"time"

	"fibhost/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot     Category = "boot"     // Startup, config loading
	CategoryBinding  Category = "binding"  // Binding export table and calls
	CategoryScript   Category = "script"   // yaegi script engine
	CategoryWasm     Category = "wasm"     // wazero host
	CategoryDocument Category = "document" // SVG page runtime, watcher
	CategoryStore    Category = "store"    // Invocation journal
)

// Logger hands out per-category zap loggers sharing one core.
type Logger struct {
	root *zap.Logger
	cfg  config.LoggingConfig
}

// New builds a Logger from cfg. verbose forces the debug level.
func New(cfg config.LoggingConfig, verbose bool) (*Logger, error) {
	var zc zap.Config
	switch cfg.Format {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.DisableStacktrace = true
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}

	level := cfg.Level
	if level == "" {
		level = "info"
	}
	atomic, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if verbose {
		atomic = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	zc.Level = atomic

	// stdout carries command output; logs go to stderr.
	zc.OutputPaths = []string{"stderr"}
	if cfg.File != "" {
		zc.OutputPaths = append(zc.OutputPaths, cfg.File)
	}

	root, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &Logger{root: root, cfg: cfg}, nil
}

// Wrap uses an existing zap logger with every category enabled.
func Wrap(l *zap.Logger) *Logger {
	if l == nil {
		l = zap.NewNop()
	}
	return &Logger{root: l}
}

// Nop returns a Logger that discards everything.
func Nop() *Logger {
	return Wrap(zap.NewNop())
}

// Root returns the uncategorized logger.
func (l *Logger) Root() *zap.Logger {
	return l.root
}

// Get returns the logger for a category, or a no-op logger if the category
// is disabled.
func (l *Logger) Get(category Category) *zap.Logger {
	if !l.cfg.IsCategoryEnabled(string(category)) {
		return zap.NewNop()
	}
	return l.root.Named(string(category))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.root.Sync()
}

// Timer logs the duration of an operation at debug level.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer starts timing op under category.
func (l *Logger) StartTimer(category Category, op string) *Timer {
	return &Timer{logger: l.Get(category), op: op, start: time.Now()}
}

// Stop logs the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug("Timing", zap.String("op", t.op), zap.Duration("elapsed", elapsed))
	return elapsed
}
