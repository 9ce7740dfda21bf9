package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the workspace-relative location of the config file.
const DefaultPath = ".fibhost/config.yaml"

// Config holds all fibhost configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// Embedded Go script engine
	Script ScriptConfig `yaml:"script"`

	// WebAssembly host
	Wasm WasmConfig `yaml:"wasm"`

	// Invocation journal
	Store StoreConfig `yaml:"store"`

	// SVG page runtime
	Document DocumentConfig `yaml:"document"`

	Logging LoggingConfig `yaml:"logging"`
}

// ScriptConfig configures the yaegi script engine.
type ScriptConfig struct {
	// Import path under which bindings are published to scripts
	ImportPath string `yaml:"import_path"`

	// Stdlib packages scripts may import
	AllowedPackages []string `yaml:"allowed_packages"`

	Timeout string `yaml:"timeout"`
}

// WasmConfig configures the wasm host.
type WasmConfig struct {
	// Path to a .wasm guest. Empty means the built-in reference module.
	ModulePath string `yaml:"module_path"`

	// Export called when none is given
	Export string `yaml:"export"`

	// Guest memory cap in 64KiB pages (0 = runtime default)
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	CallTimeout string `yaml:"call_timeout"`
}

// StoreConfig configures the invocation journal.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// DocumentConfig configures page execution.
type DocumentConfig struct {
	// Languages run by ExecuteAll, in order
	Languages []string `yaml:"languages"`

	// Debounce window for the file watcher
	WatchDebounce string `yaml:"watch_debounce"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "fibhost",
		Version: "0.3.0",

		Script: ScriptConfig{
			ImportPath: "fibhost/bindings",
			AllowedPackages: []string{
				"strings", "strconv", "fmt", "math", "math/big", "regexp",
				"encoding/json", "encoding/base64", "time", "sort", "bytes",
				"errors", "unicode",
			},
			Timeout: "5s",
		},

		Wasm: WasmConfig{
			Export:           "fibonacci",
			MemoryLimitPages: 256,
			CallTimeout:      "30s",
		},

		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: ".fibhost/journal.db",
		},

		Document: DocumentConfig{
			Languages:     []string{"go", "wasm"},
			WatchDebounce: "300ms",
		},

		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("FIBHOST_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if path := os.Getenv("FIBHOST_DB"); path != "" {
		c.Store.DatabasePath = path
	}
	if v := os.Getenv("FIBHOST_JOURNAL"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.Store.Enabled = enabled
		}
	}
	if path := os.Getenv("FIBHOST_WASM_MODULE"); path != "" {
		c.Wasm.ModulePath = path
	}
	if d := os.Getenv("FIBHOST_SCRIPT_TIMEOUT"); d != "" {
		c.Script.Timeout = d
	}
}

// GetScriptTimeout returns the script timeout as a duration.
func (c *Config) GetScriptTimeout() time.Duration {
	return parseDuration(c.Script.Timeout, 5*time.Second)
}

// GetWasmCallTimeout returns the wasm call timeout as a duration.
func (c *Config) GetWasmCallTimeout() time.Duration {
	return parseDuration(c.Wasm.CallTimeout, 30*time.Second)
}

// GetWatchDebounce returns the watcher debounce window.
func (c *Config) GetWatchDebounce() time.Duration {
	return parseDuration(c.Document.WatchDebounce, 300*time.Millisecond)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// ValidLanguages lists the script languages a page may contain.
var ValidLanguages = []string{"go", "wasm"}

// ValidLogLevels lists the accepted logging levels.
var ValidLogLevels = []string{"debug", "info", "warn", "error"}

// Validate validates the configuration. A relative wasm module path is
// checked against workspace, the same base the commands resolve it with.
func (c *Config) Validate(workspace string) error {
	if !contains(ValidLogLevels, c.Logging.Level) {
		return fmt.Errorf("invalid log level: %s (valid: %v)", c.Logging.Level, ValidLogLevels)
	}
	if c.Logging.Format != "" && c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Logging.Format)
	}
	for _, lang := range c.Document.Languages {
		if !contains(ValidLanguages, lang) {
			return fmt.Errorf("invalid document language: %s (valid: %v)", lang, ValidLanguages)
		}
	}
	if c.Script.ImportPath == "" {
		return fmt.Errorf("script import path must not be empty")
	}
	if c.Store.Enabled && c.Store.DatabasePath == "" {
		return fmt.Errorf("journal enabled but no database path configured (set FIBHOST_DB)")
	}
	if c.Wasm.ModulePath != "" {
		modulePath := c.Wasm.ModulePath
		if !filepath.IsAbs(modulePath) && workspace != "" {
			modulePath = filepath.Join(workspace, modulePath)
		}
		if _, err := os.Stat(modulePath); err != nil {
			return fmt.Errorf("wasm module not readable: %w", err)
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
