package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// CONFIG TESTS
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"FIBHOST_LOG_LEVEL", "FIBHOST_DB", "FIBHOST_JOURNAL", "FIBHOST_WASM_MODULE", "FIBHOST_SCRIPT_TIMEOUT"} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "fibhost" {
		t.Errorf("expected Name=fibhost, got %s", cfg.Name)
	}
	if cfg.Wasm.Export != "fibonacci" {
		t.Errorf("expected Export=fibonacci, got %s", cfg.Wasm.Export)
	}
	if err := cfg.Validate(""); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), ".fibhost", "config.yaml")

	cfg := DefaultConfig()
	cfg.Script.Timeout = "2s"
	cfg.Logging.Categories = map[string]bool{"wasm": false}

	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "2s", loaded.Script.Timeout)
	assert.Equal(t, 2*time.Second, loaded.GetScriptTimeout())
	assert.False(t, loaded.Logging.IsCategoryEnabled("wasm"))
	assert.True(t, loaded.Logging.IsCategoryEnabled("script"))
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("script: [unterminated"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("FIBHOST_LOG_LEVEL", "debug")
	t.Setenv("FIBHOST_DB", "/tmp/journal.db")
	t.Setenv("FIBHOST_JOURNAL", "false")
	t.Setenv("FIBHOST_WASM_MODULE", "guest.wasm")
	t.Setenv("FIBHOST_SCRIPT_TIMEOUT", "250ms")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/tmp/journal.db", cfg.Store.DatabasePath)
	assert.False(t, cfg.Store.Enabled)
	assert.Equal(t, "guest.wasm", cfg.Wasm.ModulePath)
	assert.Equal(t, 250*time.Millisecond, cfg.GetScriptTimeout())
}

func TestConfig_DurationFallbacks(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, 5*time.Second, cfg.GetScriptTimeout())
	assert.Equal(t, 30*time.Second, cfg.GetWasmCallTimeout())
	assert.Equal(t, 300*time.Millisecond, cfg.GetWatchDebounce())

	cfg.Wasm.CallTimeout = "-1s"
	assert.Equal(t, 30*time.Second, cfg.GetWasmCallTimeout())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }},
		{"bad language", func(c *Config) { c.Document.Languages = []string{"python"} }},
		{"empty import path", func(c *Config) { c.Script.ImportPath = "" }},
		{"journal without path", func(c *Config) { c.Store.DatabasePath = "" }},
		{"missing module", func(c *Config) { c.Wasm.ModulePath = "/does/not/exist.wasm" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate(t.TempDir()))
		})
	}
}

func TestConfig_ValidateWorkspaceRelativeModule(t *testing.T) {
	workspace := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(workspace, "fib.wasm"), []byte("\x00asm"), 0644))

	cfg := DefaultConfig()
	cfg.Wasm.ModulePath = "fib.wasm"
	assert.NoError(t, cfg.Validate(workspace))

	// The same relative path is missing from another workspace.
	assert.Error(t, cfg.Validate(t.TempDir()))

	cfg.Wasm.ModulePath = filepath.Join(workspace, "fib.wasm")
	assert.NoError(t, cfg.Validate(t.TempDir()))
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	c := LoggingConfig{}
	assert.True(t, c.IsCategoryEnabled("anything"))

	c.Categories = map[string]bool{"store": false, "wasm": true}
	assert.False(t, c.IsCategoryEnabled("store"))
	assert.True(t, c.IsCategoryEnabled("wasm"))
	assert.True(t, c.IsCategoryEnabled("script"))
}
