package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fibhost/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesCategorizedJSON(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "fibhost.log")

	l, err := New(config.LoggingConfig{
		Level:      "debug",
		Format:     "json",
		File:       logFile,
		Categories: map[string]bool{"store": false},
	}, false)
	require.NoError(t, err)

	l.Get(CategoryWasm).Info("module instantiated")
	l.Get(CategoryStore).Info("should not appear")
	l.StartTimer(CategoryScript, "eval").Stop()
	_ = l.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	out := string(data)

	assert.Contains(t, out, `"logger":"wasm"`)
	assert.Contains(t, out, "module instantiated")
	assert.Contains(t, out, `"op":"eval"`)
	assert.NotContains(t, out, "should not appear")
}

func TestNew_LevelFiltering(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "fibhost.log")

	l, err := New(config.LoggingConfig{Level: "warn", Format: "json", File: logFile}, false)
	require.NoError(t, err)

	l.Get(CategoryBinding).Info("quiet")
	l.Get(CategoryBinding).Warn("loud")
	_ = l.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.False(t, strings.Contains(string(data), "quiet"))
	assert.True(t, strings.Contains(string(data), "loud"))
}

func TestNew_VerboseForcesDebug(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "fibhost.log")

	l, err := New(config.LoggingConfig{Level: "error", Format: "json", File: logFile}, true)
	require.NoError(t, err)

	l.Get(CategoryBoot).Debug("debug line")
	_ = l.Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "debug line")
}

func TestNew_InvalidSettings(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "chatty"}, false)
	assert.Error(t, err)

	_, err = New(config.LoggingConfig{Format: "xml"}, false)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	l := Nop()
	assert.NotNil(t, l.Get(CategoryDocument))
	assert.NotNil(t, l.Root())
	assert.NotNil(t, Wrap(nil).Get(CategoryWasm))
}
