package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fibhost/cmd/fibhost/ui"
	"fibhost/internal/config"
	"fibhost/internal/logging"
	"fibhost/internal/store"
	"fibhost/internal/wasm"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTest points the CLI globals at a fresh workspace.
func setupTest(t *testing.T) string {
	t.Helper()
	workspace = t.TempDir()
	configPath = filepath.Join(workspace, config.DefaultPath)
	timeout = time.Minute
	noJournal = false
	cfg = config.DefaultConfig()
	logs = logging.Nop()
	logger = logs.Get(logging.CategoryBoot)
	styles = ui.NewStyles(ui.LightTheme())
	return workspace
}

func captureOutput(t *testing.T, fn func()) string {
	t.Helper()

	origOut := os.Stdout
	origErr := os.Stderr
	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	done := make(chan string)
	go func() {
		var buf bytes.Buffer
		_, _ = io.Copy(&buf, rOut)
		_, _ = io.Copy(&buf, rErr)
		done <- buf.String()
	}()

	fn()

	_ = wOut.Close()
	_ = wErr.Close()
	os.Stdout = origOut
	os.Stderr = origErr
	return <-done
}

// newFlagCmd resets src's flags to their defaults and applies flags.
func newFlagCmd(src *cobra.Command, flags map[string]string) *cobra.Command {
	src.Flags().VisitAll(func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	})
	for k, v := range flags {
		_ = src.Flags().Set(k, v)
	}
	return src
}

func TestEval(t *testing.T) {
	setupTest(t)

	output := captureOutput(t, func() {
		require.NoError(t, runEval(&cobra.Command{}, []string{"10"}))
	})
	assert.Equal(t, "55\n", output)
}

func TestEval_NegativePassesThrough(t *testing.T) {
	setupTest(t)

	output := captureOutput(t, func() {
		require.NoError(t, runEval(&cobra.Command{}, []string{"-3"}))
	})
	assert.Equal(t, "-3\n", output)
}

func TestCall_Errors(t *testing.T) {
	setupTest(t)

	assert.Error(t, runCall(&cobra.Command{}, []string{"lucas", "3"}))
	assert.Error(t, runCall(&cobra.Command{}, []string{"fibonacci"}))
	assert.Error(t, runCall(&cobra.Command{}, []string{"fibonacci", "x"}))
	assert.Error(t, runCall(&cobra.Command{}, []string{"fibonacci", "3000000000"}))
}

func TestTable(t *testing.T) {
	setupTest(t)

	cmd := newFlagCmd(tableCmd, map[string]string{"from": "0", "to": "10", "workers": "3"})
	output := captureOutput(t, func() {
		require.NoError(t, runTable(cmd, nil))
	})
	assert.Contains(t, output, "fibonacci(n)")
	assert.Contains(t, output, "55")
	assert.NotContains(t, output, "wrapped")
}

func TestTable_InvalidRange(t *testing.T) {
	setupTest(t)
	cmd := newFlagCmd(tableCmd, map[string]string{"from": "5", "to": "1"})
	assert.Error(t, runTable(cmd, nil))
}

func TestBindings(t *testing.T) {
	setupTest(t)

	output := captureOutput(t, func() {
		require.NoError(t, runBindings(newFlagCmd(bindingsCmd, nil), nil))
	})
	assert.Contains(t, output, "fibhost/bindings")
	assert.Contains(t, output, "Fibonacci")
	assert.Contains(t, output, "func(int32) int32")
}

func TestScript(t *testing.T) {
	ws := setupTest(t)
	path := filepath.Join(ws, "fib.go")
	require.NoError(t, os.WriteFile(path, []byte(`package main

import (
	"fmt"

	"fibhost/bindings"
)

func main() {
	fmt.Print(bindings.Fibonacci(12))
}
`), 0644))

	output := captureOutput(t, func() {
		require.NoError(t, runScript(&cobra.Command{}, []string{path}))
	})
	assert.Equal(t, "144\n", output)
}

func TestWasm_ReferenceModule(t *testing.T) {
	setupTest(t)

	output := captureOutput(t, func() {
		require.NoError(t, runWasm(newFlagCmd(wasmCmd, nil), []string{"15"}))
	})
	assert.Equal(t, "610\n", output)
}

func TestWasm_ModuleFlag(t *testing.T) {
	ws := setupTest(t)
	path := filepath.Join(ws, "fib.wasm")
	require.NoError(t, os.WriteFile(path, wasm.ReferenceModule, 0644))

	output := captureOutput(t, func() {
		require.NoError(t, runWasm(newFlagCmd(wasmCmd, map[string]string{"module": path}), []string{"6"}))
	})
	assert.Equal(t, "8\n", output)

	assert.Error(t, runWasm(newFlagCmd(wasmCmd, map[string]string{"export": "nope"}), []string{"6"}))
}

func TestRender(t *testing.T) {
	ws := setupTest(t)
	page := filepath.Join(ws, "page.svg")
	out := filepath.Join(ws, "page.html")
	b64 := base64.StdEncoding.EncodeToString(wasm.ReferenceModule)
	require.NoError(t, os.WriteFile(page, []byte(`<svg width="100" height="40">
<script type="text/go"><![CDATA[
import (
	"fmt"

	"fibhost/bindings"
)

func main() { fmt.Print("go:", bindings.Fibonacci(9)) }
]]></script>
<script type="text/wasm" data-args="9">`+b64+`</script>
<script type="text/wasm"></script>
</svg>`), 0644))

	captureOutput(t, func() {
		require.NoError(t, runRender(newFlagCmd(renderCmd, map[string]string{"output": out}), []string{page}))
	})

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	html := string(data)
	assert.Contains(t, html, ">go:34</text>")
	assert.Contains(t, html, ">34</text>")
	assert.Contains(t, html, "Error: No WASM code found")

	journal, err := openJournal()
	require.NoError(t, err)
	defer journal.Close()
	entries, err := journal.Recent(context.Background(), 10)
	require.NoError(t, err)

	var wasmCalls []store.Entry
	for _, e := range entries {
		if e.Source == store.SourceWasm {
			wasmCalls = append(wasmCalls, e)
		}
	}
	require.Len(t, wasmCalls, 1)
	assert.Equal(t, "fibonacci", wasmCalls[0].Name)
	assert.Equal(t, []int64{9}, wasmCalls[0].Args)
	assert.Equal(t, int64(34), wasmCalls[0].Result)
}

func TestRender_BareSVGKeepsSVG(t *testing.T) {
	ws := setupTest(t)
	page := filepath.Join(ws, "page.svg")
	out := filepath.Join(ws, "out.svg")
	b64 := base64.StdEncoding.EncodeToString(wasm.ReferenceModule)
	require.NoError(t, os.WriteFile(page, []byte(`<?xml version="1.0" encoding="UTF-8"?>
<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 200 100">
<script type="text/wasm" data-args="6">`+b64+`</script>
</svg>`), 0644))

	captureOutput(t, func() {
		require.NoError(t, runRender(newFlagCmd(renderCmd, map[string]string{"output": out}), []string{page}))
	})

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	svg := string(data)
	assert.True(t, strings.HasPrefix(svg, `<?xml version="1.0" encoding="UTF-8"?>`), svg)
	assert.Contains(t, svg, ">8</text>")
	assert.NotContains(t, svg, "<html")
}

func TestRender_WatchRequiresOutput(t *testing.T) {
	setupTest(t)
	err := runRender(newFlagCmd(renderCmd, map[string]string{"watch": "true"}), []string{"page.svg"})
	assert.Error(t, err)
}

func TestHistory_RecordsCalls(t *testing.T) {
	setupTest(t)

	captureOutput(t, func() {
		require.NoError(t, runEval(&cobra.Command{}, []string{"7"}))
		require.NoError(t, runWasm(newFlagCmd(wasmCmd, nil), []string{"8"}))
		_ = runCall(&cobra.Command{}, []string{"fibonacci", "1", "2"})
	})

	output := captureOutput(t, func() {
		require.NoError(t, runHistory(newFlagCmd(historyCmd, nil), nil))
	})
	assert.Contains(t, output, "fibonacci(7)")
	assert.Contains(t, output, "13")
	assert.Contains(t, output, "wasm")
	assert.Contains(t, output, "21")
	assert.Contains(t, output, "error: ")
}

func TestHistory_Disabled(t *testing.T) {
	setupTest(t)
	noJournal = true

	output := captureOutput(t, func() {
		require.NoError(t, runHistory(newFlagCmd(historyCmd, nil), nil))
	})
	assert.Contains(t, output, "Journal is disabled")
}

func TestConfigInitAndShow(t *testing.T) {
	setupTest(t)

	output := captureOutput(t, func() {
		require.NoError(t, runConfigInit(&cobra.Command{}, nil))
	})
	assert.Contains(t, output, "Wrote")
	assert.FileExists(t, configPath)

	// A second init refuses to overwrite.
	assert.Error(t, runConfigInit(&cobra.Command{}, nil))

	output = captureOutput(t, func() {
		require.NoError(t, runConfigShow(&cobra.Command{}, nil))
	})
	assert.True(t, strings.Contains(output, "import_path: fibhost/bindings"))
}
