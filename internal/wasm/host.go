// Package wasm hosts WebAssembly modules that export integer functions,
// such as the fibonacci guest in cmd/fibonacci-wasm.
package wasm

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"
)

// DefaultExport is the function name hosts call when none is given.
const DefaultExport = "fibonacci"

var (
	ErrExportNotFound  = errors.New("export not found")
	ErrExportSignature = errors.New("export must have signature (i32) -> i32")
	ErrClosed          = errors.New("host closed")
)

// Config tunes the wasm runtime.
type Config struct {
	// MemoryLimitPages caps guest memory in 64KiB pages. Zero keeps the
	// wazero default.
	MemoryLimitPages uint32
	// StartFunctions run after instantiation. Missing ones are skipped.
	// Defaults to "_initialize", the entry point of Go c-shared reactors.
	StartFunctions []string
	Logger         *zap.Logger
}

// Host owns one wazero runtime and one instantiated guest module.
// Calls are serialized because a module instance is not goroutine safe.
type Host struct {
	mu      sync.Mutex
	runtime wazero.Runtime
	module  api.Module
	exports []string
	logger  *zap.Logger
	closed  bool
}

// NewHost compiles and instantiates code. A nil or empty code uses
// ReferenceModule.
func NewHost(ctx context.Context, code []byte, cfg Config) (*Host, error) {
	if len(code) == 0 {
		code = ReferenceModule
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	starts := cfg.StartFunctions
	if len(starts) == 0 {
		starts = []string{"_initialize"}
	}

	rc := wazero.NewRuntimeConfig().WithCloseOnContextDone(true)
	if cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	r := wazero.NewRuntimeWithConfig(ctx, rc)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	compiled, err := r.CompileModule(ctx, code)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to compile module: %w", err)
	}

	exports := make([]string, 0, len(compiled.ExportedFunctions()))
	for name := range compiled.ExportedFunctions() {
		exports = append(exports, name)
	}
	sort.Strings(exports)

	mod, err := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithStartFunctions(starts...))
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	logger.Debug("Instantiated wasm module", zap.Strings("exports", exports), zap.Int("bytes", len(code)))

	return &Host{
		runtime: r,
		module:  mod,
		exports: exports,
		logger:  logger,
	}, nil
}

// Exports lists the exported function names, sorted.
func (h *Host) Exports() []string {
	return append([]string(nil), h.exports...)
}

// Call invokes an exported (i32) -> i32 function.
//
// Traps in the guest, including call stack exhaustion, come back as errors.
func (h *Host) Call(ctx context.Context, export string, n int32) (int32, error) {
	if export == "" {
		export = DefaultExport
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return 0, ErrClosed
	}

	fn := h.module.ExportedFunction(export)
	if fn == nil {
		return 0, fmt.Errorf("%w: %s (available: %v)", ErrExportNotFound, export, h.exports)
	}
	def := fn.Definition()
	params, results := def.ParamTypes(), def.ResultTypes()
	if len(params) != 1 || len(results) != 1 || params[0] != api.ValueTypeI32 || results[0] != api.ValueTypeI32 {
		return 0, fmt.Errorf("%w: %s has %s", ErrExportSignature, export, signature(params, results))
	}

	out, err := fn.Call(ctx, api.EncodeI32(n))
	if err != nil {
		h.logger.Debug("wasm call failed", zap.String("export", export), zap.Int32("n", n), zap.Error(err))
		return 0, fmt.Errorf("wasm call %s(%d) failed: %w", export, n, err)
	}
	return api.DecodeI32(out[0]), nil
}

// Close releases the runtime and every module in it.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	return h.runtime.Close(ctx)
}

func signature(params, results []api.ValueType) string {
	names := func(ts []api.ValueType) []string {
		out := make([]string, len(ts))
		for i, t := range ts {
			out[i] = api.ValueTypeName(t)
		}
		return out
	}
	return fmt.Sprintf("%v -> %v", names(params), names(results))
}
