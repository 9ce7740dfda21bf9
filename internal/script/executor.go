// Package script runs Go source through the yaegi interpreter with the
// binding exports available as a regular import.
package script

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"fibhost/internal/binding"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"
)

// =============================================================================
// YAEGI SCRIPT EXECUTOR
// =============================================================================
// Scripts are interpreted, never compiled. Restrictions:
// - Only whitelisted stdlib imports plus the binding import path
// - Script stdout is captured per run
// - Timeout enforcement via context

var (
	ErrForbiddenImport = errors.New("forbidden import")
	ErrEntryPoint      = errors.New("entry point not found")
	ErrEntrySignature  = errors.New("entry point has incorrect signature")
)

// DefaultAllowedPackages is the stdlib whitelist used when no other is given.
var DefaultAllowedPackages = []string{
	"strings",
	"strconv",
	"fmt",
	"math",
	"math/big",
	"regexp",
	"encoding/json",
	"encoding/base64",
	"time",
	"sort",
	"bytes",
	"errors",
	"unicode",

	// EXPLICITLY BLOCKED:
	// "os", "os/exec", "net", "net/http", "syscall", "unsafe"
}

// Executor evaluates Go scripts. Each Run or Call gets a fresh interpreter.
type Executor struct {
	registry        *binding.Registry
	allowedPackages map[string]bool
	importPath      string
	timeout         time.Duration
	logger          *zap.Logger
}

// Option configures an Executor.
type Option func(*Executor)

// WithAllowedPackages replaces the stdlib whitelist.
func WithAllowedPackages(pkgs ...string) Option {
	return func(e *Executor) {
		e.allowedPackages = make(map[string]bool, len(pkgs))
		for _, p := range pkgs {
			e.allowedPackages[p] = true
		}
	}
}

// WithImportPath changes the path scripts import the bindings from.
func WithImportPath(p string) Option {
	return func(e *Executor) { e.importPath = p }
}

// WithTimeout bounds every run. Zero means only the caller's context applies.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Executor) { e.logger = l }
}

// NewExecutor creates an executor publishing reg to scripts.
func NewExecutor(reg *binding.Registry, opts ...Option) *Executor {
	e := &Executor{
		registry:   reg,
		importPath: binding.DefaultImportPath,
		timeout:    5 * time.Second,
		logger:     zap.NewNop(),
	}
	WithAllowedPackages(DefaultAllowedPackages...)(e)
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ImportPath returns the path scripts use to import the bindings.
func (e *Executor) ImportPath() string {
	return e.importPath
}

// Run evaluates code and returns its output.
//
// If the code defines `func Run() (string, error)`, its result is returned.
// Otherwise whatever the script printed (for example from main) is returned.
func (e *Executor) Run(ctx context.Context, code string) (string, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	i, stdout, err := e.load(ctx, code)
	if err != nil {
		return "", err
	}

	run, err := i.Eval("main.Run")
	if err != nil || !run.IsValid() {
		e.logger.Debug("No Run entry point, returning captured output", zap.Int("bytes", stdout.Len()))
		return stdout.String(), nil
	}

	if _, ok := run.Interface().(func() (string, error)); !ok {
		return "", fmt.Errorf("%w: Run must be func() (string, error), got %s", ErrEntrySignature, run.Type())
	}

	// Calling through the interpreter lets cancellation stop a runaway Run.
	res, err := i.EvalWithContext(ctx, `(func() []interface{} {
	out, err := main.Run()
	return []interface{}{out, err}
})()`)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("script execution timed out: %w", ctx.Err())
		}
		return "", fmt.Errorf("script Run failed: %w", err)
	}

	vals, ok := res.Interface().([]interface{})
	if !ok || len(vals) != 2 {
		return "", fmt.Errorf("%w: unexpected Run result %v", ErrEntrySignature, res)
	}
	if vals[1] != nil {
		if runErr, ok := vals[1].(error); ok {
			return "", runErr
		}
		return "", fmt.Errorf("%v", vals[1])
	}
	out, _ := vals[0].(string)
	return stdout.String() + out, nil
}

// Call evaluates code and then calls the interpreted function fn with n.
// fn must take and return a single signed integer.
func (e *Executor) Call(ctx context.Context, code, fn string, n int64) (int64, error) {
	ctx, cancel := e.withTimeout(ctx)
	defer cancel()

	i, _, err := e.load(ctx, code)
	if err != nil {
		return 0, err
	}

	v, err := i.Eval("main." + fn)
	if err != nil || !v.IsValid() {
		return 0, fmt.Errorf("%w: %s", ErrEntryPoint, fn)
	}
	t := v.Type()
	if t.Kind() != reflect.Func || t.NumIn() != 1 || t.NumOut() != 1 ||
		!isSignedInt(t.In(0).Kind()) || !isSignedInt(t.Out(0).Kind()) {
		return 0, fmt.Errorf("%w: %s must take and return one signed integer, got %s", ErrEntrySignature, fn, t)
	}
	if reflect.New(t.In(0)).Elem().OverflowInt(n) {
		return 0, fmt.Errorf("%w: %d does not fit %s", binding.ErrArgumentRange, n, t.In(0))
	}

	// Calling through the interpreter keeps the call cancellable.
	res, err := i.EvalWithContext(ctx, fmt.Sprintf("main.%s(%s)", fn, strconv.FormatInt(n, 10)))
	if err != nil {
		if ctx.Err() != nil {
			return 0, fmt.Errorf("script execution timed out: %w", ctx.Err())
		}
		return 0, fmt.Errorf("call %s failed: %w", fn, err)
	}
	return res.Int(), nil
}

// load validates imports, builds an interpreter and evaluates the source.
func (e *Executor) load(ctx context.Context, code string) (*interp.Interpreter, *syncBuffer, error) {
	fullCode := wrapCode(code)
	if err := e.validateImports(fullCode); err != nil {
		return nil, nil, fmt.Errorf("invalid imports: %w", err)
	}

	stdout := &syncBuffer{}
	i := interp.New(interp.Options{Stdout: stdout, Stderr: stdout})

	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if e.registry != nil {
		if err := i.Use(e.registry.Exports(e.importPath)); err != nil {
			return nil, nil, fmt.Errorf("failed to load bindings: %w", err)
		}
	}

	start := time.Now()
	if _, err := i.EvalWithContext(ctx, fullCode); err != nil {
		if ctx.Err() != nil {
			return nil, nil, fmt.Errorf("script execution timed out: %w", ctx.Err())
		}
		return nil, nil, fmt.Errorf("code evaluation failed: %w", err)
	}
	e.logger.Debug("Script evaluated", zap.Duration("elapsed", time.Since(start)))

	return i, stdout, nil
}

// validateImports checks that the code only imports allowed packages.
func (e *Executor) validateImports(code string) error {
	f, err := parser.ParseFile(token.NewFileSet(), "script.go", code, parser.ImportsOnly)
	if err != nil {
		return fmt.Errorf("parse imports: %w", err)
	}

	var forbidden []string
	for _, spec := range f.Imports {
		pkg, err := strconv.Unquote(spec.Path.Value)
		if err != nil {
			return fmt.Errorf("parse imports: %w", err)
		}
		if pkg == e.importPath || e.allowedPackages[pkg] {
			continue
		}
		forbidden = append(forbidden, pkg)
	}

	if len(forbidden) > 0 {
		return fmt.Errorf("%w: %v (allowed: %v)", ErrForbiddenImport, forbidden, e.AllowedPackages())
	}
	return nil
}

// AllowedPackages returns the sorted stdlib whitelist.
func (e *Executor) AllowedPackages() []string {
	pkgs := make([]string, 0, len(e.allowedPackages))
	for pkg := range e.allowedPackages {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

func (e *Executor) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.timeout > 0 {
		return context.WithTimeout(ctx, e.timeout)
	}
	return context.WithCancel(ctx)
}

// wrapCode wraps the script in a main package if it has no package clause.
func wrapCode(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "//") {
			continue
		}
		if strings.HasPrefix(trimmed, "package ") {
			return code
		}
		break
	}
	return "package main\n\n" + code
}

func isSignedInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

// syncBuffer is a bytes.Buffer safe for the interpreter goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
