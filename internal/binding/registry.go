// Package binding exposes native Go functions to host environments by name.
//
// A Registry is the Go counterpart of a binding export: every registered
// function can be called by its export name with integer arguments, and the
// same table can be handed to the embedded script engine as a yaegi symbol
// table so interpreted code reaches the native implementation directly.
package binding

import (
	"context"
	"errors"
	"fmt"
	"path"
	"reflect"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"fibhost/internal/fib"

	"github.com/google/uuid"
	"github.com/traefik/yaegi/interp"
	"go.uber.org/zap"
)

// DefaultImportPath is the import path under which exports are visible to
// interpreted scripts.
const DefaultImportPath = "fibhost/bindings"

var (
	ErrInvalidName      = errors.New("invalid export name")
	ErrInvalidSignature = errors.New("invalid export signature")
	ErrUnknownFunction  = errors.New("unknown function")
	ErrArity            = errors.New("wrong number of arguments")
	ErrArgumentRange    = errors.New("argument out of range")
)

var validName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Export describes a registered function.
type Export struct {
	Name      string `json:"name"`      // host-visible name, e.g. "fibonacci"
	Symbol    string `json:"symbol"`    // Go identifier used by scripts, e.g. "Fibonacci"
	Signature string `json:"signature"` // e.g. "func(int32) int32"
	Arity     int    `json:"arity"`

	fn reflect.Value
}

// Invocation is reported to observers after every Call.
type Invocation struct {
	ID        string
	Name      string
	Args      []int64
	Result    int64
	Err       error
	StartedAt time.Time
	Duration  time.Duration
}

// Registry maps export names to native functions. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	exports   map[string]*Export
	observers []func(Invocation)
	logger    *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		exports: make(map[string]*Export),
		logger:  logger,
	}
}

// Default returns a registry with fibonacci bound to fib.Fibonacci.
func Default(logger *zap.Logger) *Registry {
	r := NewRegistry(logger)
	if err := r.Register("fibonacci", fib.Fibonacci); err != nil {
		// fib.Fibonacci always has a valid signature
		panic(err)
	}
	return r
}

// Register binds fn under name. fn must be a non-variadic func whose
// parameters and single result are signed integer types.
func (r *Registry) Register(name string, fn any) error {
	if !validName.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	v := reflect.ValueOf(fn)
	if err := checkSignature(v); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.exports[name]; exists {
		return fmt.Errorf("%w: %q already registered", ErrInvalidName, name)
	}
	symbol := symbolName(name)
	for _, e := range r.exports {
		if e.Symbol == symbol {
			return fmt.Errorf("%w: %q collides with %q as %s", ErrInvalidName, name, e.Name, symbol)
		}
	}
	r.exports[name] = &Export{
		Name:      name,
		Symbol:    symbol,
		Signature: v.Type().String(),
		Arity:     v.Type().NumIn(),
		fn:        v,
	}
	r.logger.Debug("Registered export", zap.String("name", name), zap.String("signature", v.Type().String()))
	return nil
}

func checkSignature(v reflect.Value) error {
	if !v.IsValid() || v.Kind() != reflect.Func || v.IsNil() {
		return fmt.Errorf("%w: not a function", ErrInvalidSignature)
	}
	t := v.Type()
	if t.IsVariadic() {
		return fmt.Errorf("%w: variadic functions are not supported", ErrInvalidSignature)
	}
	if t.NumOut() != 1 {
		return fmt.Errorf("%w: want exactly one result, got %d", ErrInvalidSignature, t.NumOut())
	}
	for i := 0; i < t.NumIn(); i++ {
		if !isSignedInt(t.In(i).Kind()) {
			return fmt.Errorf("%w: parameter %d is %s", ErrInvalidSignature, i, t.In(i))
		}
	}
	if !isSignedInt(t.Out(0).Kind()) {
		return fmt.Errorf("%w: result is %s", ErrInvalidSignature, t.Out(0))
	}
	return nil
}

func isSignedInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

// symbolName turns an export name into an exported Go identifier:
// "fibonacci" -> "Fibonacci", "naive_fib" -> "NaiveFib".
func symbolName(name string) string {
	var b strings.Builder
	for _, part := range strings.Split(name, "_") {
		if part == "" {
			continue
		}
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	if b.Len() == 0 {
		return "X" + name
	}
	return b.String()
}

// OnCall registers an observer notified after every Call.
func (r *Registry) OnCall(fn func(Invocation)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, fn)
}

// Lookup returns the export registered under name.
func (r *Registry) Lookup(name string) (Export, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.exports[name]
	if !ok {
		return Export{}, false
	}
	return *e, true
}

// List returns all exports sorted by name.
func (r *Registry) List() []Export {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Export, 0, len(r.exports))
	for _, e := range r.exports {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call invokes the export registered under name.
func (r *Registry) Call(ctx context.Context, name string, args ...int64) (int64, error) {
	inv := Invocation{
		ID:        uuid.New().String(),
		Name:      name,
		Args:      append([]int64(nil), args...),
		StartedAt: time.Now(),
	}

	inv.Result, inv.Err = r.call(ctx, name, args)
	inv.Duration = time.Since(inv.StartedAt)

	if inv.Err != nil {
		r.logger.Debug("Call failed", zap.String("name", name), zap.Int64s("args", args), zap.Error(inv.Err))
	} else {
		r.logger.Debug("Call completed",
			zap.String("name", name),
			zap.Int64s("args", args),
			zap.Int64("result", inv.Result),
			zap.Duration("duration", inv.Duration))
	}

	r.mu.RLock()
	observers := append([]func(Invocation){}, r.observers...)
	r.mu.RUnlock()
	for _, obs := range observers {
		obs(inv)
	}

	return inv.Result, inv.Err
}

func (r *Registry) call(ctx context.Context, name string, args []int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	e, ok := r.Lookup(name)
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownFunction, name)
	}
	if len(args) != e.Arity {
		return 0, fmt.Errorf("%w: %s takes %d, got %d", ErrArity, name, e.Arity, len(args))
	}

	t := e.fn.Type()
	in := make([]reflect.Value, len(args))
	for i, a := range args {
		v := reflect.New(t.In(i)).Elem()
		if v.OverflowInt(a) {
			return 0, fmt.Errorf("%w: argument %d (%d) does not fit %s", ErrArgumentRange, i, a, t.In(i))
		}
		v.SetInt(a)
		in[i] = v
	}

	return e.fn.Call(in)[0].Int(), nil
}

// Exports builds a yaegi symbol table publishing every export under
// importPath. Scripts then `import "<importPath>"` and call the Go-cased
// symbol, e.g. bindings.Fibonacci(10).
func (r *Registry) Exports(importPath string) interp.Exports {
	if importPath == "" {
		importPath = DefaultImportPath
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	symbols := make(map[string]reflect.Value, len(r.exports))
	for _, e := range r.exports {
		symbols[e.Symbol] = e.fn
	}
	return interp.Exports{
		importPath + "/" + path.Base(importPath): symbols,
	}
}
