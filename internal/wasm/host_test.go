package wasm

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReferenceHost(t *testing.T) *Host {
	t.Helper()
	ctx := context.Background()
	h, err := NewHost(ctx, nil, Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close(ctx) })
	return h
}

func TestReferenceModule_Fibonacci(t *testing.T) {
	h := newReferenceHost(t)
	ctx := context.Background()

	tests := []struct {
		n    int32
		want int32
	}{
		{0, 0}, {1, 1}, {2, 1}, {3, 2}, {4, 3}, {5, 5}, {10, 55}, {20, 6765},
		{-1, -1}, {-5, -5}, {math.MinInt32, math.MinInt32},
	}
	for _, tt := range tests {
		got, err := h.Call(ctx, "fibonacci", tt.n)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "fibonacci(%d)", tt.n)
	}
}

func TestReferenceModule_Recurrence(t *testing.T) {
	h := newReferenceHost(t)
	ctx := context.Background()

	prev2, err := h.Call(ctx, "", 0)
	require.NoError(t, err)
	prev1, err := h.Call(ctx, "", 1)
	require.NoError(t, err)
	for n := int32(2); n <= 20; n++ {
		got, err := h.Call(ctx, "", n)
		require.NoError(t, err)
		assert.Equal(t, prev1+prev2, got, "n=%d", n)
		prev2, prev1 = prev1, got
	}
}

func TestHost_Exports(t *testing.T) {
	h := newReferenceHost(t)
	assert.Equal(t, []string{"fibonacci"}, h.Exports())
}

func TestHost_UnknownExport(t *testing.T) {
	h := newReferenceHost(t)

	_, err := h.Call(context.Background(), "naive_fib", 3)
	assert.ErrorIs(t, err, ErrExportNotFound)
}

// A deep call chain traps inside the guest instead of crashing the host.
func TestHost_StackExhaustionIsAnError(t *testing.T) {
	h := newReferenceHost(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := h.Call(ctx, "fibonacci", math.MaxInt32)
	assert.Error(t, err)
}

func TestHost_InvalidModule(t *testing.T) {
	_, err := NewHost(context.Background(), []byte("not wasm"), Config{})
	assert.Error(t, err)
}

func TestHost_CallAfterClose(t *testing.T) {
	ctx := context.Background()
	h, err := NewHost(ctx, ReferenceModule, Config{MemoryLimitPages: 16})
	require.NoError(t, err)
	require.NoError(t, h.Close(ctx))
	require.NoError(t, h.Close(ctx))

	_, err = h.Call(ctx, "fibonacci", 5)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestHost_WrongSignature(t *testing.T) {
	// Same layout as ReferenceModule but the export is (i32, i32) -> i32
	// returning its first argument.
	module := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
		0x03, 0x02, 0x01, 0x00,
		0x07, 0x07, 0x01, 0x03, 'a', 'd', 'd', 0x00, 0x00,
		0x0a, 0x06, 0x01, 0x04, 0x00, 0x20, 0x00, 0x0b,
	}
	ctx := context.Background()
	h, err := NewHost(ctx, module, Config{})
	require.NoError(t, err)
	defer h.Close(ctx)

	_, err = h.Call(ctx, "add", 1)
	assert.ErrorIs(t, err, ErrExportSignature)
}
