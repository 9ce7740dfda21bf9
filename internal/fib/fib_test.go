package fib

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFibonacci_BaseCases(t *testing.T) {
	for _, n := range []int32{0, 1} {
		assert.Equal(t, n, Fibonacci(n), "F(%d)", n)
	}
}

func TestFibonacci_KnownValues(t *testing.T) {
	tests := []struct {
		n    int32
		want int32
	}{
		{2, 1},
		{3, 2},
		{4, 3},
		{5, 5},
		{6, 8},
		{10, 55},
		{20, 6765},
	}

	for _, tt := range tests {
		if got := Fibonacci(tt.n); got != tt.want {
			t.Errorf("Fibonacci(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}

func TestFibonacci_Recurrence(t *testing.T) {
	for n := int32(2); n <= 20; n++ {
		assert.Equal(t, Fibonacci(n-1)+Fibonacci(n-2), Fibonacci(n), "recurrence at n=%d", n)
	}
}

// Negative inputs fall through the n <= 1 branch and are returned as-is.
func TestFibonacci_NegativePassThrough(t *testing.T) {
	for _, n := range []int32{-1, -5, -100, math.MinInt32} {
		assert.Equal(t, n, Fibonacci(n))
	}
}

// The crossover is checked against a 64-bit sequence instead of evaluating
// the recursion near index 46, which would take minutes.
func TestMaxExactIndex(t *testing.T) {
	var a, b int64 = 0, 1
	for i := 0; i < MaxExactIndex; i++ {
		a, b = b, a+b
	}
	assert.LessOrEqual(t, a, int64(math.MaxInt32), "F(%d) should fit in int32", MaxExactIndex)
	assert.Greater(t, b, int64(math.MaxInt32), "F(%d) should overflow int32", MaxExactIndex+1)
}

func BenchmarkFibonacci20(b *testing.B) {
	for i := 0; i < b.N; i++ {
		Fibonacci(20)
	}
}
