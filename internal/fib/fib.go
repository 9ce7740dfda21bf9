// Package fib computes Fibonacci numbers by plain recursion.
//
// The convention is F(0) = 0, F(1) = 1 and F(n) = F(n-1) + F(n-2) for n > 1.
// Evaluation is exponential in n and nothing is cached between calls.
package fib

// MaxExactIndex is the largest n for which Fibonacci(n) fits in an int32.
// Past this index the sum wraps around silently.
const MaxExactIndex = 46

// Fibonacci returns the nth Fibonacci number.
//
// Any n <= 1 is returned unchanged, so negative inputs come back as
// themselves (Fibonacci(-5) == -5).
func Fibonacci(n int32) int32 {
	if n <= 1 {
		return n
	}
	return Fibonacci(n-1) + Fibonacci(n-2)
}
