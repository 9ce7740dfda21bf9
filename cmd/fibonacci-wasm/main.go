//go:build wasip1

// Command fibonacci-wasm builds a WASI reactor exporting fibonacci to wasm hosts:
//
//	GOOS=wasip1 GOARCH=wasm go build -buildmode=c-shared -o fibonacci.wasm ./cmd/fibonacci-wasm
//
// Load it with `fibhost wasm --module fibonacci.wasm 10`.
package main

import "fibhost/internal/fib"

//go:wasmexport fibonacci
func fibonacci(n int32) int32 {
	return fib.Fibonacci(n)
}

// main is required for the wasip1 target, even if it isn't used.
func main() {}
